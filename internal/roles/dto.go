package roles

import (
	"time"

	"github.com/veritas-hq/veritas/internal/rbac"
)

type CreateRoleRequest struct {
	Name         string            `json:"name" validate:"required,max=100"`
	DisplayName  string            `json:"display_name" validate:"required,max=200"`
	Description  string            `json:"description,omitempty" validate:"max=1000"`
	Level        int               `json:"level" validate:"required,gte=1"`
	Permissions  []rbac.Permission `json:"permissions" validate:"dive"`
	InheritsFrom *string           `json:"inherits_from,omitempty"`
}

// UpdateRoleRequest replaces the whole record. UpdatedAt carries the token
// for the optimistic concurrency check: the update only applies when the
// stored record still has that timestamp.
type UpdateRoleRequest struct {
	Name         string            `json:"name" validate:"required,max=100"`
	DisplayName  string            `json:"display_name" validate:"required,max=200"`
	Description  string            `json:"description,omitempty" validate:"max=1000"`
	Level        int               `json:"level" validate:"required,gte=1"`
	Permissions  []rbac.Permission `json:"permissions" validate:"dive"`
	InheritsFrom *string           `json:"inherits_from,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at" validate:"required"`
}

type ListRolesRequest struct {
	Search   *string `json:"search,omitempty"`
	IsSystem *bool   `json:"is_system,omitempty"`
	Limit    int     `json:"limit" validate:"gte=0,lte=1000"`
	Offset   int     `json:"offset" validate:"gte=0"`
}
