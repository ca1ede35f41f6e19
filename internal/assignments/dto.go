package assignments

import "time"

type AssignRequest struct {
	UserID      string     `json:"user_id" validate:"required"`
	RoleID      string     `json:"role_id" validate:"required"`
	Scope       string     `json:"scope" validate:"required"`
	ScopeValues []string   `json:"scope_values,omitempty"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
	Reason      string     `json:"reason,omitempty" validate:"max=500"`
}

type RevokeRequest struct {
	UserID string `json:"user_id" validate:"required"`
	RoleID string `json:"role_id" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type BulkAssignRequest struct {
	Items []AssignRequest `json:"items" validate:"required,min=1,dive"`
}

type BulkRevokeRequest struct {
	Items []RevokeRequest `json:"items" validate:"required,min=1,dive"`
}

// BulkResult reports the outcome for one target of a bulk operation. Bulk
// operations are partial-failure tolerant: one failing target never rolls
// back the others.
type BulkResult struct {
	Index        int    `json:"index"`
	UserID       string `json:"user_id"`
	RoleID       string `json:"role_id"`
	AssignmentID string `json:"assignment_id,omitempty"`
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
}

type ListAssignmentsRequest struct {
	UserID     *string `json:"user_id,omitempty"`
	RoleID     *string `json:"role_id,omitempty"`
	Scope      *string `json:"scope,omitempty"`
	ActiveOnly bool    `json:"active_only,omitempty"`
	Limit      int     `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int     `json:"offset" validate:"gte=0"`
}

// ImportRowResult reports the outcome for one CSV row.
type ImportRowResult struct {
	Line         int    `json:"line"`
	UserID       string `json:"user_id,omitempty"`
	RoleID       string `json:"role_id,omitempty"`
	AssignmentID string `json:"assignment_id,omitempty"`
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
}
