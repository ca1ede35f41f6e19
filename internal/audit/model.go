package audit

import (
	"time"

	"github.com/veritas-hq/veritas/internal/rbac"
)

// Action enumerates the lifecycle and decision verbs recorded in the trail.
type Action string

const (
	ActionPermissionGranted Action = "permission_granted"
	ActionPermissionDenied  Action = "permission_denied"
	ActionRoleAssigned      Action = "role_assigned"
	ActionRoleRevoked       Action = "role_revoked"
	ActionRoleCreated       Action = "role_created"
	ActionRoleUpdated       Action = "role_updated"
	ActionRoleDeleted       Action = "role_deleted"
)

// Weight returns the risk weight of the action. Denials and deletions carry
// the most risk; routine checks barely register.
func (a Action) Weight() float64 {
	switch a {
	case ActionPermissionGranted:
		return 0.1
	case ActionRoleAssigned:
		return 0.5
	case ActionRoleUpdated:
		return 0.8
	case ActionRoleCreated:
		return 1.0
	case ActionRoleRevoked:
		return 1.5
	case ActionPermissionDenied:
		return 2.0
	case ActionRoleDeleted:
		return 3.0
	}
	return 0.5
}

// failureMultiplier inflates the weight of unsuccessful events.
const failureMultiplier = 3.0

// Entry is one immutable record in the append-only trail. The engine never
// mutates or deletes entries; retention is an external concern.
type Entry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	UserID    string        `json:"user_id"`
	Action    Action        `json:"action"`
	Resource  rbac.Resource `json:"resource"`
	Success   bool          `json:"success"`
	Reason    string        `json:"reason,omitempty"`
	IPAddress string        `json:"ip_address,omitempty"`
	UserAgent string        `json:"user_agent,omitempty"`
}

// Filters narrows trail queries. Zero values mean "any".
type Filters struct {
	UserID   string
	Resource rbac.Resource
	Action   Action
	Success  *bool
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// PagingInfo carries pagination metadata for trail queries.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result wraps a page of entries with paging information.
type Result struct {
	Entries []Entry
	Paging  PagingInfo
}
