package rbac

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Resource identifies a protected entity class.
type Resource string

const (
	ResourceUsers       Resource = "users"
	ResourceRoles       Resource = "roles"
	ResourcePermissions Resource = "permissions"
	ResourceAssignments Resource = "assignments"
	ResourceAudit       Resource = "audit"
	ResourceTasks       Resource = "tasks"
	ResourceDocuments   Resource = "documents"
	ResourceEmployees   Resource = "employees"
	ResourceVendors     Resource = "vendors"
	ResourceAssets      Resource = "assets"
	ResourceReports     Resource = "reports"
	ResourceSettings    Resource = "settings"
)

// Resources lists every known resource.
func Resources() []Resource {
	return []Resource{
		ResourceUsers, ResourceRoles, ResourcePermissions, ResourceAssignments,
		ResourceAudit, ResourceTasks, ResourceDocuments, ResourceEmployees,
		ResourceVendors, ResourceAssets, ResourceReports, ResourceSettings,
	}
}

// Valid reports whether the resource is one of the known values.
func (r Resource) Valid() bool {
	for _, known := range Resources() {
		if r == known {
			return true
		}
	}
	return false
}

// Action identifies an operation performed against a resource.
type Action string

const (
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionApprove Action = "approve"
	ActionExport  Action = "export"
	ActionImport  Action = "import"
)

// Actions lists every known action.
func Actions() []Action {
	return []Action{
		ActionRead, ActionCreate, ActionUpdate, ActionDelete,
		ActionApprove, ActionExport, ActionImport,
	}
}

// Valid reports whether the action is one of the known values.
func (a Action) Valid() bool {
	for _, known := range Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// Scope bounds the breadth at which a permission or assignment applies.
type Scope string

const (
	ScopeOrganization Scope = "organization"
	ScopeDepartment   Scope = "department"
	ScopeProject      Scope = "project"
	ScopePersonal     Scope = "personal"
)

// Scopes lists every known scope, widest first.
func Scopes() []Scope {
	return []Scope{ScopeOrganization, ScopeDepartment, ScopeProject, ScopePersonal}
}

// Valid reports whether the scope is one of the known values.
func (s Scope) Valid() bool {
	switch s {
	case ScopeOrganization, ScopeDepartment, ScopeProject, ScopePersonal:
		return true
	}
	return false
}

// Permission is an atomic (resource, action, scope) capability. It is a
// comparable value type; sets of permissions use structural equality.
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
	Scope    Scope    `json:"scope"`
}

// String renders the permission as "resource:action:scope".
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action) + ":" + string(p.Scope)
}

// Valid reports whether every component of the permission is known.
func (p Permission) Valid() bool {
	return p.Resource.Valid() && p.Action.Valid() && p.Scope.Valid()
}

// ParsePermission parses "resource:action:scope". The scope segment may be
// omitted, in which case the permission applies organization-wide.
func ParsePermission(s string) (Permission, error) {
	parts := strings.Split(strings.TrimSpace(strings.ToLower(s)), ":")
	var p Permission
	switch len(parts) {
	case 2:
		p = Permission{Resource: Resource(parts[0]), Action: Action(parts[1]), Scope: ScopeOrganization}
	case 3:
		p = Permission{Resource: Resource(parts[0]), Action: Action(parts[1]), Scope: Scope(parts[2])}
	default:
		return Permission{}, fmt.Errorf("rbac: malformed permission %q", s)
	}
	if !p.Valid() {
		return Permission{}, fmt.Errorf("rbac: unknown permission %q", s)
	}
	return p, nil
}

// PermissionSet is a value-equality set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Add inserts a permission into the set.
func (s PermissionSet) Add(p Permission) { s[p] = struct{}{} }

// Has reports set membership.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Union merges other into s.
func (s PermissionSet) Union(other PermissionSet) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// List returns the permissions in deterministic order.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Role is a named bundle of permissions with optional single-parent
// inheritance. Lower level means more privileged; a child must sit strictly
// below every ancestor.
type Role struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	DisplayName  string       `json:"display_name"`
	Description  string       `json:"description,omitempty"`
	Level        int          `json:"level"`
	Permissions  []Permission `json:"permissions"`
	InheritsFrom *string      `json:"inherits_from,omitempty"`
	IsSystem     bool         `json:"is_system"`
	CreatedBy    string       `json:"created_by"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// PermissionSet returns the role's own permissions as a set, inheritance
// excluded.
func (r Role) PermissionSet() PermissionSet {
	return NewPermissionSet(r.Permissions...)
}

// Assignment binds a user to a role within a scope, optionally until a
// deadline. Revocation flips IsActive; rows are never deleted so the full
// history stays reconstructible from the assignment set alone.
type Assignment struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	RoleID      string     `json:"role_id"`
	Scope       Scope      `json:"scope"`
	ScopeValues []string   `json:"scope_values,omitempty"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
	AssignedAt  time.Time  `json:"assigned_at"`
	AssignedBy  string     `json:"assigned_by"`
	Reason      string     `json:"reason,omitempty"`
	IsActive    bool       `json:"is_active"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	RevokedBy   string     `json:"revoked_by,omitempty"`
}

// IsExpired reports whether the assignment has a deadline in the past.
func (a Assignment) IsExpired(now time.Time) bool {
	return a.ValidUntil != nil && a.ValidUntil.Before(now)
}

// IsEffective reports whether the assignment currently grants anything.
// Both predicates are required: an explicit revocation and an elapsed
// deadline each disqualify the assignment on their own.
func (a Assignment) IsEffective(now time.Time) bool {
	return a.IsActive && !a.IsExpired(now)
}

// MatchesScope reports whether the assignment applies to a request in the
// given scope. An empty scope-value list means unrestricted within the
// assignment's scope kind.
func (a Assignment) MatchesScope(scope Scope, value string) bool {
	if a.Scope != scope {
		return false
	}
	if len(a.ScopeValues) == 0 {
		return true
	}
	for _, v := range a.ScopeValues {
		if v == value {
			return true
		}
	}
	return false
}
