package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// RoleDirectory resolves a role's effective permission set, inheritance
// chain included.
type RoleDirectory interface {
	EffectivePermissions(ctx context.Context, roleID string) (PermissionSet, error)
}

// AssignmentSource lists a user's currently effective assignments.
type AssignmentSource interface {
	ActiveForUser(ctx context.Context, userID string) ([]Assignment, error)
}

// Decision captures the outcome of a single permission check.
type Decision struct {
	UserID     string   `json:"user_id"`
	Resource   Resource `json:"resource"`
	Action     Action   `json:"action"`
	Scope      Scope    `json:"scope"`
	ScopeValue string   `json:"scope_value,omitempty"`
	Allowed    bool     `json:"allowed"`
	Reason     string   `json:"reason,omitempty"`
}

// DecisionRecorder appends a permission-check decision to the audit trail.
// Every call to HasPermission produces exactly one recorded decision.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, d Decision) error
}

// CheckRequest describes a permission question.
type CheckRequest struct {
	UserID     string
	Resource   Resource
	Action     Action
	Scope      Scope
	ScopeValue string
}

// Grant is the flattened projection of one effective assignment: the scope it
// covers plus the bound role's effective permissions. Grants are what the
// resolver caches between mutations. ValidUntil carries the source
// assignment's deadline so a cached snapshot cannot keep granting past it.
type Grant struct {
	RoleID      string       `json:"role_id"`
	Scope       Scope        `json:"scope"`
	ScopeValues []string     `json:"scope_values,omitempty"`
	ValidUntil  *time.Time   `json:"valid_until,omitempty"`
	Permissions []Permission `json:"permissions"`
}

// Expired reports whether the grant's deadline has elapsed.
func (g Grant) Expired(now time.Time) bool {
	return g.ValidUntil != nil && g.ValidUntil.Before(now)
}

// Matches reports whether the grant covers a request in the given scope.
func (g Grant) Matches(scope Scope, value string) bool {
	if g.Scope != scope {
		return false
	}
	if len(g.ScopeValues) == 0 {
		return true
	}
	for _, v := range g.ScopeValues {
		if v == value {
			return true
		}
	}
	return false
}

// Service is the permission resolver. It is explicitly constructed and
// injected; consumers never share ambient global state.
type Service struct {
	roles       RoleDirectory
	assignments AssignmentSource
	recorder    DecisionRecorder
	cache       *SnapshotCache
	logger      *slog.Logger
	now         func() time.Time
}

// NewService wires the resolver with its collaborators. The cache may be nil,
// in which case every resolution rebuilds from the stores.
func NewService(roles RoleDirectory, assignments AssignmentSource, recorder DecisionRecorder, cache *SnapshotCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		roles:       roles,
		assignments: assignments,
		recorder:    recorder,
		cache:       cache,
		logger:      logger,
		now:         time.Now,
	}
}

// HasPermission decides whether the user may perform action on resource in
// the requested scope. Absence of a granting permission is denial; any
// resolution error also denies (fail closed). Exactly one audit decision is
// recorded per call, and a failure to record is itself a denial.
func (s *Service) HasPermission(ctx context.Context, req CheckRequest) (bool, error) {
	if req.Scope == "" {
		req.Scope = ScopeOrganization
	}
	if !req.Resource.Valid() || !req.Action.Valid() || !req.Scope.Valid() {
		err := fmt.Errorf("rbac: invalid check request %s:%s:%s", req.Resource, req.Action, req.Scope)
		return false, s.deny(ctx, req, err.Error(), err)
	}
	grants, err := s.Grants(ctx, req.UserID)
	if err != nil {
		return false, s.deny(ctx, req, err.Error(), err)
	}
	allowed, via := decide(grants, req)
	decision := Decision{
		UserID:     req.UserID,
		Resource:   req.Resource,
		Action:     req.Action,
		Scope:      req.Scope,
		ScopeValue: req.ScopeValue,
		Allowed:    allowed,
	}
	if allowed {
		decision.Reason = "granted via role " + via
	} else {
		decision.Reason = "no effective assignment grants this permission"
	}
	if err := s.recorder.RecordDecision(ctx, decision); err != nil {
		s.logger.Error("record permission decision", slog.Any("error", err))
		return false, fmt.Errorf("rbac: record decision: %w", err)
	}
	return allowed, nil
}

// deny records a fail-closed denial carrying the underlying error as the
// reason, then propagates the original error.
func (s *Service) deny(ctx context.Context, req CheckRequest, reason string, cause error) error {
	decision := Decision{
		UserID:     req.UserID,
		Resource:   req.Resource,
		Action:     req.Action,
		Scope:      req.Scope,
		ScopeValue: req.ScopeValue,
		Allowed:    false,
		Reason:     reason,
	}
	if err := s.recorder.RecordDecision(ctx, decision); err != nil {
		s.logger.Error("record fail-closed denial", slog.Any("error", err))
	}
	return cause
}

// UserEffectivePermissions returns the union of the user's effective
// assignments' role permission sets, used by callers for capability gating.
// It is a query, not a decision, and is not audited.
func (s *Service) UserEffectivePermissions(ctx context.Context, userID string) (PermissionSet, error) {
	grants, err := s.Grants(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(PermissionSet)
	for _, g := range grants {
		set.Union(NewPermissionSet(g.Permissions...))
	}
	return set, nil
}

// Grants returns the user's flattened effective grants, served from the
// versioned cache when one is configured. Completed role or assignment
// mutations bump the cache version, so no stale decision outlives a write.
// Deadlines are re-checked on every read: a snapshot built before an
// assignment expired must stop granting the moment the deadline passes,
// without waiting for a bump or the TTL.
func (s *Service) Grants(ctx context.Context, userID string) ([]Grant, error) {
	loader := func(ctx context.Context) ([]Grant, error) {
		return s.buildGrants(ctx, userID)
	}
	if s.cache == nil {
		grants, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return liveGrants(grants, s.now()), nil
	}
	key, err := s.cache.BuildKey(ctx, "rbac", "grants", userID)
	if err != nil {
		return nil, err
	}
	var grants []Grant
	if err := s.cache.FetchJSON(ctx, key, &grants, loader); err != nil {
		return nil, err
	}
	return liveGrants(grants, s.now()), nil
}

// liveGrants drops grants whose deadline has elapsed since the snapshot was
// built. The slice is freshly decoded or built per call, so filtering in
// place is safe.
func liveGrants(grants []Grant, now time.Time) []Grant {
	live := grants[:0]
	for _, g := range grants {
		if g.Expired(now) {
			continue
		}
		live = append(live, g)
	}
	return live
}

func (s *Service) buildGrants(ctx context.Context, userID string) ([]Grant, error) {
	active, err := s.assignments.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: load assignments: %w", err)
	}
	now := s.now()
	grants := make([]Grant, 0, len(active))
	for _, a := range active {
		if !a.IsEffective(now) {
			continue
		}
		perms, err := s.roles.EffectivePermissions(ctx, a.RoleID)
		if err != nil {
			return nil, fmt.Errorf("rbac: resolve role %s: %w", a.RoleID, err)
		}
		grants = append(grants, Grant{
			RoleID:      a.RoleID,
			Scope:       a.Scope,
			ScopeValues: a.ScopeValues,
			ValidUntil:  a.ValidUntil,
			Permissions: perms.List(),
		})
	}
	return grants, nil
}

// decide tests the request against each scope-matching grant. A permission
// matches when resource and action agree and its scope is either the
// requested scope or organization-wide.
func decide(grants []Grant, req CheckRequest) (bool, string) {
	for _, g := range grants {
		if !g.Matches(req.Scope, req.ScopeValue) {
			continue
		}
		for _, p := range g.Permissions {
			if p.Resource != req.Resource || p.Action != req.Action {
				continue
			}
			if p.Scope == req.Scope || p.Scope == ScopeOrganization {
				return true, g.RoleID
			}
		}
	}
	return false, ""
}
