package assignments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veritas-hq/veritas/internal/audit"
	"github.com/veritas-hq/veritas/internal/platform/httpx"
	"github.com/veritas-hq/veritas/internal/rbac"
)

var (
	ErrNotFound     = fmt.Errorf("%w: assignment", httpx.ErrNotFound)
	ErrRoleNotFound = fmt.Errorf("%w: assigned role", httpx.ErrNotFound)
	ErrInvalidScope = fmt.Errorf("%w: assignment scope", httpx.ErrValidation)
	ErrAlreadyHeld  = fmt.Errorf("%w: user already holds this role in scope", httpx.ErrDuplicate)
)

// Repository persists assignments. Rows are never deleted; revocation and
// expiry both flip is_active so history stays reconstructible.
type Repository interface {
	Get(ctx context.Context, id string) (*rbac.Assignment, error)
	Create(ctx context.Context, a rbac.Assignment) error
	Deactivate(ctx context.Context, id string, revokedAt time.Time, revokedBy, reason string) error
	ListByUser(ctx context.Context, userID string, activeOnly bool) ([]rbac.Assignment, error)
	List(ctx context.Context, req ListAssignmentsRequest) ([]rbac.Assignment, int, error)
	ActiveByUserAndRole(ctx context.Context, userID, roleID string) ([]rbac.Assignment, error)
	ExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]rbac.Assignment, error)
}

// RoleChecker answers whether a role id refers to an existing role.
type RoleChecker interface {
	Exists(ctx context.Context, roleID string) (bool, error)
}

// Invalidator retires cached resolver snapshots after a successful write.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service owns the assignment lifecycle: grants, revocations, bulk
// operations, CSV import, and the expiry sweep.
type Service struct {
	repo     Repository
	roles    RoleChecker
	recorder audit.Recorder
	cache    Invalidator
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the assignment service.
func NewService(repo Repository, roles RoleChecker, recorder audit.Recorder, cache Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		roles:    roles,
		recorder: recorder,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
	}
}

// Assign grants a role to a user within a scope. The role must exist, the
// scope must be a known scope kind, and a duplicate effective grant of the
// same role in the same scope is rejected.
func (s *Service) Assign(ctx context.Context, req AssignRequest, assignedBy string) (*rbac.Assignment, error) {
	scope := rbac.Scope(strings.ToLower(strings.TrimSpace(req.Scope)))
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, req.Scope)
	}
	now := s.now().UTC()
	if req.ValidUntil != nil && !req.ValidUntil.After(now) {
		return nil, fmt.Errorf("%w: valid_until must lie in the future", httpx.ErrValidation)
	}
	ok, err := s.roles.Exists(ctx, req.RoleID)
	if err != nil {
		return nil, fmt.Errorf("check role: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, req.RoleID)
	}

	existing, err := s.repo.ActiveByUserAndRole(ctx, req.UserID, req.RoleID)
	if err != nil {
		return nil, fmt.Errorf("check existing assignments: %w", err)
	}
	for _, a := range existing {
		if a.IsEffective(now) && a.Scope == scope && sameValues(a.ScopeValues, req.ScopeValues) {
			return nil, ErrAlreadyHeld
		}
	}

	assignment := rbac.Assignment{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		RoleID:      req.RoleID,
		Scope:       scope,
		ScopeValues: req.ScopeValues,
		ValidUntil:  req.ValidUntil,
		AssignedAt:  now,
		AssignedBy:  assignedBy,
		Reason:      strings.TrimSpace(req.Reason),
		IsActive:    true,
	}
	if err := s.repo.Create(ctx, assignment); err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	s.afterWrite(ctx, assignedBy, audit.ActionRoleAssigned, true,
		fmt.Sprintf("assigned role %s to user %s (%s)", req.RoleID, req.UserID, scope))
	return &assignment, nil
}

// Revoke deactivates every effective assignment of the role held by the
// user. It reports ErrNotFound when the user holds no such assignment.
func (s *Service) Revoke(ctx context.Context, req RevokeRequest, revokedBy string) error {
	now := s.now().UTC()
	existing, err := s.repo.ActiveByUserAndRole(ctx, req.UserID, req.RoleID)
	if err != nil {
		return fmt.Errorf("load assignments: %w", err)
	}
	revoked := 0
	for _, a := range existing {
		if !a.IsEffective(now) {
			continue
		}
		if err := s.repo.Deactivate(ctx, a.ID, now, revokedBy, strings.TrimSpace(req.Reason)); err != nil {
			return fmt.Errorf("deactivate assignment %s: %w", a.ID, err)
		}
		revoked++
	}
	if revoked == 0 {
		return ErrNotFound
	}
	s.afterWrite(ctx, revokedBy, audit.ActionRoleRevoked, true,
		fmt.Sprintf("revoked role %s from user %s", req.RoleID, req.UserID))
	return nil
}

// RevokeByID deactivates a single assignment by its id.
func (s *Service) RevokeByID(ctx context.Context, id, reason, revokedBy string) error {
	now := s.now().UTC()
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !a.IsActive {
		return ErrNotFound
	}
	if err := s.repo.Deactivate(ctx, a.ID, now, revokedBy, strings.TrimSpace(reason)); err != nil {
		return fmt.Errorf("deactivate assignment %s: %w", a.ID, err)
	}
	s.afterWrite(ctx, revokedBy, audit.ActionRoleRevoked, true,
		fmt.Sprintf("revoked role %s from user %s", a.RoleID, a.UserID))
	return nil
}

// BulkAssign processes targets in order, tolerating per-target failures.
// Cancellation stops the loop; results already produced are returned.
func (s *Service) BulkAssign(ctx context.Context, items []AssignRequest, assignedBy string) ([]BulkResult, error) {
	results := make([]BulkResult, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := BulkResult{Index: i, UserID: item.UserID, RoleID: item.RoleID}
		assignment, err := s.Assign(ctx, item, assignedBy)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.OK = true
			res.AssignmentID = assignment.ID
		}
		results = append(results, res)
	}
	return results, nil
}

// BulkRevoke processes targets in order, tolerating per-target failures.
func (s *Service) BulkRevoke(ctx context.Context, items []RevokeRequest, revokedBy string) ([]BulkResult, error) {
	results := make([]BulkResult, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := BulkResult{Index: i, UserID: item.UserID, RoleID: item.RoleID}
		if err := s.Revoke(ctx, item, revokedBy); err != nil {
			res.Error = err.Error()
		} else {
			res.OK = true
		}
		results = append(results, res)
	}
	return results, nil
}

// Get returns one assignment by id.
func (s *Service) Get(ctx context.Context, id string) (*rbac.Assignment, error) {
	return s.repo.Get(ctx, id)
}

// List returns assignments matching the filter plus the unpaged total.
func (s *Service) List(ctx context.Context, req ListAssignmentsRequest) ([]rbac.Assignment, int, error) {
	if req.Limit <= 0 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

// ActiveForUser returns the user's currently effective assignments. It
// implements the resolver's AssignmentSource contract.
func (s *Service) ActiveForUser(ctx context.Context, userID string) ([]rbac.Assignment, error) {
	rows, err := s.repo.ListByUser(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	effective := rows[:0]
	for _, a := range rows {
		if a.IsEffective(now) {
			effective = append(effective, a)
		}
	}
	return effective, nil
}

// ExpireSweep deactivates active assignments whose deadline has elapsed.
// It is idempotent: an already swept assignment no longer matches. The
// number of swept assignments is returned.
func (s *Service) ExpireSweep(ctx context.Context, limit int) (int, error) {
	now := s.now().UTC()
	expired, err := s.repo.ExpiredActive(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("load expired assignments: %w", err)
	}
	swept := 0
	for _, a := range expired {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		if err := s.repo.Deactivate(ctx, a.ID, now, "system", "assignment expired"); err != nil {
			s.logger.Error("sweep assignment", slog.Any("error", err), slog.String("assignment_id", a.ID))
			continue
		}
		swept++
		if s.recorder != nil {
			if err := s.recorder.RecordLifecycle(ctx, audit.LifecycleEvent{
				ActorID:  "system",
				Action:   audit.ActionRoleRevoked,
				Resource: rbac.ResourceAssignments,
				Success:  true,
				Reason:   fmt.Sprintf("assignment expired: role %s, user %s", a.RoleID, a.UserID),
			}); err != nil {
				s.logger.Error("record expiry", slog.Any("error", err))
			}
		}
	}
	if swept > 0 && s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Error("bump rbac cache version", slog.Any("error", err))
		}
	}
	return swept, nil
}

// afterWrite records the lifecycle entry and retires resolver snapshots.
// Neither failure rolls back the committed write; both are logged.
func (s *Service) afterWrite(ctx context.Context, actorID string, action audit.Action, success bool, reason string) {
	if s.recorder != nil {
		if err := s.recorder.RecordLifecycle(ctx, audit.LifecycleEvent{
			ActorID:  actorID,
			Action:   action,
			Resource: rbac.ResourceAssignments,
			Success:  success,
			Reason:   reason,
		}); err != nil {
			s.logger.Error("record assignment lifecycle", slog.Any("error", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Error("bump rbac cache version", slog.Any("error", err))
		}
	}
}

func sameValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			return false
		}
	}
	return true
}
