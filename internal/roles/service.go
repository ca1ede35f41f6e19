package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/veritas-hq/veritas/internal/audit"
	"github.com/veritas-hq/veritas/internal/platform/httpx"
	"github.com/veritas-hq/veritas/internal/rbac"
)

var (
	ErrNotFound           = fmt.Errorf("%w: role", httpx.ErrNotFound)
	ErrDuplicateName      = fmt.Errorf("%w: role name already taken", httpx.ErrDuplicate)
	ErrInvalidName        = fmt.Errorf("%w: role name", httpx.ErrValidation)
	ErrInvalidLevel       = fmt.Errorf("%w: role level", httpx.ErrValidation)
	ErrInvalidInheritance = fmt.Errorf("%w: role inheritance", httpx.ErrValidation)
	ErrInvalidPermission  = fmt.Errorf("%w: role permission", httpx.ErrValidation)
	ErrSystemRole         = fmt.Errorf("%w: system roles are immutable", httpx.ErrConflict)
	ErrRoleInUse          = fmt.Errorf("%w: role has active assignments", httpx.ErrConflict)
	ErrStaleUpdate        = fmt.Errorf("%w: role was modified concurrently", httpx.ErrConflict)
)

// Repository persists roles. Updates are single-record atomic replaces
// guarded by the previous updated_at value.
type Repository interface {
	Get(ctx context.Context, id string) (*rbac.Role, error)
	GetByFoldedName(ctx context.Context, folded string) (*rbac.Role, error)
	List(ctx context.Context, req ListRolesRequest) ([]rbac.Role, int, error)
	Create(ctx context.Context, role rbac.Role) error
	Update(ctx context.Context, role rbac.Role, prevUpdatedAt time.Time) error
	Delete(ctx context.Context, id string) error
	CountActiveAssignments(ctx context.Context, roleID string) (int, error)
}

// Invalidator retires cached resolver snapshots after a successful write.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service owns role lifecycle and inheritance resolution.
type Service struct {
	repo     Repository
	recorder audit.Recorder
	cache    Invalidator
	logger   *slog.Logger
	folder   cases.Caser
	now      func() time.Time
}

// NewService constructs the role store service.
func NewService(repo Repository, recorder audit.Recorder, cache Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		recorder: recorder,
		cache:    cache,
		logger:   logger,
		folder:   cases.Fold(),
		now:      time.Now,
	}
}

// FoldName normalizes a role name for case-insensitive uniqueness.
func (s *Service) FoldName(name string) string {
	return s.folder.String(strings.TrimSpace(name))
}

// Get fetches a role by id.
func (s *Service) Get(ctx context.Context, id string) (*rbac.Role, error) {
	return s.repo.Get(ctx, id)
}

// Exists reports whether a role with the given id exists.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns roles matching the filter plus the unpaged total.
func (s *Service) List(ctx context.Context, req ListRolesRequest) ([]rbac.Role, int, error) {
	if req.Limit <= 0 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

// Create validates and persists a new role. Name uniqueness is
// case-insensitive; an inheritance edge must be acyclic and place the child
// strictly below every ancestor.
func (s *Service) Create(ctx context.Context, req CreateRoleRequest, createdBy string) (*rbac.Role, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if req.Level < 1 {
		return nil, ErrInvalidLevel
	}
	for _, p := range req.Permissions {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPermission, p.String())
		}
	}
	if existing, err := s.repo.GetByFoldedName(ctx, s.FoldName(name)); err != nil && !errors.Is(err, httpx.ErrNotFound) {
		return nil, fmt.Errorf("check role name: %w", err)
	} else if existing != nil {
		return nil, ErrDuplicateName
	}

	now := s.now().UTC()
	role := rbac.Role{
		ID:           uuid.NewString(),
		Name:         name,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Description:  strings.TrimSpace(req.Description),
		Level:        req.Level,
		Permissions:  req.Permissions,
		InheritsFrom: req.InheritsFrom,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.validateInheritance(ctx, role); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, role); err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	s.afterWrite(ctx, createdBy, audit.ActionRoleCreated, "created role "+role.Name)
	return &role, nil
}

// Update applies a whole-record replace. System roles reject any change.
func (s *Service) Update(ctx context.Context, id string, req UpdateRoleRequest, updatedBy string) (*rbac.Role, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.IsSystem {
		return nil, ErrSystemRole
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if req.Level < 1 {
		return nil, ErrInvalidLevel
	}
	for _, p := range req.Permissions {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPermission, p.String())
		}
	}
	if other, err := s.repo.GetByFoldedName(ctx, s.FoldName(name)); err != nil && !errors.Is(err, httpx.ErrNotFound) {
		return nil, fmt.Errorf("check role name: %w", err)
	} else if other != nil && other.ID != id {
		return nil, ErrDuplicateName
	}

	updated := rbac.Role{
		ID:           existing.ID,
		Name:         name,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Description:  strings.TrimSpace(req.Description),
		Level:        req.Level,
		Permissions:  req.Permissions,
		InheritsFrom: req.InheritsFrom,
		IsSystem:     existing.IsSystem,
		CreatedBy:    existing.CreatedBy,
		CreatedAt:    existing.CreatedAt,
		UpdatedAt:    s.now().UTC(),
	}
	if err := s.validateInheritance(ctx, updated); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, updated, req.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	s.afterWrite(ctx, updatedBy, audit.ActionRoleUpdated, "updated role "+updated.Name)
	return &updated, nil
}

// Delete removes a role that is neither a system role nor referenced by any
// active assignment.
func (s *Service) Delete(ctx context.Context, id, deletedBy string) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return ErrSystemRole
	}
	count, err := s.repo.CountActiveAssignments(ctx, id)
	if err != nil {
		return fmt.Errorf("count assignments: %w", err)
	}
	if count > 0 {
		return ErrRoleInUse
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	s.afterWrite(ctx, deletedBy, audit.ActionRoleDeleted, "deleted role "+existing.Name)
	return nil
}

// EffectivePermissions unions a role's own permissions with its ancestors'.
// The walk carries a visited set so a cycle that slipped past write-time
// validation terminates instead of looping.
func (s *Service) EffectivePermissions(ctx context.Context, roleID string) (rbac.PermissionSet, error) {
	set := make(rbac.PermissionSet)
	visited := make(map[string]struct{})
	current := roleID
	for current != "" {
		if _, seen := visited[current]; seen {
			s.logger.Warn("role inheritance cycle during read", slog.String("role_id", current))
			break
		}
		visited[current] = struct{}{}
		role, err := s.repo.Get(ctx, current)
		if err != nil {
			return nil, err
		}
		set.Union(role.PermissionSet())
		if role.InheritsFrom == nil {
			break
		}
		current = *role.InheritsFrom
	}
	return set, nil
}

// validateInheritance walks the proposed parent chain. The edge is rejected
// when the candidate reappears in the chain (cycle) or when any ancestor's
// level is not strictly more privileged than the candidate's.
func (s *Service) validateInheritance(ctx context.Context, candidate rbac.Role) error {
	if candidate.InheritsFrom == nil {
		return nil
	}
	visited := map[string]struct{}{candidate.ID: {}}
	current := *candidate.InheritsFrom
	for current != "" {
		if current == candidate.ID {
			return ErrInvalidInheritance
		}
		if _, seen := visited[current]; seen {
			return ErrInvalidInheritance
		}
		visited[current] = struct{}{}
		ancestor, err := s.repo.Get(ctx, current)
		if err != nil {
			if errors.Is(err, httpx.ErrNotFound) {
				return fmt.Errorf("%w: parent role %s not found", ErrInvalidInheritance, current)
			}
			return err
		}
		if ancestor.Level >= candidate.Level {
			return fmt.Errorf("%w: level %d must exceed ancestor %q level %d",
				ErrInvalidLevel, candidate.Level, ancestor.Name, ancestor.Level)
		}
		if ancestor.InheritsFrom == nil {
			break
		}
		current = *ancestor.InheritsFrom
	}
	return nil
}

// afterWrite records the lifecycle entry and retires resolver snapshots.
// Neither failure rolls back the committed write; both are logged.
func (s *Service) afterWrite(ctx context.Context, actorID string, action audit.Action, reason string) {
	if s.recorder != nil {
		if err := s.recorder.RecordLifecycle(ctx, audit.LifecycleEvent{
			ActorID:  actorID,
			Action:   action,
			Resource: rbac.ResourceRoles,
			Success:  true,
			Reason:   reason,
		}); err != nil {
			s.logger.Error("record role lifecycle", slog.Any("error", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Error("bump rbac cache version", slog.Any("error", err))
		}
	}
}
