package roles

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/veritas-hq/veritas/internal/audit"
	"github.com/veritas-hq/veritas/internal/rbac"
)

type stubRepo struct {
	byID     map[string]*rbac.Role
	byFolded map[string]string
	inUse    map[string]int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		byID:     make(map[string]*rbac.Role),
		byFolded: make(map[string]string),
		inUse:    make(map[string]int),
	}
}

func (s *stubRepo) Get(_ context.Context, id string) (*rbac.Role, error) {
	role, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *role
	return &copied, nil
}

func (s *stubRepo) GetByFoldedName(_ context.Context, folded string) (*rbac.Role, error) {
	id, ok := s.byFolded[folded]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s.byID[id]
	return &copied, nil
}

func (s *stubRepo) List(_ context.Context, _ ListRolesRequest) ([]rbac.Role, int, error) {
	var out []rbac.Role
	for _, role := range s.byID {
		out = append(out, *role)
	}
	return out, len(out), nil
}

func (s *stubRepo) Create(_ context.Context, role rbac.Role) error {
	copied := role
	s.byID[role.ID] = &copied
	return nil
}

func (s *stubRepo) Update(_ context.Context, role rbac.Role, prevUpdatedAt time.Time) error {
	existing, ok := s.byID[role.ID]
	if !ok {
		return ErrNotFound
	}
	if !existing.UpdatedAt.Equal(prevUpdatedAt) {
		return ErrStaleUpdate
	}
	copied := role
	s.byID[role.ID] = &copied
	return nil
}

func (s *stubRepo) Delete(_ context.Context, id string) error {
	if s.inUse[id] > 0 {
		return ErrRoleInUse
	}
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *stubRepo) CountActiveAssignments(_ context.Context, roleID string) (int, error) {
	return s.inUse[roleID], nil
}

// seed inserts a role directly, bypassing validation, with folded-name
// bookkeeping so duplicate checks behave like the SQL store.
func (s *stubRepo) seed(svc *Service, role rbac.Role) {
	copied := role
	s.byID[role.ID] = &copied
	s.byFolded[svc.FoldName(role.Name)] = role.ID
}

type nopRecorder struct{ events []audit.LifecycleEvent }

func (n *nopRecorder) RecordLifecycle(_ context.Context, e audit.LifecycleEvent) error {
	n.events = append(n.events, e)
	return nil
}

func perm(res rbac.Resource, act rbac.Action) rbac.Permission {
	return rbac.Permission{Resource: res, Action: act, Scope: rbac.ScopeOrganization}
}

func newTestService() (*Service, *stubRepo, *nopRecorder) {
	repo := newStubRepo()
	rec := &nopRecorder{}
	svc := NewService(repo, rec, nil, nil)
	return svc, repo, rec
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateRoleRequest{Name: "  ", Level: 3}, "admin"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("blank name: %v", err)
	}
	if _, err := svc.Create(ctx, CreateRoleRequest{Name: "ops", Level: 0}, "admin"); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("level zero: %v", err)
	}
	bad := CreateRoleRequest{Name: "ops", Level: 3, Permissions: []rbac.Permission{
		{Resource: "ships", Action: rbac.ActionRead, Scope: rbac.ScopeOrganization},
	}}
	if _, err := svc.Create(ctx, bad, "admin"); !errors.Is(err, ErrInvalidPermission) {
		t.Fatalf("unknown resource: %v", err)
	}
}

func TestCreateNameUniquenessIsCaseInsensitive(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	role, err := svc.Create(ctx, CreateRoleRequest{Name: "Manager", Level: 3}, "admin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	repo.byFolded[svc.FoldName(role.Name)] = role.ID

	if _, err := svc.Create(ctx, CreateRoleRequest{Name: "mANAGER", Level: 3}, "admin"); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestCreateRecordsLifecycle(t *testing.T) {
	svc, _, rec := newTestService()

	if _, err := svc.Create(context.Background(), CreateRoleRequest{Name: "auditor", Level: 4}, "admin"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(rec.events) != 1 || rec.events[0].Action != audit.ActionRoleCreated {
		t.Fatalf("expected role_created event, got %+v", rec.events)
	}
}

func TestInheritanceRejectsCycles(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	a := "role-a"
	b := "role-b"
	repo.seed(svc, rbac.Role{ID: a, Name: "alpha", Level: 2, InheritsFrom: nil})
	repo.seed(svc, rbac.Role{ID: b, Name: "beta", Level: 3, InheritsFrom: &a})

	// Pointing alpha at beta would close the loop alpha -> beta -> alpha.
	existing, _ := repo.Get(ctx, a)
	_, err := svc.Update(ctx, a, UpdateRoleRequest{
		Name: "alpha", Level: 2, InheritsFrom: &b, UpdatedAt: existing.UpdatedAt,
	}, "admin")
	if !errors.Is(err, ErrInvalidInheritance) && !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("cycle must be rejected, got %v", err)
	}
}

func TestInheritanceRejectsSelfParent(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	id := "role-a"
	repo.seed(svc, rbac.Role{ID: id, Name: "alpha", Level: 2})
	existing, _ := repo.Get(ctx, id)
	_, err := svc.Update(ctx, id, UpdateRoleRequest{
		Name: "alpha", Level: 2, InheritsFrom: &id, UpdatedAt: existing.UpdatedAt,
	}, "admin")
	if !errors.Is(err, ErrInvalidInheritance) {
		t.Fatalf("self-parent must be rejected, got %v", err)
	}
}

func TestInheritanceRequiresStrictlyLowerPrivilege(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	parent := "parent"
	repo.seed(svc, rbac.Role{ID: parent, Name: "manager", Level: 3})

	// A child at the same level as its ancestor is invalid.
	_, err := svc.Create(ctx, CreateRoleRequest{
		Name: "peer", Level: 3, InheritsFrom: &parent,
	}, "admin")
	if !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("same level must be rejected, got %v", err)
	}

	// Strictly below every ancestor is fine.
	if _, err := svc.Create(ctx, CreateRoleRequest{
		Name: "junior", Level: 4, InheritsFrom: &parent,
	}, "admin"); err != nil {
		t.Fatalf("valid child rejected: %v", err)
	}
}

func TestInheritanceRejectsUnknownParent(t *testing.T) {
	svc, _, _ := newTestService()
	ghost := "ghost"
	_, err := svc.Create(context.Background(), CreateRoleRequest{
		Name: "orphan", Level: 5, InheritsFrom: &ghost,
	}, "admin")
	if !errors.Is(err, ErrInvalidInheritance) {
		t.Fatalf("unknown parent must be rejected, got %v", err)
	}
}

func TestSystemRolesAreImmutable(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	repo.seed(svc, rbac.Role{ID: "sys", Name: "superadmin", Level: 1, IsSystem: true})

	existing, _ := repo.Get(ctx, "sys")
	if _, err := svc.Update(ctx, "sys", UpdateRoleRequest{
		Name: "superadmin", Level: 1, UpdatedAt: existing.UpdatedAt,
	}, "admin"); !errors.Is(err, ErrSystemRole) {
		t.Fatalf("system update: %v", err)
	}
	if err := svc.Delete(ctx, "sys", "admin"); !errors.Is(err, ErrSystemRole) {
		t.Fatalf("system delete: %v", err)
	}
}

func TestDeleteRejectsRoleInUse(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.seed(svc, rbac.Role{ID: "r1", Name: "editor", Level: 3})
	repo.inUse["r1"] = 2

	if err := svc.Delete(context.Background(), "r1", "admin"); !errors.Is(err, ErrRoleInUse) {
		t.Fatalf("in-use delete: %v", err)
	}
}

func TestUpdateDetectsConcurrentModification(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	repo.seed(svc, rbac.Role{ID: "r1", Name: "editor", Level: 3, UpdatedAt: time.Now().UTC()})
	stale := time.Now().Add(-time.Hour).UTC()
	_, err := svc.Update(ctx, "r1", UpdateRoleRequest{
		Name: "editor", Level: 3, UpdatedAt: stale,
	}, "admin")
	if !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("stale token: %v", err)
	}
}

func TestEffectivePermissionsUnionInheritanceChain(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	grand := "grand"
	parent := "parent"
	repo.seed(svc, rbac.Role{
		ID: grand, Name: "director", Level: 2,
		Permissions: []rbac.Permission{perm(rbac.ResourceReports, rbac.ActionApprove)},
	})
	repo.seed(svc, rbac.Role{
		ID: parent, Name: "manager", Level: 3, InheritsFrom: &grand,
		Permissions: []rbac.Permission{perm(rbac.ResourceTasks, rbac.ActionUpdate)},
	})
	repo.seed(svc, rbac.Role{
		ID: "child", Name: "lead", Level: 4, InheritsFrom: &parent,
		Permissions: []rbac.Permission{perm(rbac.ResourceTasks, rbac.ActionRead)},
	})

	set, err := svc.EffectivePermissions(ctx, "child")
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	for _, want := range []rbac.Permission{
		perm(rbac.ResourceTasks, rbac.ActionRead),
		perm(rbac.ResourceTasks, rbac.ActionUpdate),
		perm(rbac.ResourceReports, rbac.ActionApprove),
	} {
		if !set.Has(want) {
			t.Fatalf("missing %s in %+v", want, set.List())
		}
	}
}

func TestEffectivePermissionsTerminatesOnStoredCycle(t *testing.T) {
	svc, repo, _ := newTestService()

	a := "role-a"
	b := "role-b"
	repo.seed(svc, rbac.Role{
		ID: a, Name: "alpha", Level: 2, InheritsFrom: &b,
		Permissions: []rbac.Permission{perm(rbac.ResourceDocuments, rbac.ActionRead)},
	})
	repo.seed(svc, rbac.Role{
		ID: b, Name: "beta", Level: 3, InheritsFrom: &a,
		Permissions: []rbac.Permission{perm(rbac.ResourceTasks, rbac.ActionRead)},
	})

	set, err := svc.EffectivePermissions(context.Background(), a)
	if err != nil {
		t.Fatalf("cycle read must terminate cleanly: %v", err)
	}
	if !set.Has(perm(rbac.ResourceDocuments, rbac.ActionRead)) || !set.Has(perm(rbac.ResourceTasks, rbac.ActionRead)) {
		t.Fatalf("both roles' permissions expected, got %+v", set.List())
	}
}
