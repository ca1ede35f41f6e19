package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/veritas-hq/veritas/internal/assignments"
	"github.com/veritas-hq/veritas/internal/audit"
	"github.com/veritas-hq/veritas/internal/rbac"
)

type trailStub struct{ entries []audit.Entry }

func (t *trailStub) Insert(_ context.Context, e audit.Entry) error {
	t.entries = append(t.entries, e)
	return nil
}

func (t *trailStub) Window(_ context.Context, _ audit.Filters, _, _ int) ([]audit.Entry, error) {
	return t.entries, nil
}

func (t *trailStub) All(_ context.Context, _ audit.Filters) ([]audit.Entry, error) {
	return t.entries, nil
}

func (t *trailStub) RecentByUser(_ context.Context, userID string, _, _ time.Time) ([]audit.Entry, error) {
	var out []audit.Entry
	for _, e := range t.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestRiskScanHandle(t *testing.T) {
	trail := &trailStub{}
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		trail.entries = append(trail.entries, audit.Entry{
			UserID: "mallory", Action: audit.ActionPermissionDenied,
			Resource: rbac.ResourceAudit, Success: false,
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	job := NewRiskScanJob(audit.NewService(trail, nil), nil, nil)
	job.clock = func() time.Time { return now }

	task, err := NewRiskScanTask(1)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
}

func TestRiskScanRejectsMalformedPayload(t *testing.T) {
	job := NewRiskScanJob(audit.NewService(&trailStub{}, nil), nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskAuditRiskScan, []byte("{not json")))
	if err != asynq.SkipRetry {
		t.Fatalf("expected SkipRetry for malformed payload, got %v", err)
	}
}

type sweepRepo struct {
	expired     []rbac.Assignment
	deactivated []string
}

func (r *sweepRepo) Get(context.Context, string) (*rbac.Assignment, error) { return nil, nil }
func (r *sweepRepo) Create(context.Context, rbac.Assignment) error        { return nil }

func (r *sweepRepo) Deactivate(_ context.Context, id string, _ time.Time, _, _ string) error {
	r.deactivated = append(r.deactivated, id)
	return nil
}

func (r *sweepRepo) ListByUser(context.Context, string, bool) ([]rbac.Assignment, error) {
	return nil, nil
}

func (r *sweepRepo) List(context.Context, assignments.ListAssignmentsRequest) ([]rbac.Assignment, int, error) {
	return nil, 0, nil
}

func (r *sweepRepo) ActiveByUserAndRole(context.Context, string, string) ([]rbac.Assignment, error) {
	return nil, nil
}

func (r *sweepRepo) ExpiredActive(_ context.Context, _ time.Time, limit int) ([]rbac.Assignment, error) {
	if limit < len(r.expired) {
		return r.expired[:limit], nil
	}
	return r.expired, nil
}

type allRoles struct{}

func (allRoles) Exists(context.Context, string) (bool, error) { return true, nil }

type nopTrail struct{}

func (nopTrail) RecordLifecycle(context.Context, audit.LifecycleEvent) error { return nil }

func TestExpirySweepHandle(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	repo := &sweepRepo{expired: []rbac.Assignment{
		{ID: "a1", UserID: "u1", RoleID: "r1", ValidUntil: &past, IsActive: true},
		{ID: "a2", UserID: "u2", RoleID: "r1", ValidUntil: &past, IsActive: true},
	}}
	svc := assignments.NewService(repo, allRoles{}, nopTrail{}, nil, nil)
	job := NewExpirySweepJob(svc, nil, nil)

	task, err := NewExpirySweepTask(10)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(repo.deactivated) != 2 {
		t.Fatalf("expected both expired assignments swept, got %v", repo.deactivated)
	}
}
