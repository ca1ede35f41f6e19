package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veritas-hq/veritas/internal/rbac"
)

// Repository provides access to the persisted trail. Window returns entries
// newest-first; All returns the full filtered set for exports and analytics.
type Repository interface {
	Insert(ctx context.Context, e Entry) error
	Window(ctx context.Context, f Filters, limit, offset int) ([]Entry, error)
	All(ctx context.Context, f Filters) ([]Entry, error)
	RecentByUser(ctx context.Context, userID string, since, until time.Time) ([]Entry, error)
}

// LifecycleEvent describes a role or assignment lifecycle change to record.
type LifecycleEvent struct {
	ActorID  string
	Action   Action
	Resource rbac.Resource
	Success  bool
	Reason   string
}

// Recorder is the write contract handed to the role and assignment stores.
type Recorder interface {
	RecordLifecycle(ctx context.Context, e LifecycleEvent) error
}

// Metrics counts appended entries; nil-safe.
type Metrics interface {
	AuditAppended(action string)
}

// Service coordinates appends and queries over the trail.
type Service struct {
	repo    Repository
	metrics Metrics
	now     func() time.Time
}

// NewService creates the audit service.
func NewService(repo Repository, metrics Metrics) *Service {
	return &Service{repo: repo, metrics: metrics, now: time.Now}
}

// Append persists an entry, assigning id and timestamp when unset. Appends
// are safe under concurrent writers; the store is a log, not a slot.
func (s *Service) Append(ctx context.Context, e Entry) error {
	if s.repo == nil {
		return fmt.Errorf("audit: repository not configured")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	if s.metrics != nil {
		s.metrics.AuditAppended(string(e.Action))
	}
	return nil
}

// RecordDecision appends the audit entry for one permission check. It
// implements the resolver's DecisionRecorder contract: allow becomes a
// granted entry, everything else a denied one.
func (s *Service) RecordDecision(ctx context.Context, d rbac.Decision) error {
	action := ActionPermissionDenied
	if d.Allowed {
		action = ActionPermissionGranted
	}
	return s.Append(ctx, Entry{
		UserID:   d.UserID,
		Action:   action,
		Resource: d.Resource,
		Success:  d.Allowed,
		Reason:   d.Reason,
	})
}

// RecordLifecycle appends a role/assignment lifecycle entry.
func (s *Service) RecordLifecycle(ctx context.Context, e LifecycleEvent) error {
	return s.Append(ctx, Entry{
		UserID:   e.ActorID,
		Action:   e.Action,
		Resource: e.Resource,
		Success:  e.Success,
		Reason:   e.Reason,
	})
}

// Query returns one page of the trail, newest first.
func (s *Service) Query(ctx context.Context, f Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.Window(ctx, f, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: rows, Paging: paging}, nil
}

// Export returns the full filtered trail without paging, for callers that
// materialize CSV/JSON downloads.
func (s *Service) Export(ctx context.Context, f Filters) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.All(ctx, f)
}
