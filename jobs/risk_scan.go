package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/veritas-hq/veritas/internal/audit"
	jobmetrics "github.com/veritas-hq/veritas/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RiskScanJob scores every user active in the recent window and surfaces
// those above the high-risk threshold.
type RiskScanJob struct {
	Audit   *audit.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewRiskScanJob initialises the risk scan handler.
func NewRiskScanJob(auditService *audit.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *RiskScanJob {
	return &RiskScanJob{
		Audit:   auditService,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one risk scan run.
func (j *RiskScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Audit == nil {
		return errors.New("risk scan: handler not configured")
	}
	var payload RiskScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowHours <= 0 {
		payload.WindowHours = 1
	}

	now := j.now()
	tracker := j.metrics().Track(TaskAuditRiskScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	from := now.Add(-time.Duration(payload.WindowHours) * time.Hour)
	logger := j.logger().With(slog.Int("window_hours", payload.WindowHours))
	logger.Info("starting risk scan")

	flagged, err := j.Audit.ScanWindow(ctx, from, now)
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	for _, risk := range flagged {
		logger.Warn("high-risk user detected",
			slog.String("user_id", risk.UserID),
			slog.Float64("risk_score", risk.RiskScore),
			slog.Int("entries", risk.Entries),
			slog.Int("denied", risk.Denied),
		)
	}
	j.metrics().AddFlagged(len(flagged))

	logger.Info("completed risk scan",
		slog.Int("flagged", len(flagged)),
		slog.Duration("duration", time.Since(now)),
	)
	return resultErr
}

func (j *RiskScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditRiskScan))
	}
	return slog.Default().With(slog.String("job", TaskAuditRiskScan))
}

func (j *RiskScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RiskScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
