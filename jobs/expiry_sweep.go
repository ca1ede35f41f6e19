package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/veritas-hq/veritas/internal/assignments"
	jobmetrics "github.com/veritas-hq/veritas/internal/jobs"
)

// ExpirySweepJob deactivates assignments whose deadline has elapsed, so the
// stored state converges with what the resolver already refuses to honor.
type ExpirySweepJob struct {
	Assignments *assignments.Service
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewExpirySweepJob initialises the expiry sweep handler.
func NewExpirySweepJob(service *assignments.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpirySweepJob {
	return &ExpirySweepJob{Assignments: service, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep run.
func (j *ExpirySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Assignments == nil {
		return errors.New("expiry sweep: handler not configured")
	}
	var payload ExpirySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = 500
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskAssignmentExpirySweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("batch_size", payload.BatchSize))
	logger.Info("starting expiry sweep")

	swept, err := j.Assignments.ExpireSweep(ctx, payload.BatchSize)
	if err != nil {
		resultErr = err
		logger.Error("sweep failed", slog.Any("error", err), slog.Int("swept", swept))
		return resultErr
	}
	j.metrics().AddSwept(swept)

	logger.Info("completed expiry sweep",
		slog.Int("swept", swept),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *ExpirySweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAssignmentExpirySweep))
	}
	return slog.Default().With(slog.String("job", TaskAssignmentExpirySweep))
}

func (j *ExpirySweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
