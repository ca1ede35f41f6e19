package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditRiskScan scores recent activity and flags high-risk users.
	TaskAuditRiskScan = "audit:risk_scan"
	// TaskAssignmentExpirySweep deactivates assignments past their deadline.
	TaskAssignmentExpirySweep = "assignments:expiry_sweep"
)

// RiskScanPayload parameterises one risk scan run.
type RiskScanPayload struct {
	WindowHours int `json:"window_hours"`
}

// NewRiskScanTask constructs an Asynq task for the periodic risk scan.
func NewRiskScanTask(windowHours int) (*asynq.Task, error) {
	data, err := json.Marshal(RiskScanPayload{WindowHours: windowHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRiskScan, data), nil
}

// ExpirySweepPayload parameterises one expiry sweep run.
type ExpirySweepPayload struct {
	BatchSize int `json:"batch_size"`
}

// NewExpirySweepTask constructs an Asynq task for the expiry sweep.
func NewExpirySweepTask(batchSize int) (*asynq.Task, error) {
	data, err := json.Marshal(ExpirySweepPayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAssignmentExpirySweep, data), nil
}
