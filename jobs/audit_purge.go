package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/rbac"
)

const (
	// TaskAuditPurge removes decision records past the retention window.
	TaskAuditPurge = "audit:purge"
)

// AuditPurgePayload carries the retention window for one purge run.
type AuditPurgePayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewAuditPurgeTask constructs an Asynq task for audit retention.
func NewAuditPurgeTask(retention time.Duration) (*asynq.Task, error) {
	payload := AuditPurgePayload{RetentionHours: int(retention.Hours())}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPurge, body, asynq.Queue(QueueDefault)), nil
}

// AuditPurgeJob deletes decision records older than the retention
// window. The audit trail is append-only in the request path; this is
// the only deleter.
type AuditPurgeJob struct {
	Audit   rbac.AuditRepository
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAuditPurgeJob wires dependencies for the purge handler.
func NewAuditPurgeJob(audit rbac.AuditRepository, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPurgeJob {
	return &AuditPurgeJob{
		Audit:   audit,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes audit purge tasks.
func (j *AuditPurgeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Audit == nil {
		return errors.New("audit purge: handler not configured")
	}
	var payload AuditPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionHours < 24 {
		j.logger().Warn("audit purge retention below 24h, skipping", slog.Int("retention_hours", payload.RetentionHours))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAuditPurge)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := j.clock().Add(-time.Duration(payload.RetentionHours) * time.Hour)
	purged, err := j.Audit.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		resultErr = err
		j.logger().Error("purge audit records", slog.Any("error", err))
		return resultErr
	}
	j.logger().Info("audit purge finished",
		slog.Time("cutoff", cutoff),
		slog.Int64("purged", purged))
	return resultErr
}

func (j *AuditPurgeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *AuditPurgeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
