package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/rbac"
)

const (
	// TaskPermCacheWarmup pre-builds permission maps for recent callers.
	TaskPermCacheWarmup = "rbac:cache-warmup"
)

// PermCacheWarmupPayload selects how far back "recently active" reaches.
type PermCacheWarmupPayload struct {
	WindowHours int `json:"window_hours"`
}

// NewPermCacheWarmupTask constructs an Asynq task for cache warmup.
func NewPermCacheWarmupTask(window time.Duration) (*asynq.Task, error) {
	payload := PermCacheWarmupPayload{WindowHours: int(window.Hours())}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermCacheWarmup, body, asynq.Queue(QueueDefault)), nil
}

// PermCacheWarmupJob rebuilds effective permission maps for users seen
// in the decision log recently, so the first check after a deploy or
// cache flush does not pay the rebuild cost.
type PermCacheWarmupJob struct {
	Engine *rbac.Service
	Pool   *pgxpool.Pool
	Logger *slog.Logger

	Metrics *jobmetrics.Metrics
}

// NewPermCacheWarmupJob wires dependencies for the warmup handler.
func NewPermCacheWarmupJob(engine *rbac.Service, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermCacheWarmupJob {
	return &PermCacheWarmupJob{Engine: engine, Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle processes cache warmup tasks.
func (j *PermCacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil || j.Pool == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload PermCacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowHours <= 0 {
		payload.WindowHours = 24
	}

	tracker := j.metrics().Track(TaskPermCacheWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	userIDs, err := j.recentUsers(ctx, time.Duration(payload.WindowHours)*time.Hour)
	if err != nil {
		resultErr = err
		j.logger().Error("load recent users", slog.Any("error", err))
		return resultErr
	}

	warmed := 0
	for _, userID := range userIDs {
		// UserPermissionCodes populates the cache as a side effect.
		if _, err := j.Engine.UserPermissionCodes(ctx, userID); err != nil {
			j.logger().Warn("warm user",
				slog.String("user_id", userID.String()),
				slog.Any("error", err))
			continue
		}
		warmed++
	}
	j.logger().Info("permission cache warmup finished",
		slog.Int("candidates", len(userIDs)),
		slog.Int("warmed", warmed))
	return resultErr
}

func (j *PermCacheWarmupJob) recentUsers(ctx context.Context, window time.Duration) ([]uuid.UUID, error) {
	rows, err := j.Pool.Query(ctx, `
		SELECT DISTINCT user_id FROM permission_audit_logs
		WHERE checked_at >= $1`, time.Now().UTC().Add(-window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (j *PermCacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *PermCacheWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
