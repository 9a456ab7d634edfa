package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/ciec-now/ciecnow/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SessionPurgeJob deletes user_sessions rows past their expiry.
type SessionPurgeJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSessionPurgeJob initialises the purge handler.
func NewSessionPurgeJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionPurgeJob {
	return &SessionPurgeJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the purge.
func (j *SessionPurgeJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("session purge: pool not configured")
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskTypeSessionPurge)
	tag, err := j.Pool.Exec(ctx, `DELETE FROM user_sessions WHERE expires_at < $1`, j.now())
	if err != nil {
		j.logger().Error("purge failed", slog.Any("error", err))
		return tracker.End(err)
	}
	purged := tag.RowsAffected()
	metricsOrDefault(j.Metrics).AddPurged(purged)
	j.logger().Info("purged expired sessions", slog.Int64("rows", purged))
	return tracker.End(nil)
}

func (j *SessionPurgeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeSessionPurge))
	}
	return slog.Default().With(slog.String("job", TaskTypeSessionPurge))
}

func (j *SessionPurgeJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
