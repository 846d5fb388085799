// Package jobs holds the scheduled occupancy work.
package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
)

// Occupancy is the part of the occupancy service the jobs drive
type Occupancy interface {
	GenerateDailySnapshot(ctx context.Context, date *time.Time) (*models.SnapshotRunResult, error)
	SyncAllICalUnits(ctx context.Context) ([]*models.UnitSyncOutcome, error)
	PublishFeeds(ctx context.Context) (int, error)
}

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	occupancy Occupancy
	timeout   time.Duration
	logger    *zap.Logger
}

// NewJobRunner creates a job runner. Each run is bounded by timeout.
func NewJobRunner(occupancy Occupancy, timeout time.Duration, logger *zap.Logger) *JobRunner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &JobRunner{
		occupancy: occupancy,
		timeout:   timeout,
		logger:    logger.Named("jobs"),
	}
}

// runWithRecovery wraps job execution with panic recovery and a deadline
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			jr.logger.Error("job panicked", zap.String("job", jobName), zap.Any("panic", r))
			metrics.JobRunsTotal.WithLabelValues(jobName, "panic").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jr.timeout)
	defer cancel()

	jr.logger.Info("starting job", zap.String("job", jobName))
	if err := jobFunc(ctx); err != nil {
		jr.logger.Error("job failed", zap.String("job", jobName), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		metrics.JobRunsTotal.WithLabelValues(jobName, "error").Inc()
		return
	}
	jr.logger.Info("job completed", zap.String("job", jobName), zap.Duration("elapsed", time.Since(start)))
	metrics.JobRunsTotal.WithLabelValues(jobName, "success").Inc()
}
