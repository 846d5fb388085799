package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ledger-backend/internal/jobs"
)

// Specs are six-field cron expressions (seconds first)
type Specs struct {
	Snapshot string
	ICalSync string
	Export   string
}

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron   *cron.Cron
	jobs   *jobs.JobRunner
	logger *zap.Logger
}

// NewScheduler creates a scheduler evaluating specs in loc. Jobs with an
// empty spec are not registered.
func NewScheduler(jobRunner *jobs.JobRunner, specs Specs, loc *time.Location, logger *zap.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	s := &Scheduler{
		cron:   c,
		jobs:   jobRunner,
		logger: logger.Named("scheduler"),
	}

	if err := s.registerJobs(specs); err != nil {
		return nil, err
	}
	return s, nil
}

// registerJobs registers all scheduled jobs with the cron scheduler
func (s *Scheduler) registerJobs(specs Specs) error {
	entries := []struct {
		name string
		spec string
		fn   func()
	}{
		{"GenerateDailySnapshot", specs.Snapshot, s.jobs.GenerateDailySnapshot},
		{"SyncICalFeeds", specs.ICalSync, s.jobs.SyncICalFeeds},
		{"PublishExportFeeds", specs.Export, s.jobs.PublishExportFeeds},
	}

	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(e.spec, e.fn); err != nil {
			s.logger.Error("failed to register job", zap.String("job", e.name), zap.String("spec", e.spec), zap.Error(err))
			return err
		}
		s.logger.Info("job registered", zap.String("job", e.name), zap.String("spec", e.spec))
	}
	return nil
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("cron scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop waits for running jobs and stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("cron scheduler stopped")
}

// IsRunning returns true if any job is registered
func (s *Scheduler) IsRunning() bool {
	return len(s.cron.Entries()) > 0
}
