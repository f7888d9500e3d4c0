package jobs

import (
	"context"
	"time"

	"example.com/backstage/services/ota/config"
	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/broadcast"
	"example.com/backstage/services/ota/internal/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Sweeper fails active jobs whose progression routine died with a previous process
type Sweeper struct {
	engine    *Engine
	staleFor  time.Duration
	interval  time.Duration
	scheduler gocron.Scheduler
	log       *logrus.Logger
	now       func() time.Time
}

// NewSweeper creates a sweeper for the engine's jobs
func NewSweeper(engine *Engine, cfg config.JobsConfig, log *logrus.Logger) (*Sweeper, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scheduler")
	}

	return &Sweeper{
		engine:    engine,
		staleFor:  cfg.StaleAfter,
		interval:  cfg.SweepInterval,
		scheduler: scheduler,
		log:       log,
		now:       time.Now,
	}, nil
}

// Run sweeps every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if _, err := s.Sweep(ctx); err != nil {
				s.log.WithError(err).Error("Stale job sweep failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Wrap(err, "failed to schedule stale job sweep")
	}

	s.log.WithField("interval", s.interval).Info("Starting stale job sweeper")
	s.scheduler.Start()

	<-ctx.Done()

	return s.scheduler.Shutdown()
}

// Sweep fails stale jobs not driven by this process and returns how many it failed
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleFor)

	jobs, err := s.engine.repo.ListActiveJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, job := range jobs {
		if s.engine.Running(job.ID) {
			continue
		}

		failJob(job)
		job.Status = models.JobStatusFailed
		if err := s.engine.repo.SaveJobState(ctx, job); err != nil {
			// Another process finished or cancelled it in the meantime
			if apperrors.IsKind(err, apperrors.KindInvalidTransition) {
				continue
			}
			return swept, err
		}

		swept++
		s.engine.publish(job, broadcast.Delta{Error: "job abandoned by a previous process"})
		s.log.WithField("job_id", job.ID).Warn("Failed stale update job")
	}

	return swept, nil
}
