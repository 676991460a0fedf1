package server

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"photoassets/internal/models"
)

// Maintenance is the batch side of the generator.
type Maintenance interface {
	GenerateAll(force bool) (*models.OptimizationReport, error)
	CleanupOrphans() (int, error)
}

// Scheduler runs orphan cleanup and batch generation on cron schedules.
// Runs of the same job never overlap.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewScheduler registers the jobs whose schedule is set. Empty schedules
// leave the job disabled.
func NewScheduler(cfg *models.Config, m Maintenance, log zerolog.Logger) (*Scheduler, error) {
	const op = "server.NewScheduler"

	s := &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:  log.With().Str("component", "scheduler").Logger(),
	}

	if cfg.CleanupSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.CleanupSchedule, func() { s.cleanup(m) }); err != nil {
			return nil, fmt.Errorf("%s: cleanup_schedule: %w", op, err)
		}
	}
	if cfg.BatchSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.BatchSchedule, func() { s.batch(m) }); err != nil {
			return nil, fmt.Errorf("%s: batch_schedule: %w", op, err)
		}
	}
	return s, nil
}

func (s *Scheduler) cleanup(m Maintenance) {
	removed, err := m.CleanupOrphans()
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled orphan cleanup failed")
		return
	}
	s.log.Info().Int("removed", removed).Msg("scheduled orphan cleanup done")
}

func (s *Scheduler) batch(m Maintenance) {
	report, err := m.GenerateAll(false)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled batch generation failed")
		return
	}
	s.log.Info().
		Int("successful", report.Successful).
		Int("errors", report.Errors).
		Msg("scheduled batch generation done")
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns a context done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
