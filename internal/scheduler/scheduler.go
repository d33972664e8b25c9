// Package scheduler runs the room server's periodic maintenance jobs.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/metrics"
	"github.com/normanking/cortexvoice/internal/store"
)

// Scheduler manages cron jobs for the room server
type Scheduler struct {
	cron          *cron.Cron
	store         *store.Store
	retentionDays int
	logger        zerolog.Logger
}

// New creates a scheduler with the retention job registered
func New(st *store.Store, retentionCron string, retentionDays int, logger zerolog.Logger) (*Scheduler, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if retentionCron == "" {
		retentionCron = "0 3 * * *"
	}

	s := &Scheduler{
		cron:          cron.New(),
		store:         st,
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "scheduler").Logger(),
	}

	if _, err := s.cron.AddFunc(retentionCron, s.runRetention); err != nil {
		return nil, err
	}
	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("retentionDays", s.retentionDays).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// runRetention prunes conversation turns past the retention window
func (s *Scheduler) runRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	removed, err := s.store.PruneBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Retention prune failed")
		return
	}
	metrics.TurnsPruned.Add(float64(removed))
	s.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("Retention prune complete")
}
