package worker

import (
	"context"
	"time"

	"studysync/internal/domain"
	"studysync/internal/logging"
	"studysync/internal/metrics"
	"studysync/internal/models"

	"github.com/rs/zerolog"
)

// RetentionWindow is how long a synced action is kept after creation.
const RetentionWindow = 7 * 24 * time.Hour

// Sweeper removes synced actions older than RetentionWindow.
type Sweeper struct {
	store  domain.QueueStore
	clock  domain.Clock
	logger *zerolog.Logger
}

func NewSweeper(store domain.QueueStore, clock domain.Clock, logger *zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		clock:  clock,
		logger: logging.Component(logger, "sweeper"),
	}
}

// Sweep deletes expired synced actions and returns how many were removed.
// Pending, syncing and failed actions are never touched.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	synced, err := s.store.List(ctx, models.ActionFilter{Statuses: []models.ActionStatus{models.ActionSynced}})
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	removed := 0
	for i := range synced {
		if now.Sub(synced[i].Timestamp) <= RetentionWindow {
			continue
		}
		if err := s.store.Remove(ctx, synced[i].ID); err != nil {
			metrics.AddSwept(removed)
			return removed, err
		}
		removed++
	}

	metrics.AddSwept(removed)
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Swept expired synced actions")
	}
	return removed, nil
}

// Start runs Sweep every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("Cleanup sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Cleanup sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Cleanup sweep failed")
			}
		}
	}
}
