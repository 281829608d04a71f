package notify

import (
	"context"
	"sync"
	"time"

	"studysync/internal/domain"
	"studysync/internal/logging"
	"studysync/internal/models"

	"github.com/rs/zerolog"
)

// Fanout delivers each summary to every target in the background so a slow
// channel never holds up a sync pass.
type Fanout struct {
	targets []domain.Notifier
	timeout time.Duration
	logger  *zerolog.Logger
	wg      sync.WaitGroup
}

func NewFanout(timeout time.Duration, logger *zerolog.Logger, targets ...domain.Notifier) *Fanout {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fanout{targets: targets, timeout: timeout, logger: logging.Component(logger, "notify")}
}

// Add registers another target. Not safe to call concurrently with Summarize.
func (f *Fanout) Add(target domain.Notifier) {
	f.targets = append(f.targets, target)
}

func (f *Fanout) Len() int {
	return len(f.targets)
}

// Summarize never returns an error; per-target failures are logged.
func (f *Fanout) Summarize(ctx context.Context, s models.SyncSummary) error {
	base := context.WithoutCancel(ctx)
	for _, target := range f.targets {
		f.wg.Add(1)
		go func(n domain.Notifier) {
			defer f.wg.Done()
			tctx, cancel := context.WithTimeout(base, f.timeout)
			defer cancel()
			if err := n.Summarize(tctx, s); err != nil {
				f.logger.Warn().Err(err).Msgf("Notifier %T failed", n)
			}
		}(target)
	}
	return nil
}

// Wait blocks until in-flight summaries finish.
func (f *Fanout) Wait() {
	f.wg.Wait()
}
