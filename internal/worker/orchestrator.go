package worker

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"studysync/internal/domain"
	"studysync/internal/logging"
	"studysync/internal/metrics"
	"studysync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultLeaseTTL bounds how long a crashed process can block other passes.
const DefaultLeaseTTL = 2 * time.Minute

// ErrPassInProgress is returned by Exclusive while a pass runs here or in another process.
var ErrPassInProgress = errors.New("sync pass in progress")

// PassSummary describes what one Trigger call did.
type PassSummary struct {
	Ran       bool          `json:"ran"`
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Retried   int           `json:"retried"`
	Recovered int           `json:"recovered"`
	Duration  time.Duration `json:"duration"`
}

// Orchestrator drains pending actions through the transport. At most one pass runs at a time.
type Orchestrator struct {
	store        domain.QueueStore
	transport    domain.Transport
	connectivity domain.ConnectivityProvider
	clock        domain.Clock
	notifier     domain.Notifier
	sweeper      *Sweeper
	policy       RetryPolicy
	logger       *zerolog.Logger

	lease    domain.PassLease
	leaseTTL time.Duration
	owner    string

	running atomic.Bool
}

func NewOrchestrator(
	store domain.QueueStore,
	transport domain.Transport,
	connectivity domain.ConnectivityProvider,
	clock domain.Clock,
	notifier domain.Notifier,
	sweeper *Sweeper,
	logger *zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:        store,
		transport:    transport,
		connectivity: connectivity,
		clock:        clock,
		notifier:     notifier,
		sweeper:      sweeper,
		policy:       RetryPolicy{MaxRetries: DefaultMaxRetries},
		logger:       logging.Component(logger, "orchestrator"),
		owner:        uuid.NewString(),
	}
}

// UseLease makes passes exclusive across processes sharing the store.
// Without a lease only passes within this process are serialized.
func (o *Orchestrator) UseLease(lease domain.PassLease, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	o.lease = lease
	o.leaseTTL = ttl
}

func (o *Orchestrator) busy() bool {
	return o.running.Load()
}

// acquire takes the in-process flag and then the store lease. The returned
// release func must be called when ok is true.
func (o *Orchestrator) acquire(ctx context.Context) (release func(), ok bool, err error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	if o.lease == nil {
		return func() { o.running.Store(false) }, true, nil
	}

	held, err := o.lease.AcquireLease(ctx, o.owner, o.leaseTTL)
	if err != nil || !held {
		o.running.Store(false)
		return nil, false, err
	}
	return func() {
		defer o.running.Store(false)
		if err := o.lease.ReleaseLease(context.WithoutCancel(ctx), o.owner); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to release sync lease")
		}
	}, true, nil
}

// Exclusive runs fn while no pass can run in this or another process.
func (o *Orchestrator) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	release, ok, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPassInProgress
	}
	defer release()
	return fn(ctx)
}

// Trigger runs one sync pass. It returns Ran=false without error when offline
// or when another pass already holds the flag.
func (o *Orchestrator) Trigger(ctx context.Context) (summary PassSummary, err error) {
	if !o.connectivity.IsOnline() {
		o.logger.Debug().Msg("Offline, skipping sync pass")
		return PassSummary{}, nil
	}
	release, ok, err := o.acquire(ctx)
	if err != nil {
		return PassSummary{}, err
	}
	if !ok {
		o.logger.Debug().Msg("Sync pass already in progress")
		return PassSummary{}, nil
	}
	defer release()

	started := time.Now()
	summary.Ran = true
	defer func() {
		summary.Duration = time.Since(started)
		metrics.ObservePass(summary.Duration)
	}()

	summary.Recovered, err = o.recoverStale(ctx)
	if err != nil {
		return summary, err
	}

	pending, err := o.store.List(ctx, models.ActionFilter{Statuses: []models.ActionStatus{models.ActionPending}})
	if err != nil {
		return summary, err
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})

	o.logger.Debug().Int("pending", len(pending)).Msg("Sync pass started")

	var passErr error
	for i := range pending {
		if ctx.Err() != nil {
			o.logger.Warn().Int("remaining", len(pending)-i).Msg("Sync pass cancelled")
			break
		}
		if o.lease != nil {
			held, err := o.lease.AcquireLease(ctx, o.owner, o.leaseTTL)
			if err != nil {
				passErr = err
				break
			}
			if !held {
				o.logger.Warn().Int("remaining", len(pending)-i).Msg("Sync lease lost, stopping pass")
				break
			}
		}
		if err := o.process(ctx, pending[i], &summary); err != nil {
			passErr = err
			break
		}
	}

	if o.notifier != nil && (summary.Synced > 0 || summary.Failed > 0) {
		note := models.SyncSummary{Synced: summary.Synced, Failed: summary.Failed, At: o.clock.Now()}
		if err := o.notifier.Summarize(context.WithoutCancel(ctx), note); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to deliver sync summary")
		}
	}

	if o.sweeper != nil {
		if _, err := o.sweeper.Sweep(context.WithoutCancel(ctx)); err != nil {
			o.logger.Error().Err(err).Msg("Cleanup after sync pass failed")
		}
	}

	o.logger.Info().
		Int("synced", summary.Synced).
		Int("failed", summary.Failed).
		Int("retried", summary.Retried).
		Msg("Sync pass finished")

	return summary, passErr
}

// process delivers a single action and persists the outcome. Only storage errors are returned.
// Once started the delivery is not cancelled by ctx; the transport timeout bounds it.
func (o *Orchestrator) process(ctx context.Context, action models.QueuedAction, summary *PassSummary) error {
	persistCtx := context.WithoutCancel(ctx)

	start, err := o.policy.Apply(action, EventStart, "")
	if err != nil {
		return err
	}
	if err := o.store.Update(persistCtx, action.ID, start); err != nil {
		return err
	}
	action = start.Apply(action)

	// action must not stay syncing if the result write fails or the transport panics
	resolved := false
	defer func() {
		if resolved {
			return
		}
		reset := models.ActionPatch{Status: models.StatusPtr(models.ActionPending)}
		if err := o.store.Update(persistCtx, action.ID, reset); err != nil {
			o.logger.Error().Err(err).Str("action_id", action.ID).Msg("Failed to return interrupted action to pending")
		}
	}()

	deliveryErr := o.transport.Deliver(persistCtx, action.Request())

	event, cause := EventSuccess, ""
	if deliveryErr != nil {
		event, cause = EventFailure, deliveryErr.Error()
	}

	patch, err := o.policy.Apply(action, event, cause)
	if err != nil {
		return err
	}
	if err := o.store.Update(persistCtx, action.ID, patch); err != nil {
		return err
	}
	resolved = true

	result := patch.Apply(action)
	log := o.logger.With().Str("action_id", action.ID).Str("method", action.Method).Logger()

	switch result.Status {
	case models.ActionSynced:
		summary.Synced++
		metrics.IncDelivery(metrics.OutcomeSynced)
		log.Debug().Msg("Action synced")
	case models.ActionFailed:
		summary.Failed++
		metrics.IncDelivery(metrics.OutcomeFailed)
		log.Warn().Int("retry_count", result.RetryCount).Str("error", cause).Msg("Action failed permanently")
	default:
		summary.Retried++
		metrics.IncDelivery(metrics.OutcomeRetried)
		log.Debug().Int("retry_count", result.RetryCount).Str("error", cause).Msg("Action delivery failed, will retry")
	}
	return nil
}

// recoverStale returns actions left in syncing by an interrupted process to pending.
// Callers must hold the running flag and, when configured, the store lease: a live
// pass in another process would otherwise own those actions.
func (o *Orchestrator) recoverStale(ctx context.Context) (int, error) {
	stale, err := o.store.List(ctx, models.ActionFilter{Statuses: []models.ActionStatus{models.ActionSyncing}})
	if err != nil {
		return 0, err
	}

	patch := models.ActionPatch{Status: models.StatusPtr(models.ActionPending)}
	for i := range stale {
		if err := o.store.Update(ctx, stale[i].ID, patch); err != nil {
			return i, err
		}
	}
	if len(stale) > 0 {
		o.logger.Warn().Int("count", len(stale)).Msg("Recovered interrupted deliveries")
	}
	return len(stale), nil
}
