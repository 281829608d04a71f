package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"studysync/internal/domain"
	"studysync/internal/events"
	"studysync/internal/logging"
	"studysync/internal/models"
	"studysync/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueueService is the entry point for callers that want to send writes
// that survive being offline.
type QueueService struct {
	store        domain.QueueStore
	orchestrator *worker.Orchestrator
	sweeper      *worker.Sweeper
	reporter     *StatusReporter
	connectivity domain.ConnectivityProvider
	clock        domain.Clock
	eventBus     domain.EventPublisher
	policy       worker.RetryPolicy
	logger       *zerolog.Logger

	background sync.WaitGroup
}

func NewQueueService(
	store domain.QueueStore,
	orchestrator *worker.Orchestrator,
	sweeper *worker.Sweeper,
	connectivity domain.ConnectivityProvider,
	clock domain.Clock,
	eventBus domain.EventPublisher,
	logger *zerolog.Logger,
) *QueueService {
	return &QueueService{
		store:        store,
		orchestrator: orchestrator,
		sweeper:      sweeper,
		reporter:     NewStatusReporter(store),
		connectivity: connectivity,
		clock:        clock,
		eventBus:     eventBus,
		policy:       worker.RetryPolicy{MaxRetries: worker.DefaultMaxRetries},
		logger:       logging.Component(logger, "queue"),
	}
}

// Enqueue persists a new pending action and returns its id. When online a
// sync pass is started in the background.
func (s *QueueService) Enqueue(ctx context.Context, method, url string, headers map[string]string, body any) (string, error) {
	m, err := models.NormalizeMethod(method)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, method)
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return "", models.ErrInvalidURL
	}
	raw, err := encodeBody(body)
	if err != nil {
		return "", err
	}

	action := &models.QueuedAction{
		ID:        uuid.NewString(),
		Method:    m,
		URL:       url,
		Headers:   headers,
		Body:      raw,
		Timestamp: s.clock.Now(),
		Status:    models.ActionPending,
	}
	id, err := s.store.Add(ctx, action)
	if err != nil {
		s.logger.Error().Err(err).Str("method", m).Str("url", url).Msg("Failed to queue action")
		return "", err
	}

	s.logger.Info().Str("action_id", id).Str("method", m).Str("url", url).Msg("Action queued")
	s.publish(events.EventActionEnqueued, events.ActionPayload{ActionID: id, Method: m, URL: url, At: action.Timestamp})

	if s.connectivity.IsOnline() {
		s.TriggerAsync(ctx)
	}
	return id, nil
}

// Trigger runs a sync pass and waits for it.
func (s *QueueService) Trigger(ctx context.Context) (worker.PassSummary, error) {
	return s.orchestrator.Trigger(ctx)
}

// TriggerAsync starts a sync pass that outlives ctx's cancellation.
func (s *QueueService) TriggerAsync(ctx context.Context) {
	bg := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.orchestrator.Trigger(bg); err != nil {
			s.logger.Error().Err(err).Msg("Background sync pass failed")
		}
	}()
}

// RetryFailed returns every failed action to pending with a fresh retry
// budget and starts a pass. It reports how many actions were reset.
func (s *QueueService) RetryFailed(ctx context.Context) (int, error) {
	failed, err := s.store.List(ctx, models.ActionFilter{Statuses: []models.ActionStatus{models.ActionFailed}})
	if err != nil {
		return 0, err
	}

	reset := 0
	for i := range failed {
		patch, err := s.policy.Apply(failed[i], worker.EventReset, "")
		if err != nil {
			return reset, err
		}
		if err := s.store.Update(ctx, failed[i].ID, patch); err != nil {
			return reset, err
		}
		reset++
	}

	s.logger.Info().Int("reset", reset).Msg("Failed actions reset")
	s.TriggerAsync(ctx)
	return reset, nil
}

func (s *QueueService) Status(ctx context.Context) (models.StatusCounts, error) {
	return s.reporter.Status(ctx)
}

// Clear drops every action in any status. It fails with worker.ErrPassInProgress
// while a pass runs here or in another process sharing the store.
func (s *QueueService) Clear(ctx context.Context) error {
	if err := s.orchestrator.Exclusive(ctx, s.store.Clear); err != nil {
		return err
	}
	s.logger.Warn().Msg("Queue cleared")
	s.publish(events.EventQueueCleared, map[string]any{"at": s.clock.Now()})
	return nil
}

func (s *QueueService) Sweep(ctx context.Context) (int, error) {
	return s.sweeper.Sweep(ctx)
}

// Wait blocks until background passes started by this service have returned.
func (s *QueueService) Wait() {
	s.background.Wait()
}

func (s *QueueService) publish(eventType string, payload any) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

// encodeBody turns the caller's payload into the bytes sent at delivery.
// Raw JSON is kept verbatim, anything else is marshalled once.
func encodeBody(body any) (json.RawMessage, error) {
	var raw []byte
	switch v := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, models.ErrInvalidBody
		}
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidBody, err)
		}
		raw = b
	}
	if len(raw) > models.MaxBodyBytes {
		return nil, models.ErrBodyTooLarge
	}
	return raw, nil
}
