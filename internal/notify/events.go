package notify

import (
	"context"

	"studysync/internal/domain"
	"studysync/internal/events"
	"studysync/internal/models"
)

// EventNotifier publishes summaries to the in-process event bus.
type EventNotifier struct {
	publisher domain.EventPublisher
}

func NewEventNotifier(publisher domain.EventPublisher) *EventNotifier {
	return &EventNotifier{publisher: publisher}
}

func (n *EventNotifier) Summarize(_ context.Context, s models.SyncSummary) error {
	return n.publisher.PublishJSON(events.EventSyncSummary, events.SyncSummaryPayload{
		Synced: s.Synced,
		Failed: s.Failed,
		At:     s.At,
	})
}
