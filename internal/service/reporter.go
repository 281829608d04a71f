package service

import (
	"context"

	"studysync/internal/domain"
	"studysync/internal/models"
)

// StatusReporter counts queued actions per status. It never writes.
type StatusReporter struct {
	store domain.QueueStore
}

func NewStatusReporter(store domain.QueueStore) *StatusReporter {
	return &StatusReporter{store: store}
}

func (r *StatusReporter) Status(ctx context.Context) (models.StatusCounts, error) {
	actions, err := r.store.List(ctx, models.ActionFilter{})
	if err != nil {
		return models.StatusCounts{}, err
	}
	var counts models.StatusCounts
	for i := range actions {
		counts.Add(actions[i].Status)
	}
	return counts, nil
}
