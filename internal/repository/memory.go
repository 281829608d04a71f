package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"studysync/internal/models"

	"github.com/google/uuid"
)

type memoryEntry struct {
	action models.QueuedAction
	seq    uint64
}

// MemoryQueueStore keeps actions in process memory. Nothing survives a restart.
type MemoryQueueStore struct {
	mu      sync.RWMutex
	actions map[string]*memoryEntry
	seq     uint64

	leaseOwner string
	leaseUntil time.Time
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{actions: make(map[string]*memoryEntry)}
}

func (r *MemoryQueueStore) Add(ctx context.Context, action *models.QueuedAction) (string, error) {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Status == "" {
		action.Status = models.ActionPending
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[action.ID]; exists {
		return "", models.NewStorageError("add", errDuplicateID(action.ID))
	}
	r.seq++
	r.actions[action.ID] = &memoryEntry{action: cloneAction(*action), seq: r.seq}
	return action.ID, nil
}

func (r *MemoryQueueStore) Get(ctx context.Context, id string) (*models.QueuedAction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.actions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	a := cloneAction(e.action)
	return &a, nil
}

func (r *MemoryQueueStore) List(ctx context.Context, filter models.ActionFilter) ([]models.QueuedAction, error) {
	r.mu.RLock()
	entries := make([]*memoryEntry, 0, len(r.actions))
	for _, e := range r.actions {
		if filter.Match(&e.action) {
			entries = append(entries, &memoryEntry{action: cloneAction(e.action), seq: e.seq})
		}
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		ti, tj := entries[i].action.Timestamp, entries[j].action.Timestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return entries[i].seq < entries[j].seq
	})

	out := make([]models.QueuedAction, len(entries))
	for i, e := range entries {
		out[i] = e.action
	}
	return out, nil
}

func (r *MemoryQueueStore) Update(ctx context.Context, id string, patch models.ActionPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.actions[id]
	if !ok {
		return models.ErrNotFound
	}
	e.action = patch.Apply(e.action)
	return nil
}

func (r *MemoryQueueStore) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.actions, id)
	r.mu.Unlock()
	return nil
}

func (r *MemoryQueueStore) Clear(ctx context.Context) error {
	r.mu.Lock()
	r.actions = make(map[string]*memoryEntry)
	r.mu.Unlock()
	return nil
}

func cloneAction(a models.QueuedAction) models.QueuedAction {
	if a.Headers != nil {
		a.Headers = maps.Clone(a.Headers)
	}
	if a.Body != nil {
		a.Body = slices.Clone(a.Body)
	}
	if a.Error != nil {
		msg := *a.Error
		a.Error = &msg
	}
	return a
}
