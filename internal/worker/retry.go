package worker

import (
	"errors"
	"fmt"

	"studysync/internal/models"
)

// DefaultMaxRetries is the number of failed attempts after which an action is parked as failed.
const DefaultMaxRetries = 3

var ErrInvalidTransition = errors.New("invalid status transition")

// Event drives the action state machine.
type Event int

const (
	EventStart Event = iota
	EventSuccess
	EventFailure
	EventReset
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventSuccess:
		return "success"
	case EventFailure:
		return "failure"
	case EventReset:
		return "reset"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// RetryPolicy decides the next status, retry count and error for an action.
// It holds no state and never touches storage.
type RetryPolicy struct {
	MaxRetries int
}

func (r RetryPolicy) maxRetries() int {
	if r.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return r.MaxRetries
}

// Apply returns the patch that moves action through event.
// cause is recorded as the error text on EventFailure and ignored otherwise.
func (r RetryPolicy) Apply(action models.QueuedAction, event Event, cause string) (models.ActionPatch, error) {
	switch {
	case action.Status == models.ActionPending && event == EventStart:
		return models.ActionPatch{Status: models.StatusPtr(models.ActionSyncing)}, nil

	case action.Status == models.ActionSyncing && event == EventSuccess:
		return models.ActionPatch{Status: models.StatusPtr(models.ActionSynced), ClearError: true}, nil

	case action.Status == models.ActionSyncing && event == EventFailure:
		attempts := action.RetryCount + 1
		next := models.ActionPending
		if attempts >= r.maxRetries() {
			next = models.ActionFailed
		}
		return models.ActionPatch{
			Status:     models.StatusPtr(next),
			RetryCount: models.IntPtr(attempts),
			Error:      models.StringPtr(cause),
		}, nil

	case action.Status == models.ActionFailed && event == EventReset:
		return models.ActionPatch{
			Status:     models.StatusPtr(models.ActionPending),
			RetryCount: models.IntPtr(0),
			ClearError: true,
		}, nil
	}

	return models.ActionPatch{}, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, action.Status)
}
