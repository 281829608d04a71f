package models

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// ActionStatus is the lifecycle state of a queued action.
type ActionStatus string

const (
	ActionPending ActionStatus = "pending"
	ActionSyncing ActionStatus = "syncing"
	ActionSynced  ActionStatus = "synced"
	ActionFailed  ActionStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s ActionStatus) Valid() bool {
	switch s {
	case ActionPending, ActionSyncing, ActionSynced, ActionFailed:
		return true
	}
	return false
}

var allowedMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// NormalizeMethod upper-cases method and checks it against the supported set.
func NormalizeMethod(method string) (string, error) {
	m := strings.ToUpper(strings.TrimSpace(method))
	if _, ok := allowedMethods[m]; !ok {
		return "", ErrInvalidMethod
	}
	return m, nil
}

// QueuedAction is a deferred outbound write persisted until it reaches the remote service.
type QueuedAction struct {
	ID         string            `json:"id"`
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retry_count"`
	Status     ActionStatus      `json:"status"`
	Error      *string           `json:"error,omitempty"`
}

// ErrorText returns the last failure message or an empty string.
func (a *QueuedAction) ErrorText() string {
	if a == nil || a.Error == nil {
		return ""
	}
	return *a.Error
}

// Request builds the transport request for this action.
func (a *QueuedAction) Request() DeliveryRequest {
	return DeliveryRequest{
		ActionID: a.ID,
		Method:   a.Method,
		URL:      a.URL,
		Headers:  a.Headers,
		Body:     a.Body,
	}
}

// ActionPatch is a partial update. Nil fields are left unchanged.
type ActionPatch struct {
	Status     *ActionStatus
	RetryCount *int
	Error      *string
	ClearError bool
}

// Apply merges the patch into a copy of action and returns it.
func (p ActionPatch) Apply(action QueuedAction) QueuedAction {
	if p.Status != nil {
		action.Status = *p.Status
	}
	if p.RetryCount != nil {
		action.RetryCount = *p.RetryCount
	}
	if p.ClearError {
		action.Error = nil
	} else if p.Error != nil {
		msg := *p.Error
		action.Error = &msg
	}
	return action
}

// ActionFilter selects actions by status. An empty filter matches everything.
type ActionFilter struct {
	Statuses []ActionStatus
}

// Match reports whether action passes the filter.
func (f ActionFilter) Match(action *QueuedAction) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if action.Status == s {
			return true
		}
	}
	return false
}

// DeliveryRequest is what the transport sends for one action.
type DeliveryRequest struct {
	ActionID string
	Method   string
	URL      string
	Headers  map[string]string
	Body     json.RawMessage
}

// StatusCounts aggregates the queue by status.
type StatusCounts struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// Add counts one action.
func (c *StatusCounts) Add(status ActionStatus) {
	switch status {
	case ActionPending:
		c.Pending++
	case ActionSyncing:
		c.Syncing++
	case ActionSynced:
		c.Synced++
	case ActionFailed:
		c.Failed++
	}
	c.Total++
}

// SyncSummary is emitted once per pass that delivered or failed something.
type SyncSummary struct {
	Synced int       `json:"synced"`
	Failed int       `json:"failed"`
	At     time.Time `json:"at"`
}

// StatusPtr returns a pointer to s, for building patches.
func StatusPtr(s ActionStatus) *ActionStatus {
	return &s
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}
