package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"studysync/internal/config"
	"studysync/internal/models"
	"studysync/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, method, url string, headers map[string]string, body any) (string, error) {
	args := m.Called(ctx, method, url, headers, body)
	return args.String(0), args.Error(1)
}

func (m *mockQueue) Trigger(ctx context.Context) (worker.PassSummary, error) {
	args := m.Called(ctx)
	return args.Get(0).(worker.PassSummary), args.Error(1)
}

func (m *mockQueue) RetryFailed(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockQueue) Status(ctx context.Context) (models.StatusCounts, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.StatusCounts), args.Error(1)
}

func (m *mockQueue) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockQueue) Sweep(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func newTestServer(t *testing.T, cfg config.APIConfig, q QueueAPI) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	srv := NewHTTPServer(cfg, q, true, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestStatusEndpoint(t *testing.T) {
	q := &mockQueue{}
	q.On("Status", mock.Anything).Return(models.StatusCounts{Pending: 2, Failed: 1, Total: 3}, nil)
	ts := newTestServer(t, config.APIConfig{}, q)

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/queue/status", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var counts models.StatusCounts
	decode(t, resp, &counts)
	assert.Equal(t, models.StatusCounts{Pending: 2, Failed: 1, Total: 3}, counts)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/queue/status", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEnqueueEndpoint(t *testing.T) {
	q := &mockQueue{}
	q.On("Enqueue", mock.Anything, "POST", "/api/sessions", map[string]string{"X-Device": "phone"},
		mock.MatchedBy(func(b any) bool {
			raw, ok := b.(json.RawMessage)
			return ok && string(raw) == `{"minutes":30}`
		})).Return("id-1", nil).Once()
	q.On("Enqueue", mock.Anything, "TRACE", "/x", map[string]string(nil), nil).Return("", models.ErrInvalidMethod).Once()
	ts := newTestServer(t, config.APIConfig{}, q)

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/queue/actions", "",
		`{"method":"POST","url":"/api/sessions","headers":{"X-Device":"phone"},"body":{"minutes":30}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out map[string]string
	decode(t, resp, &out)
	assert.Equal(t, "id-1", out["id"])

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/queue/actions", "", `{"method":"TRACE","url":"/x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/queue/actions", "", `{"unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	q.AssertExpectations(t)
}

func TestSyncRetrySweepClear(t *testing.T) {
	q := &mockQueue{}
	q.On("Trigger", mock.Anything).Return(worker.PassSummary{Ran: true, Synced: 2, Duration: 15 * time.Millisecond}, nil)
	q.On("RetryFailed", mock.Anything).Return(3, nil)
	q.On("Sweep", mock.Anything).Return(1, nil)
	q.On("Clear", mock.Anything).Return(nil)
	ts := newTestServer(t, config.APIConfig{}, q)

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/queue/sync", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sync map[string]any
	decode(t, resp, &sync)
	assert.Equal(t, true, sync["ran"])
	assert.EqualValues(t, 2, sync["synced"])
	assert.EqualValues(t, 15, sync["duration_ms"])

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/queue/retry", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var retry map[string]int
	decode(t, resp, &retry)
	assert.Equal(t, 3, retry["reset"])

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/queue/sweep", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sweep map[string]int
	decode(t, resp, &sweep)
	assert.Equal(t, 1, sweep["removed"])

	resp = do(t, http.MethodDelete, ts.URL+"/api/v1/queue", "", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/queue", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStorageErrorMapsTo503(t *testing.T) {
	q := &mockQueue{}
	q.On("Status", mock.Anything).Return(models.StatusCounts{}, models.NewStorageError("list", errors.New("disk full")))
	q.On("Sweep", mock.Anything).Return(0, errors.New("boom"))
	q.On("Clear", mock.Anything).Return(worker.ErrPassInProgress)
	ts := newTestServer(t, config.APIConfig{}, q)

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/queue/status", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/queue/sweep", "", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp = do(t, http.MethodDelete, ts.URL+"/api/v1/queue", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func authConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: "reader", Name: "dashboard", Permissions: []string{PermRead}},
				{Key: "operator", Name: "ops", Permissions: []string{PermRead, PermWrite}},
				{Key: "root", Name: "admin", Permissions: []string{PermAdmin}},
				{Key: "any", Name: "legacy"},
			},
		},
	}
}

func TestAuth(t *testing.T) {
	q := &mockQueue{}
	q.On("Status", mock.Anything).Return(models.StatusCounts{}, nil)
	q.On("Sweep", mock.Anything).Return(0, nil)
	q.On("Clear", mock.Anything).Return(nil)
	ts := newTestServer(t, authConfig(), q)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"MissingKey", http.MethodGet, "/api/v1/queue/status", "", http.StatusUnauthorized},
		{"InvalidKey", http.MethodGet, "/api/v1/queue/status", "nope", http.StatusUnauthorized},
		{"ReaderCanRead", http.MethodGet, "/api/v1/queue/status", "reader", http.StatusOK},
		{"ReaderCannotWrite", http.MethodPost, "/api/v1/queue/sweep", "reader", http.StatusForbidden},
		{"OperatorCanWrite", http.MethodPost, "/api/v1/queue/sweep", "operator", http.StatusOK},
		{"OperatorCannotClear", http.MethodDelete, "/api/v1/queue", "operator", http.StatusForbidden},
		{"AdminCanClear", http.MethodDelete, "/api/v1/queue", "root", http.StatusNoContent},
		{"NoPermissionsMeansAll", http.MethodDelete, "/api/v1/queue", "any", http.StatusNoContent},
		{"HealthIsPublic", http.MethodGet, "/healthz", "", http.StatusOK},
		{"MetricsIsPublic", http.MethodGet, "/metrics", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path, tt.key, "")
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRateLimitPerKey(t *testing.T) {
	q := &mockQueue{}
	q.On("Status", mock.Anything).Return(models.StatusCounts{}, nil)
	cfg := authConfig()
	cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 2}
	ts := newTestServer(t, cfg, q)

	for i := 0; i < 2; i++ {
		resp := do(t, http.MethodGet, ts.URL+"/api/v1/queue/status", "reader", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := do(t, http.MethodGet, ts.URL+"/api/v1/queue/status", "reader", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// a different key has its own bucket
	resp = do(t, http.MethodGet, ts.URL+"/api/v1/queue/status", "operator", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimiterReusesBucket(t *testing.T) {
	l := newRateLimiter(config.RateLimitConfig{RPS: 1})
	assert.Same(t, l.getLimiter("a"), l.getLimiter("a"))
	assert.NotSame(t, l.getLimiter("a"), l.getLimiter("b"))
	assert.True(t, newRateLimiter(config.RateLimitConfig{}).allow("x"))
}
