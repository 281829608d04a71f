package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"studysync/internal/clock"
	"studysync/internal/database"
	"studysync/internal/domain"
	"studysync/internal/models"
	"studysync/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type staticConnectivity struct {
	online atomic.Bool
}

func newConnectivity(online bool) *staticConnectivity {
	c := &staticConnectivity{}
	c.online.Store(online)
	return c
}

func (c *staticConnectivity) IsOnline() bool  { return c.online.Load() }
func (c *staticConnectivity) OnOnline(func()) {}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Deliver(ctx context.Context, req models.DeliveryRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Summarize(ctx context.Context, summary models.SyncSummary) error {
	args := m.Called(ctx, summary)
	return args.Error(0)
}

// funcTransport lets a test run arbitrary code inside a delivery.
type funcTransport func(ctx context.Context, req models.DeliveryRequest) error

func (f funcTransport) Deliver(ctx context.Context, req models.DeliveryRequest) error {
	return f(ctx, req)
}

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *repository.MemoryQueueStore, offset time.Duration, status models.ActionStatus, retries int) string {
	t.Helper()
	id, err := store.Add(context.Background(), &models.QueuedAction{
		Method:     "POST",
		URL:        "/api/sessions",
		Body:       []byte(`{"minutes":25}`),
		Timestamp:  baseTime.Add(offset),
		Status:     status,
		RetryCount: retries,
	})
	require.NoError(t, err)
	return id
}

func newTestOrchestrator(store *repository.MemoryQueueStore, transport domain.Transport, online bool, notifier *mockNotifier) (*Orchestrator, *clock.Fake) {
	clk := clock.NewFake(baseTime.Add(time.Hour))
	logger := zerolog.Nop()
	sweeper := NewSweeper(store, clk, &logger)
	var n domain.Notifier
	if notifier != nil {
		n = notifier
	}
	o := NewOrchestrator(store, transport, newConnectivity(online), clk, n, sweeper, &logger)
	o.UseLease(store, time.Minute)
	return o, clk
}

func getAction(t *testing.T, store *repository.MemoryQueueStore, id string) *models.QueuedAction {
	t.Helper()
	a, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestTrigger_Offline(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	id := seed(t, store, 0, models.ActionPending, 0)
	transport := &mockTransport{}

	o, _ := newTestOrchestrator(store, transport, false, nil)
	summary, err := o.Trigger(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Ran)

	transport.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
	assert.Equal(t, models.ActionPending, getAction(t, store, id).Status)
}

func TestTrigger_SuccessfulPass(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	id := seed(t, store, 0, models.ActionPending, 0)

	transport := &mockTransport{}
	transport.On("Deliver", mock.Anything, mock.MatchedBy(func(r models.DeliveryRequest) bool {
		return r.ActionID == id && r.Method == "POST" && r.URL == "/api/sessions"
	})).Return(nil).Once()

	notifier := &mockNotifier{}
	notifier.On("Summarize", mock.Anything, mock.MatchedBy(func(s models.SyncSummary) bool {
		return s.Synced == 1 && s.Failed == 0
	})).Return(nil).Once()

	o, _ := newTestOrchestrator(store, transport, true, notifier)
	summary, err := o.Trigger(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Ran)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, models.ActionSynced, getAction(t, store, id).Status)
	assert.False(t, o.busy())

	transport.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestTrigger_FailureBecomesRetry(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	id := seed(t, store, 0, models.ActionPending, 0)

	transport := &mockTransport{}
	transport.On("Deliver", mock.Anything, mock.Anything).Return(errors.New("503 Service Unavailable"))

	notifier := &mockNotifier{}
	o, _ := newTestOrchestrator(store, transport, true, notifier)

	summary, err := o.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retried)

	a := getAction(t, store, id)
	assert.Equal(t, models.ActionPending, a.Status)
	assert.Equal(t, 1, a.RetryCount)
	assert.Equal(t, "503 Service Unavailable", a.ErrorText())

	// nothing synced or failed, no summary
	notifier.AssertNotCalled(t, "Summarize", mock.Anything, mock.Anything)
}

func TestTrigger_ThreeFailuresPark(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	id := seed(t, store, 0, models.ActionPending, 0)

	transport := &mockTransport{}
	transport.On("Deliver", mock.Anything, mock.Anything).Return(errors.New("connection refused")).Times(3)

	notifier := &mockNotifier{}
	notifier.On("Summarize", mock.Anything, models.SyncSummary{Synced: 0, Failed: 1, At: baseTime.Add(time.Hour)}).Return(nil).Once()

	o, _ := newTestOrchestrator(store, transport, true, notifier)
	ctx := context.Background()

	wantRetries := []int{1, 2, 3}
	for i, want := range wantRetries {
		_, err := o.Trigger(ctx)
		require.NoError(t, err)
		a := getAction(t, store, id)
		assert.Equal(t, want, a.RetryCount, "pass %d", i+1)
		if want < DefaultMaxRetries {
			assert.Equal(t, models.ActionPending, a.Status)
		} else {
			assert.Equal(t, models.ActionFailed, a.Status)
			assert.Equal(t, "connection refused", a.ErrorText())
		}
	}

	// a fourth pass must not touch a failed action
	summary, err := o.Trigger(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Ran)
	assert.Zero(t, summary.Synced+summary.Failed+summary.Retried)

	transport.AssertNumberOfCalls(t, "Deliver", 3)
	notifier.AssertExpectations(t)
}

func TestTrigger_SingleFlight(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	seed(t, store, 0, models.ActionPending, 0)
	seed(t, store, time.Second, models.ActionPending, 0)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	transport := funcTransport(func(ctx context.Context, _ models.DeliveryRequest) error {
		if calls.Add(1) == 1 {
			entered <- struct{}{}
			<-release
		}
		return nil
	})

	o, _ := newTestOrchestrator(store, transport, true, nil)

	var wg sync.WaitGroup
	var first PassSummary
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, _ = o.Trigger(context.Background())
	}()

	<-entered
	assert.True(t, o.busy())

	second, err := o.Trigger(context.Background())
	require.NoError(t, err)
	assert.False(t, second.Ran)

	close(release)
	wg.Wait()

	assert.True(t, first.Ran)
	assert.Equal(t, 2, first.Synced)
	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, o.busy())
}

func TestTrigger_NoSyncingPersistedAfterPass(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	for i := 0; i < 5; i++ {
		seed(t, store, time.Duration(i)*time.Second, models.ActionPending, 0)
	}

	var n atomic.Int32
	transport := funcTransport(func(ctx context.Context, req models.DeliveryRequest) error {
		a, err := store.Get(ctx, req.ActionID)
		require.NoError(t, err)
		assert.Equal(t, models.ActionSyncing, a.Status)
		if n.Add(1)%2 == 0 {
			return errors.New("timeout")
		}
		return nil
	})

	o, _ := newTestOrchestrator(store, transport, true, nil)
	_, err := o.Trigger(context.Background())
	require.NoError(t, err)

	all, err := store.List(context.Background(), models.ActionFilter{})
	require.NoError(t, err)
	for _, a := range all {
		assert.NotEqual(t, models.ActionSyncing, a.Status)
	}
}

func TestTrigger_FIFOOrder(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	late := seed(t, store, 2*time.Minute, models.ActionPending, 0)
	early := seed(t, store, 0, models.ActionPending, 0)
	middle := seed(t, store, time.Minute, models.ActionPending, 0)

	var order []string
	transport := funcTransport(func(_ context.Context, req models.DeliveryRequest) error {
		order = append(order, req.ActionID)
		return nil
	})

	o, _ := newTestOrchestrator(store, transport, true, nil)
	_, err := o.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{early, middle, late}, order)
}

func TestTrigger_CancelStopsBetweenActions(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	first := seed(t, store, 0, models.ActionPending, 0)
	second := seed(t, store, time.Second, models.ActionPending, 0)

	ctx, cancel := context.WithCancel(context.Background())
	transport := funcTransport(func(context.Context, models.DeliveryRequest) error {
		cancel()
		return nil
	})

	o, _ := newTestOrchestrator(store, transport, true, nil)
	summary, err := o.Trigger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)

	assert.Equal(t, models.ActionSynced, getAction(t, store, first).Status)
	b := getAction(t, store, second)
	assert.Equal(t, models.ActionPending, b.Status)
	assert.Equal(t, 0, b.RetryCount)
}

func TestTrigger_RecoversStaleSyncing(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	id := seed(t, store, 0, models.ActionSyncing, 1)

	transport := &mockTransport{}
	transport.On("Deliver", mock.Anything, mock.Anything).Return(nil).Once()

	o, _ := newTestOrchestrator(store, transport, true, nil)
	summary, err := o.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Recovered)
	assert.Equal(t, 1, summary.Synced)

	a := getAction(t, store, id)
	assert.Equal(t, models.ActionSynced, a.Status)
	assert.Equal(t, 1, a.RetryCount)
}

func TestTrigger_NotifierErrorIgnored(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	seed(t, store, 0, models.ActionPending, 0)

	transport := &mockTransport{}
	transport.On("Deliver", mock.Anything, mock.Anything).Return(nil)
	notifier := &mockNotifier{}
	notifier.On("Summarize", mock.Anything, mock.Anything).Return(errors.New("chat unreachable"))

	o, _ := newTestOrchestrator(store, transport, true, notifier)
	summary, err := o.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
}

func TestTrigger_PanicReleasesFlag(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	seed(t, store, 0, models.ActionPending, 0)

	transport := funcTransport(func(context.Context, models.DeliveryRequest) error {
		panic("transport bug")
	})
	o, _ := newTestOrchestrator(store, transport, true, nil)

	assert.Panics(t, func() { _, _ = o.Trigger(context.Background()) })
	assert.False(t, o.busy())

	// the interrupted action goes back to pending and the lease is free again
	all, err := store.List(context.Background(), models.ActionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.ActionPending, all[0].Status)
	assert.Equal(t, 0, all[0].RetryCount)

	got, err := store.AcquireLease(context.Background(), "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestTrigger_SweepsAfterPass(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	old := seed(t, store, 0, models.ActionSynced, 0)

	transport := &mockTransport{}
	o, clk := newTestOrchestrator(store, transport, true, nil)
	clk.Set(baseTime.Add(8 * 24 * time.Hour))

	_, err := o.Trigger(context.Background())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), old)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTrigger_CallerCancelDoesNotAbortDelivery(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	first := seed(t, store, 0, models.ActionPending, 0)
	second := seed(t, store, time.Second, models.ActionPending, 0)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	transport := funcTransport(func(dctx context.Context, _ models.DeliveryRequest) error {
		calls.Add(1)
		cancel()
		select {
		case <-dctx.Done():
			return dctx.Err()
		case <-time.After(20 * time.Millisecond):
			return nil
		}
	})

	o, _ := newTestOrchestrator(store, transport, true, nil)
	summary, err := o.Trigger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, int32(1), calls.Load())

	a := getAction(t, store, first)
	assert.Equal(t, models.ActionSynced, a.Status)
	assert.Equal(t, 0, a.RetryCount)
	assert.Nil(t, a.Error)

	b := getAction(t, store, second)
	assert.Equal(t, models.ActionPending, b.Status)
	assert.Equal(t, 0, b.RetryCount)
}

// resultFailStore refuses to persist delivery results.
type resultFailStore struct {
	*repository.MemoryQueueStore
}

func (s resultFailStore) Update(ctx context.Context, id string, patch models.ActionPatch) error {
	if patch.Status != nil && *patch.Status == models.ActionSynced {
		return models.NewStorageError("update", errors.New("disk I/O error"))
	}
	return s.MemoryQueueStore.Update(ctx, id, patch)
}

func TestTrigger_ResultWriteFailureLeavesNoSyncing(t *testing.T) {
	mem := repository.NewMemoryQueueStore()
	id := seed(t, mem, 0, models.ActionPending, 0)
	store := resultFailStore{mem}

	transport := &mockTransport{}
	transport.On("Deliver", mock.Anything, mock.Anything).Return(nil).Once()

	clk := clock.NewFake(baseTime.Add(time.Hour))
	logger := zerolog.Nop()
	o := NewOrchestrator(store, transport, newConnectivity(true), clk, nil, nil, &logger)

	_, err := o.Trigger(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsStorageError(err))

	a := getAction(t, mem, id)
	assert.Equal(t, models.ActionPending, a.Status)
	assert.Equal(t, 0, a.RetryCount)
}

func TestTrigger_LeaseHeldByAnotherProcess(t *testing.T) {
	store := repository.NewMemoryQueueStore()
	id := seed(t, store, 0, models.ActionSyncing, 0)

	got, err := store.AcquireLease(context.Background(), "daemon", time.Minute)
	require.NoError(t, err)
	require.True(t, got)

	transport := &mockTransport{}
	o, _ := newTestOrchestrator(store, transport, true, nil)

	summary, err := o.Trigger(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Ran)
	assert.False(t, o.busy())
	transport.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)

	// the other process still owns its in-flight action
	assert.Equal(t, models.ActionSyncing, getAction(t, store, id).Status)

	assert.ErrorIs(t, o.Exclusive(context.Background(), func(context.Context) error { return nil }), ErrPassInProgress)

	require.NoError(t, store.ReleaseLease(context.Background(), "daemon"))
	transport.On("Deliver", mock.Anything, mock.Anything).Return(nil).Once()
	summary, err = o.Trigger(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Ran)
	assert.Equal(t, 1, summary.Recovered)
}

func TestTrigger_TwoProcessesShareOneDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	logger := zerolog.Nop()
	dbA, err := database.NewDB(path, &logger)
	require.NoError(t, err)
	defer dbA.Close()
	dbB, err := database.NewDB(path, &logger)
	require.NoError(t, err)
	defer dbB.Close()

	_, err = dbA.Add(context.Background(), &models.QueuedAction{
		Method: "POST", URL: "/api/sessions", Timestamp: baseTime, Status: models.ActionPending,
	})
	require.NoError(t, err)

	clk := clock.NewFake(baseTime.Add(time.Hour))
	var calls atomic.Int32
	var orchestratorB *Orchestrator
	var insideB PassSummary
	var insideErr error

	transportA := funcTransport(func(ctx context.Context, _ models.DeliveryRequest) error {
		calls.Add(1)
		insideB, insideErr = orchestratorB.Trigger(context.Background())
		return nil
	})
	transportB := funcTransport(func(context.Context, models.DeliveryRequest) error {
		calls.Add(1)
		return nil
	})

	orchestratorA := NewOrchestrator(dbA, transportA, newConnectivity(true), clk, nil, nil, &logger)
	orchestratorA.UseLease(dbA, time.Minute)
	orchestratorB = NewOrchestrator(dbB, transportB, newConnectivity(true), clk, nil, nil, &logger)
	orchestratorB.UseLease(dbB, time.Minute)

	summary, err := orchestratorA.Trigger(context.Background())
	require.NoError(t, err)
	require.NoError(t, insideErr)

	assert.True(t, summary.Ran)
	assert.Equal(t, 1, summary.Synced)
	assert.False(t, insideB.Ran)
	assert.Zero(t, insideB.Recovered)
	assert.Equal(t, int32(1), calls.Load())

	// once A is done B can run, and finds nothing left
	summary, err = orchestratorB.Trigger(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Ran)
	assert.Zero(t, summary.Synced+summary.Recovered)
	assert.Equal(t, int32(1), calls.Load())
}
