package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saldo/internal/feed"
	"saldo/internal/ledger"
	"saldo/internal/sheets/memory"
)

// fakeFeed hands the worker's callback back to the test and reuses a real
// feed subscription so Unsubscribe behaves as in production.
type fakeFeed struct {
	mu       sync.Mutex
	onReport func(ledger.Report)
	ready    chan struct{}
}

type noopLoader struct{}

func (noopLoader) Load(ctx context.Context, scope feed.Scope) (feed.Snapshot, error) {
	<-ctx.Done()
	return feed.Snapshot{}, ctx.Err()
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ready: make(chan struct{})}
}

func (f *fakeFeed) Watch(scope feed.Scope, onReport func(ledger.Report), onError func(error)) *feed.Subscription {
	f.mu.Lock()
	f.onReport = onReport
	f.mu.Unlock()
	close(f.ready)
	return feed.New(noopLoader{}, feed.NewBroker(), feed.Config{}).Subscribe(scope, nil, nil)
}

func (f *fakeFeed) publish(rows ...ledger.Row) {
	<-f.ready
	f.mu.Lock()
	cb := f.onReport
	f.mu.Unlock()
	cb(ledger.Report{Rows: rows})
}

type flakyWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	inner    *memory.Store
}

func (w *flakyWriter) WriteBalances(ctx context.Context, rows []ledger.Row) (string, error) {
	w.mu.Lock()
	w.calls++
	fail := w.calls <= w.failures
	w.mu.Unlock()
	if fail {
		return "", errors.New("quota exceeded")
	}
	return w.inner.WriteBalances(ctx, rows)
}

type recordingObserver struct {
	mu   sync.Mutex
	errs []error
}

func (o *recordingObserver) ObserveExport(err error, took time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func TestExportWorker_ExportsLatestReport(t *testing.T) {
	f := newFakeFeed()
	store := memory.New()
	w := NewExportWorker(f, store, Config{RetryInterval: 10 * time.Millisecond}, nil)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background()), "second start must fail")

	f.publish(ledger.Row{UserID: "B", Balance: -5}, ledger.Row{UserID: "A", Balance: 5})
	require.Eventually(t, func() bool { return store.Writes() == 1 }, time.Second, 5*time.Millisecond)

	rows, ok := store.Last()
	require.True(t, ok)
	assert.Equal(t, int64(-5), rows[0].Balance)

	require.NoError(t, w.Stop(context.Background()))
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop(context.Background()))
}

func TestExportWorker_SkipsUnchangedTables(t *testing.T) {
	f := newFakeFeed()
	store := memory.New()
	w := NewExportWorker(f, store, Config{}, nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	row := ledger.Row{UserID: "A", Balance: 5}
	f.publish(row)
	require.Eventually(t, func() bool { return store.Writes() == 1 }, time.Second, 5*time.Millisecond)

	f.publish(row)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, store.Writes())

	f.publish(ledger.Row{UserID: "A", Balance: 6})
	require.Eventually(t, func() bool { return store.Writes() == 2 }, time.Second, 5*time.Millisecond)
}

func TestExportWorker_RetriesFailedExport(t *testing.T) {
	f := newFakeFeed()
	writer := &flakyWriter{failures: 2, inner: memory.New()}
	obs := &recordingObserver{}
	w := NewExportWorker(f, writer, Config{RetryInterval: 10 * time.Millisecond}, obs)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	f.publish(ledger.Row{UserID: "A", Balance: 1})
	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.errs) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, writer.inner.Writes())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Error(t, obs.errs[0])
	assert.Error(t, obs.errs[1])
	assert.NoError(t, obs.errs[2])
}
