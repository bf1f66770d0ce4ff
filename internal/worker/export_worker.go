package worker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"saldo/internal/feed"
	"saldo/internal/ledger"
	applog "saldo/internal/log"
	"saldo/internal/sheets"
)

// Watcher is the part of the balance service the worker needs.
type Watcher interface {
	Watch(scope feed.Scope, onReport func(ledger.Report), onError func(error)) *feed.Subscription
}

// ExportObserver receives the outcome of every export attempt.
type ExportObserver interface {
	ObserveExport(err error, took time.Duration)
}

type Config struct {
	// RetryInterval is the wait before retrying a failed export (default: 10s)
	RetryInterval time.Duration

	// Timeout bounds a single export call (default: 30s)
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		RetryInterval: 10 * time.Second,
		Timeout:       30 * time.Second,
	}
}

// ExportWorker keeps an external copy of the global balance table current.
// Only the newest report matters: one that arrives while an export is in
// flight replaces any report still waiting, and identical tables are not
// written twice.
type ExportWorker struct {
	watcher  Watcher
	writer   sheets.BalanceWriter
	config   Config
	observer ExportObserver

	latest chan ledger.Report

	mu      sync.Mutex
	running bool
	sub     *feed.Subscription
	stopCh  chan struct{}
	doneCh  chan struct{}

	lastRows []ledger.Row
	exported bool
}

// NewExportWorker accepts a nil observer.
func NewExportWorker(watcher Watcher, writer sheets.BalanceWriter, config Config, observer ExportObserver) *ExportWorker {
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultConfig().RetryInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &ExportWorker{
		watcher:  watcher,
		writer:   writer,
		config:   config,
		observer: observer,
		latest:   make(chan ledger.Report, 1),
	}
}

// Start subscribes to the global feed and begins exporting. Returns an error
// if already running.
func (w *ExportWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("export worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)
	sub := w.watcher.Watch(feed.Scope{}, w.offer, func(err error) {
		slog.WarnContext(ctx, "Balance feed error, keeping last export", applog.FieldError, err)
	})

	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()

	slog.InfoContext(ctx, "Export worker started", "retry_interval", w.config.RetryInterval)
	return nil
}

// Stop unsubscribes and waits for the export loop to finish.
func (w *ExportWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	sub := w.sub
	w.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	close(w.stopCh)

	select {
	case <-w.doneCh:
		slog.InfoContext(ctx, "Export worker stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Export worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.sub = nil
	w.mu.Unlock()
	return nil
}

func (w *ExportWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// offer is called from the feed goroutine, the only producer, so the send
// after draining never blocks.
func (w *ExportWorker) offer(r ledger.Report) {
	select {
	case <-w.latest:
	default:
	}
	w.latest <- r
}

func (w *ExportWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	retry := time.NewTimer(w.config.RetryInterval)
	retry.Stop()
	defer retry.Stop()

	var pending *ledger.Report
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case r := <-w.latest:
			pending = &r
		case <-retry.C:
		}
		if pending == nil {
			continue
		}

		if err := w.export(ctx, pending.Rows); err != nil {
			slog.ErrorContext(ctx, "Balance export failed, will retry",
				applog.FieldError, err,
				applog.FieldRows, len(pending.Rows),
				"retry_in", w.config.RetryInterval)
			retry.Reset(w.config.RetryInterval)
			continue
		}
		retry.Stop()
		pending = nil
	}
}

func (w *ExportWorker) export(ctx context.Context, rows []ledger.Row) error {
	if w.exported && slices.Equal(w.lastRows, rows) {
		slog.DebugContext(ctx, "Balances unchanged, skipping export", applog.FieldRows, len(rows))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	start := time.Now()
	ref, err := w.writer.WriteBalances(ctx, rows)
	if w.observer != nil {
		w.observer.ObserveExport(err, time.Since(start))
	}
	if err != nil {
		return err
	}

	w.lastRows = append([]ledger.Row(nil), rows...)
	w.exported = true
	slog.InfoContext(ctx, "Balances exported", applog.FieldRows, len(rows), applog.FieldSheetsRef, ref)
	return nil
}
