package feed

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultDebounce = 250 * time.Millisecond
	DefaultMaxWait  = 2 * time.Second
)

// Config controls how bursts of notifications are collapsed. A burst ends
// after Debounce without a new notification, or MaxWait after it started,
// whichever comes first.
type Config struct {
	Debounce time.Duration
	MaxWait  time.Duration
}

func DefaultConfig() Config {
	return Config{Debounce: DefaultDebounce, MaxWait: DefaultMaxWait}
}

type Feed struct {
	loader Snapshotter
	broker *Broker
	cfg    Config
}

func New(loader Snapshotter, broker *Broker, cfg Config) *Feed {
	if cfg.MaxWait < cfg.Debounce {
		cfg.MaxWait = cfg.Debounce
	}
	return &Feed{loader: loader, broker: broker, cfg: cfg}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Unsubscribe stops the subscription. A load still in flight is discarded and
// no delivery that has not yet been handed to a callback will be. A callback
// already running keeps running; wait on Done to know it has returned. Safe
// to call more than once and from inside a callback, where waiting on Done
// would deadlock.
func (s *Subscription) Unsubscribe() {
	s.cancel()
}

// Done is closed once the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Subscribe delivers a snapshot straight away and then one full snapshot per
// burst of change notifications. Load failures go to onError and the
// subscription stays alive; the next notification retries. Callbacks run on
// the subscription goroutine, one at a time.
func (f *Feed) Subscribe(scope Scope, onSnapshot func(Snapshot), onError func(error)) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	changes, stop := f.broker.Listen()
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer stop()
		f.run(ctx, scope, changes, onSnapshot, onError)
	}()

	slog.Debug("Feed subscription started", "scope", scope.String())
	return sub
}

func (f *Feed) run(ctx context.Context, scope Scope, changes <-chan struct{}, onSnapshot func(Snapshot), onError func(error)) {
	f.deliver(ctx, scope, onSnapshot, onError)
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
		}
		if !f.settle(ctx, changes) {
			return
		}
		f.deliver(ctx, scope, onSnapshot, onError)
	}
}

// settle waits for the end of the current burst. It returns false if the
// subscription was cancelled meanwhile.
func (f *Feed) settle(ctx context.Context, changes <-chan struct{}) bool {
	if f.cfg.Debounce <= 0 {
		return ctx.Err() == nil
	}
	quiet := time.NewTimer(f.cfg.Debounce)
	defer quiet.Stop()
	deadline := time.NewTimer(f.cfg.MaxWait)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-changes:
			quiet.Reset(f.cfg.Debounce)
		case <-quiet.C:
			return true
		case <-deadline.C:
			return true
		}
	}
}

func (f *Feed) deliver(ctx context.Context, scope Scope, onSnapshot func(Snapshot), onError func(error)) {
	snap, err := f.loader.Load(ctx, scope)
	// Anything produced after Unsubscribe is stale.
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.WarnContext(ctx, "Feed snapshot load failed", "scope", scope.String(), "error", err)
		if onError != nil {
			onError(err)
		}
		return
	}
	if onSnapshot != nil {
		onSnapshot(snap)
	}
}
