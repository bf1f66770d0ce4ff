package services

import (
	"context"
	"log/slog"
	"time"

	"saldo/internal/core"
	"saldo/internal/feed"
	"saldo/internal/ledger"
)

// RecomputeObserver receives one call per balance recomputation.
type RecomputeObserver interface {
	ObserveRecompute(scope string, took time.Duration, rows, warnings int)
}

// UserBalance is one user's settled position within a scope.
type UserBalance struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Balance     int64  `json:"balance"`
	Owes        int64  `json:"owes"`
	Owed        int64  `json:"owed"`
}

// BalanceService computes balances from complete snapshots, either on demand
// or continuously through the feed.
type BalanceService struct {
	loader   feed.Snapshotter
	feed     *feed.Feed
	observer RecomputeObserver
}

// NewBalanceService accepts a nil observer.
func NewBalanceService(loader feed.Snapshotter, f *feed.Feed, observer RecomputeObserver) *BalanceService {
	return &BalanceService{loader: loader, feed: f, observer: observer}
}

// Balances loads the current snapshot for scope and returns its report.
func (s *BalanceService) Balances(ctx context.Context, scope feed.Scope) (ledger.Report, error) {
	snap, err := s.loader.Load(ctx, scope)
	if err != nil {
		return ledger.Report{}, err
	}
	return s.report(ctx, snap), nil
}

// BalanceOf returns userID's balance within scope. A user with nothing
// outstanding gets zero, not an error.
func (s *BalanceService) BalanceOf(ctx context.Context, scope feed.Scope, userID string) (UserBalance, error) {
	snap, err := s.loader.Load(ctx, scope)
	if err != nil {
		return UserBalance{}, err
	}
	res := ledger.Compute(snap.Expenses)
	s.logWarnings(ctx, scope, res.Warnings)

	summary := ledger.Summarize(res, userID)
	name := snap.Names[userID]
	if name == "" {
		name = core.FallbackName(userID)
	}
	return UserBalance{
		UserID:      userID,
		DisplayName: name,
		Balance:     ledger.BalanceOf(ledger.Settle(res.Balances), userID),
		Owes:        summary.Owes,
		Owed:        summary.Owed,
	}, nil
}

// Watch publishes a fresh report for every snapshot the feed delivers. Load
// failures reach onError and never look like an empty report.
func (s *BalanceService) Watch(scope feed.Scope, onReport func(ledger.Report), onError func(error)) *feed.Subscription {
	return s.feed.Subscribe(scope, func(snap feed.Snapshot) {
		onReport(s.report(context.Background(), snap))
	}, onError)
}

func (s *BalanceService) report(ctx context.Context, snap feed.Snapshot) ledger.Report {
	start := time.Now()
	report := ledger.BuildReport(snap.Expenses, snap.Names)
	took := time.Since(start)

	s.logWarnings(ctx, snap.Scope, report.Warnings)
	if s.observer != nil {
		s.observer.ObserveRecompute(scopeKind(snap.Scope), took, len(report.Rows), len(report.Warnings))
	}
	slog.DebugContext(ctx, "Balances recomputed",
		"scope", snap.Scope.String(),
		"expenses", len(snap.Expenses),
		"rows", len(report.Rows),
		"took", took)
	return report
}

func (s *BalanceService) logWarnings(ctx context.Context, scope feed.Scope, warnings []ledger.Warning) {
	for _, w := range warnings {
		slog.WarnContext(ctx, "Skipped malformed expense",
			"scope", scope.String(),
			"group_id", w.GroupID,
			"expense_id", w.ExpenseID,
			"reason", w.Reason)
	}
}

func scopeKind(scope feed.Scope) string {
	if scope.Global() {
		return "global"
	}
	return "user"
}
