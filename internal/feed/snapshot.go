// Package feed turns store change notifications into complete, deduplicated
// expense snapshots for the ledger.
package feed

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"saldo/internal/core"
)

// Scope selects which expenses a snapshot covers. The zero value is the
// global view; with UserID set only groups the user belongs to are included.
type Scope struct {
	UserID string
}

func (s Scope) Global() bool { return s.UserID == "" }

func (s Scope) String() string {
	if s.Global() {
		return "global"
	}
	return "user:" + s.UserID
}

type ExpenseSource interface {
	ExpenseSnapshot(ctx context.Context, scope Scope) ([]core.Expense, error)
}

type NameSource interface {
	DisplayNames(ctx context.Context) (map[string]string, error)
}

// Snapshot is a complete view of the expenses in a scope together with the
// names needed to present them.
type Snapshot struct {
	Scope    Scope
	Expenses []core.Expense
	Names    map[string]string
	LoadedAt time.Time
}

// Snapshotter produces snapshots; Loader is the production implementation.
type Snapshotter interface {
	Load(ctx context.Context, scope Scope) (Snapshot, error)
}

type Loader struct {
	expenses ExpenseSource
	names    NameSource
}

func NewLoader(expenses ExpenseSource, names NameSource) *Loader {
	return &Loader{expenses: expenses, names: names}
}

// Load fetches expenses and names concurrently and returns only once both are
// available. Either failure fails the whole load.
func (l *Loader) Load(ctx context.Context, scope Scope) (Snapshot, error) {
	var (
		expenses []core.Expense
		names    map[string]string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		expenses, err = l.expenses.ExpenseSnapshot(gctx, scope)
		if err != nil {
			return fmt.Errorf("load expenses: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		names, err = l.names.DisplayNames(gctx)
		if err != nil {
			return fmt.Errorf("load display names: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Scope:    scope,
		Expenses: Dedupe(expenses),
		Names:    names,
		LoadedAt: time.Now(),
	}, nil
}

// Dedupe drops repeated (group, id) pairs, keeping the last copy seen in the
// position of the first. Expenses without an id are kept as they are.
func Dedupe(expenses []core.Expense) []core.Expense {
	type key struct{ group, id string }
	index := make(map[key]int, len(expenses))
	out := make([]core.Expense, 0, len(expenses))
	for _, e := range expenses {
		if e.ID == "" {
			out = append(out, e)
			continue
		}
		k := key{e.GroupID, e.ID}
		if i, ok := index[k]; ok {
			out[i] = e
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	return out
}
