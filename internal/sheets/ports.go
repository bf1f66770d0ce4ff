// Package sheets defines where published balances are exported to.
package sheets

import (
	"context"

	"saldo/internal/ledger"
)

// BalanceWriter replaces the exported balance table with rows. ref identifies
// what was written, for logging.
type BalanceWriter interface {
	WriteBalances(ctx context.Context, rows []ledger.Row) (ref string, err error)
}
