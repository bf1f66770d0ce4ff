// Package ledger computes net balances from group expenses.
//
// Compute is a pure fold: it keeps no state between calls, never fails on bad
// data and gives the same result for any permutation of its input. Malformed
// records are skipped and reported as warnings.
//
// Even split convention: for every participant other than the payer, the
// participant is debited amount/n and the payer is credited the same share.
// A payer who is also a participant therefore neither owes nor collects their
// own portion, and the even-split path is exactly zero-sum.
package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// Balances maps user id to a signed net amount. Negative owes, positive is owed.
type Balances map[string]decimal.Decimal

// Warning describes an expense, or part of one, that was skipped.
type Warning struct {
	GroupID   string
	ExpenseID string
	Reason    string
}

func (w Warning) String() string {
	return fmt.Sprintf("expense %s/%s: %s", w.GroupID, w.ExpenseID, w.Reason)
}

// Result is the output of one fold. Debits and Credits hold the gross amounts
// behind each net balance.
type Result struct {
	Balances Balances
	Debits   Balances
	Credits  Balances
	Warnings []Warning
}

const (
	ReasonNoParticipants = "no participants"
	ReasonMissingPayer   = "missing payer"
	ReasonNegativeAmount = "negative amount"
	ReasonInvalidDebt    = "invalid explicit debt"
)

// Compute folds all expenses into per-user balances. The caller is expected
// to hand over a deduplicated snapshot; duplicates are counted twice.
func Compute(expenses []core.Expense) Result {
	r := Result{
		Balances: Balances{},
		Debits:   Balances{},
		Credits:  Balances{},
	}
	for _, e := range expenses {
		if e.HasExplicitDebts() {
			r.applyDebts(e)
			continue
		}
		r.applyEvenSplit(e)
	}
	return r
}

func (r *Result) applyDebts(e core.Expense) {
	for i, d := range e.ExplicitDebts {
		if strings.TrimSpace(d.Debtor) == "" || strings.TrimSpace(d.Creditor) == "" || d.Amount.IsNegative() {
			r.warn(e, fmt.Sprintf("%s #%d", ReasonInvalidDebt, i))
			continue
		}
		r.transfer(d.Debtor, d.Creditor, d.Amount)
	}
}

func (r *Result) applyEvenSplit(e core.Expense) {
	n := len(e.Participants)
	switch {
	case n == 0:
		r.warn(e, ReasonNoParticipants)
		return
	case strings.TrimSpace(e.Payer) == "":
		r.warn(e, ReasonMissingPayer)
		return
	case e.Amount.IsNegative():
		r.warn(e, ReasonNegativeAmount)
		return
	}

	share := e.Amount.Div(decimal.NewFromInt(int64(n)))
	for _, p := range e.Participants {
		if p == e.Payer {
			continue
		}
		r.transfer(p, e.Payer, share)
	}
}

// transfer moves amount from debtor to creditor. A self-transfer leaves the
// net unchanged and is kept out of the gross totals.
func (r *Result) transfer(debtor, creditor string, amount decimal.Decimal) {
	r.Balances[debtor] = r.Balances[debtor].Sub(amount)
	r.Balances[creditor] = r.Balances[creditor].Add(amount)
	if debtor == creditor {
		return
	}
	r.Debits[debtor] = r.Debits[debtor].Add(amount)
	r.Credits[creditor] = r.Credits[creditor].Add(amount)
}

func (r *Result) warn(e core.Expense, reason string) {
	r.Warnings = append(r.Warnings, Warning{GroupID: e.GroupID, ExpenseID: e.ID, Reason: reason})
}

// Sum returns the total of all balances. It is zero for any input that only
// uses the even split.
func (b Balances) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, v := range b {
		total = total.Add(v)
	}
	return total
}
