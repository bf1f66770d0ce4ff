package ledger

import (
	"sort"

	"saldo/internal/core"
)

// Settled holds whole-unit balances with settled users removed.
type Settled map[string]int64

// Row is one line of the presentation list.
type Row struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Balance     int64  `json:"balance"`
}

// Summary is one user's position: gross owed to others, gross owed to them,
// and the net of both, all rounded.
type Summary struct {
	UserID string `json:"userId"`
	Owes   int64  `json:"owes"`
	Owed   int64  `json:"owed"`
	Net    int64  `json:"net"`
}

// Report is what gets published for every recomputation.
type Report struct {
	Rows     []Row     `json:"rows"`
	Warnings []Warning `json:"-"`
}

// Settle rounds every balance to the nearest whole unit, halves away from
// zero, and drops users whose balance rounds to zero.
func Settle(b Balances) Settled {
	out := make(Settled, len(b))
	for user, v := range b {
		rounded := v.Round(0).IntPart()
		if rounded == 0 {
			continue
		}
		out[user] = rounded
	}
	return out
}

// BalanceOf returns the settled balance for one user, zero when the user has
// nothing outstanding.
func BalanceOf(s Settled, userID string) int64 {
	return s[userID]
}

// Rows builds the sorted presentation list. names may be nil or incomplete;
// missing entries fall back to a placeholder.
func Rows(s Settled, names map[string]string) []Row {
	rows := make([]Row, 0, len(s))
	for user, bal := range s {
		name := names[user]
		if name == "" {
			name = core.FallbackName(user)
		}
		rows = append(rows, Row{UserID: user, DisplayName: name, Balance: bal})
	}
	SortRows(rows)
	return rows
}

// SortRows puts debtors before creditors and, within a sign, larger
// magnitudes first. Ties are broken by user id so output is stable.
func SortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if (a.Balance < 0) != (b.Balance < 0) {
			return a.Balance < 0
		}
		if ma, mb := abs(a.Balance), abs(b.Balance); ma != mb {
			return ma > mb
		}
		return a.UserID < b.UserID
	})
}

// BuildReport runs the whole pipeline for one snapshot.
func BuildReport(expenses []core.Expense, names map[string]string) Report {
	res := Compute(expenses)
	return Report{
		Rows:     Rows(Settle(res.Balances), names),
		Warnings: res.Warnings,
	}
}

// Summarize reports a user's gross and net position from a fold result.
func Summarize(r Result, userID string) Summary {
	return Summary{
		UserID: userID,
		Owes:   r.Debits[userID].Round(0).IntPart(),
		Owed:   r.Credits[userID].Round(0).IntPart(),
		Net:    r.Balances[userID].Round(0).IntPart(),
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
