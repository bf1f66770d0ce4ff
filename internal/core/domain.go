package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	maxDescriptionLen = 200
	maxNameLen        = 100
)

type (
	// Debt is a pre-computed debtor/creditor/amount triple. When an expense
	// carries debts they replace the even split for that expense.
	Debt struct {
		Debtor   string
		Creditor string
		Amount   decimal.Decimal
	}

	Expense struct {
		ID            string
		GroupID       string
		Description   string
		Amount        decimal.Decimal
		Payer         string
		Participants  []string // ordered set
		ExplicitDebts []Debt
		CreatedAt     time.Time
		PhotoURL      string
	}

	Group struct {
		ID          string
		Name        string
		Description string
		Members     []string
		Total       decimal.Decimal // running total of live expenses
		CreatedAt   time.Time
	}

	User struct {
		ID          string
		DisplayName string
	}
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrMissingPayer       = errors.New("missing payer")
	ErrNoParticipants     = errors.New("no participants")
	ErrInvalidDebt        = errors.New("invalid debt")
	ErrEmptyGroupName     = errors.New("empty group name")
	ErrNoMembers          = errors.New("group has no members")
	ErrEmptyUserID        = errors.New("empty user id")
	ErrDescriptionTooLong = fmt.Errorf("description too long (max %d characters)", maxDescriptionLen)
)

// HasExplicitDebts reports whether the debts path applies to this expense.
func (e Expense) HasExplicitDebts() bool {
	return len(e.ExplicitDebts) > 0
}

// Validate checks an expense before it is written. The ledger itself never
// calls this: it has to tolerate whatever the store hands it.
func (e Expense) Validate() error {
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > maxDescriptionLen {
		return ErrDescriptionTooLong
	}
	if e.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if e.HasExplicitDebts() {
		for i, d := range e.ExplicitDebts {
			if err := d.Validate(); err != nil {
				return fmt.Errorf("debt %d: %w", i, err)
			}
		}
		return nil
	}
	if strings.TrimSpace(e.Payer) == "" {
		return ErrMissingPayer
	}
	if len(e.Participants) == 0 {
		return ErrNoParticipants
	}
	return nil
}

func (d Debt) Validate() error {
	if strings.TrimSpace(d.Debtor) == "" || strings.TrimSpace(d.Creditor) == "" {
		return ErrInvalidDebt
	}
	if d.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

func (g Group) Validate() error {
	name := strings.TrimSpace(g.Name)
	if name == "" {
		return ErrEmptyGroupName
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("group name too long (max %d characters)", maxNameLen)
	}
	if len(g.Members) == 0 {
		return ErrNoMembers
	}
	return nil
}

// HasMember reports whether userID belongs to the group.
func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

func (u User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return ErrEmptyUserID
	}
	return nil
}

// Name returns the display name, falling back to a placeholder built from the id.
func (u User) Name() string {
	if n := strings.TrimSpace(u.DisplayName); n != "" {
		return n
	}
	return FallbackName(u.ID)
}

// FallbackName is shown for users whose display name cannot be resolved.
func FallbackName(id string) string {
	return "(ID: " + id + ")"
}

// UniqueIDs trims ids, drops blanks and duplicates, and keeps first-seen order.
func UniqueIDs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
