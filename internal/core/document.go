package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Document is a loosely typed record as it arrives from JSON clients or the
// message broker. Nothing in it is trusted until ParseExpenseDocument has run.
type Document map[string]any

// ParseExpenseDocument turns a loose document into an Expense. Field problems
// are collected and returned together; the returned Expense carries every
// field that did parse so callers can decide whether to quarantine it.
func ParseExpenseDocument(doc Document) (Expense, error) {
	var (
		e    Expense
		errs []error
	)

	e.ID = stringField(doc, "id")
	e.GroupID = stringField(doc, "groupId")
	e.Description = strings.TrimSpace(stringField(doc, "description"))
	e.Payer = strings.TrimSpace(stringField(doc, "payer"))
	e.PhotoURL = strings.TrimSpace(stringField(doc, "photoUrl"))

	if raw, ok := doc["amount"]; ok && raw != nil {
		amount, err := amountValue(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("amount: %w", err))
		} else {
			e.Amount = amount
		}
	} else {
		errs = append(errs, fmt.Errorf("amount: %w", ErrInvalidAmount))
	}

	participants, err := stringList(doc["participants"])
	if err != nil {
		errs = append(errs, fmt.Errorf("participants: %w", err))
	}
	e.Participants = UniqueIDs(participants)

	debts, err := debtList(doc["explicitDebts"])
	if err != nil {
		errs = append(errs, fmt.Errorf("explicitDebts: %w", err))
	}
	e.ExplicitDebts = debts

	if raw, ok := doc["createdAt"].(string); ok && raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("createdAt: %w", err))
		} else {
			e.CreatedAt = t
		}
	}

	if !e.HasExplicitDebts() && e.Payer == "" {
		errs = append(errs, ErrMissingPayer)
	}

	return e, errors.Join(errs...)
}

func stringField(doc Document, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func amountValue(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case json.Number:
		return ParseAmount(v.String())
	case string:
		return ParseAmount(v)
	case float64:
		return AmountFromFloat(v)
	case int:
		return AmountFromFloat(float64(v))
	case int64:
		return AmountFromFloat(float64(v))
	default:
		return decimal.Zero, ErrInvalidAmount
	}
}

func stringList(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return out, fmt.Errorf("element %d is %T, want string", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("got %T, want list", raw)
	}
}

func debtList(raw any) ([]Debt, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("got %T, want list", raw)
	}
	var (
		out  []Debt
		errs []error
	)
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Errorf("debt %d: %w", i, ErrInvalidDebt))
			continue
		}
		d := Debt{
			Debtor:   strings.TrimSpace(stringField(m, "debtor")),
			Creditor: strings.TrimSpace(stringField(m, "creditor")),
		}
		amount, err := amountValue(m["amount"])
		if err != nil {
			errs = append(errs, fmt.Errorf("debt %d: %w", i, err))
			continue
		}
		d.Amount = amount
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("debt %d: %w", i, err))
			continue
		}
		out = append(out, d)
	}
	return out, errors.Join(errs...)
}
