package services

import (
	"context"
	"fmt"
	"strings"

	"saldo/internal/amqp"
	"saldo/internal/core"
)

// ExpenseService writes expenses to the store and announces each change.
type ExpenseService struct {
	store    ExpenseStore
	groups   GroupStore
	notifier *Notifier
}

func NewExpenseService(store ExpenseStore, groups GroupStore, notifier *Notifier) *ExpenseService {
	return &ExpenseService{store: store, groups: groups, notifier: notifier}
}

// CreateExpense validates e against its group and stores it. Every user the
// expense names (payer, participants, debtors, creditors) must be a member.
func (s *ExpenseService) CreateExpense(ctx context.Context, groupID string, e core.Expense) (core.Expense, error) {
	e.GroupID = groupID
	e.Description = strings.TrimSpace(e.Description)
	e.Payer = strings.TrimSpace(e.Payer)
	e.Participants = core.UniqueIDs(e.Participants)
	if err := e.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("validate expense: %w: %w", ErrInvalidInput, err)
	}

	g, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return core.Expense{}, err
	}
	if err := checkMembers(g, e); err != nil {
		return core.Expense{}, err
	}

	created, err := s.store.CreateExpense(ctx, e)
	if err != nil {
		return core.Expense{}, err
	}
	s.notifier.Changed(ctx, amqp.NewChangeMessage(amqp.ExpenseCreated, groupID, created.ID))
	return created, nil
}

// CreateFromDocument normalizes a loosely typed document and stores it.
func (s *ExpenseService) CreateFromDocument(ctx context.Context, groupID string, doc core.Document) (core.Expense, error) {
	e, err := core.ParseExpenseDocument(doc)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse expense: %w: %w", ErrInvalidInput, err)
	}
	return s.CreateExpense(ctx, groupID, e)
}

func (s *ExpenseService) DeleteExpense(ctx context.Context, groupID, expenseID string) error {
	if err := s.store.DeleteExpense(ctx, groupID, expenseID); err != nil {
		return err
	}
	s.notifier.Changed(ctx, amqp.NewChangeMessage(amqp.ExpenseDeleted, groupID, expenseID))
	return nil
}

func (s *ExpenseService) ListExpenses(ctx context.Context, groupID string) ([]core.Expense, error) {
	if _, err := s.groups.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.store.ListExpenses(ctx, groupID)
}

func checkMembers(g core.Group, e core.Expense) error {
	var users []string
	if e.HasExplicitDebts() {
		for _, d := range e.ExplicitDebts {
			users = append(users, d.Debtor, d.Creditor)
		}
	} else {
		users = append(users, e.Payer)
		users = append(users, e.Participants...)
	}
	for _, u := range users {
		if !g.HasMember(u) {
			return fmt.Errorf("%w: %s", ErrNotMember, u)
		}
	}
	return nil
}
