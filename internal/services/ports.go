// Package services holds the application use cases: group, expense and user
// commands, and balance queries over the live feed.
package services

import (
	"context"
	"errors"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/feed"
)

var (
	// ErrInvalidInput marks every error caused by the caller's data.
	ErrInvalidInput = errors.New("invalid input")
	ErrNotMember    = errors.New("user is not a member of the group")
)

type GroupStore interface {
	CreateGroup(ctx context.Context, g core.Group) (core.Group, error)
	UpdateGroup(ctx context.Context, g core.Group) (core.Group, error)
	GetGroup(ctx context.Context, id string) (core.Group, error)
	ListGroups(ctx context.Context, userID string) ([]core.Group, error)
	DeleteGroup(ctx context.Context, id string) error
}

type ExpenseStore interface {
	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	DeleteExpense(ctx context.Context, groupID, expenseID string) error
	ListExpenses(ctx context.Context, groupID string) ([]core.Expense, error)
}

type UserStore interface {
	UpsertUser(ctx context.Context, u core.User) error
	GetUser(ctx context.Context, id string) (core.User, error)
	feed.NameSource
}

// ChangePublisher forwards change messages to other processes.
type ChangePublisher interface {
	PublishChange(ctx context.Context, msg *amqp.ChangeMessage) error
}
