package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"saldo/internal/amqp"
	"saldo/internal/core"
)

// GroupInput is the editable part of a group.
type GroupInput struct {
	Name        string
	Description string
	Members     []string
}

func (in GroupInput) group(id string) (core.Group, error) {
	g := core.Group{
		ID:          id,
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Members:     core.UniqueIDs(in.Members),
	}
	if err := g.Validate(); err != nil {
		return core.Group{}, err
	}
	return g, nil
}

type GroupService struct {
	store    GroupStore
	notifier *Notifier
}

func NewGroupService(store GroupStore, notifier *Notifier) *GroupService {
	return &GroupService{store: store, notifier: notifier}
}

func (s *GroupService) CreateGroup(ctx context.Context, in GroupInput) (core.Group, error) {
	g, err := in.group("")
	if err != nil {
		return core.Group{}, fmt.Errorf("validate group: %w: %w", ErrInvalidInput, err)
	}
	created, err := s.store.CreateGroup(ctx, g)
	if err != nil {
		return core.Group{}, err
	}
	s.notifier.Changed(ctx, amqp.NewChangeMessage(amqp.GroupChanged, created.ID, ""))
	return created, nil
}

// UpdateGroup replaces name, description and members. Members who still have
// expenses keep their balances: the ledger reads expenses, not membership.
func (s *GroupService) UpdateGroup(ctx context.Context, id string, in GroupInput) (core.Group, error) {
	g, err := in.group(id)
	if err != nil {
		return core.Group{}, fmt.Errorf("validate group: %w: %w", ErrInvalidInput, err)
	}
	updated, err := s.store.UpdateGroup(ctx, g)
	if err != nil {
		return core.Group{}, err
	}
	s.notifier.Changed(ctx, amqp.NewChangeMessage(amqp.GroupChanged, id, ""))
	return updated, nil
}

func (s *GroupService) GetGroup(ctx context.Context, id string) (core.Group, error) {
	return s.store.GetGroup(ctx, id)
}

// ListGroups lists every group, or only userID's when it is set.
func (s *GroupService) ListGroups(ctx context.Context, userID string) ([]core.Group, error) {
	return s.store.ListGroups(ctx, strings.TrimSpace(userID))
}

// DeleteGroup removes the group and all of its expenses.
func (s *GroupService) DeleteGroup(ctx context.Context, id string) error {
	if err := s.store.DeleteGroup(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Group removed with its expenses", "group_id", id)
	s.notifier.Changed(ctx, amqp.NewChangeMessage(amqp.GroupDeleted, id, ""))
	return nil
}
