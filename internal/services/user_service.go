package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"saldo/internal/amqp"
	"saldo/internal/cache"
	"saldo/internal/core"
)

// UserService keeps the user registry and resolves display names through an
// LRU cache. It is also the name source for balance snapshots.
type UserService struct {
	store    UserStore
	names    *cache.LRUCache[string]
	notifier *Notifier
}

func NewUserService(store UserStore, names *cache.LRUCache[string], notifier *Notifier) *UserService {
	return &UserService{store: store, names: names, notifier: notifier}
}

func (s *UserService) UpsertUser(ctx context.Context, u core.User) (core.User, error) {
	u.ID = strings.TrimSpace(u.ID)
	u.DisplayName = strings.TrimSpace(u.DisplayName)
	if err := u.Validate(); err != nil {
		return core.User{}, fmt.Errorf("validate user: %w: %w", ErrInvalidInput, err)
	}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return core.User{}, err
	}
	s.names.Delete(u.ID)

	msg := amqp.NewChangeMessage(amqp.UserChanged, "", "")
	msg.UserID = u.ID
	s.notifier.Changed(ctx, msg)
	return u, nil
}

// Name resolves one display name. Unknown users and users without a name get
// the fallback placeholder; only store failures are errors.
func (s *UserService) Name(ctx context.Context, id string) (string, error) {
	name, err := s.names.GetOrLoad(id, func() (string, error) {
		u, err := s.store.GetUser(ctx, id)
		if err != nil {
			return "", err
		}
		return u.Name(), nil
	})
	if errors.Is(err, core.ErrNotFound) {
		return core.FallbackName(id), nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve name of %s: %w", id, err)
	}
	return name, nil
}

// DisplayNames always reads the full table from the store, so snapshots never
// join against stale names, and refreshes the cache with what it read.
func (s *UserService) DisplayNames(ctx context.Context) (map[string]string, error) {
	names, err := s.store.DisplayNames(ctx)
	if err != nil {
		return nil, err
	}
	for id, name := range names {
		s.names.Set(id, name)
	}
	return names, nil
}
