// Package accounts exposes the read-only user view the trading core depends
// on. Account management itself lives elsewhere; this core only needs to know
// whether a user exists, is active, and what balance backs their sessions.
package accounts

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tradegate/tradegate/internal/models"
)

var ErrUserNotFound = errors.New("accounts: user not found")

// UserStore resolves user accounts.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*models.UserAccount, error)
}

// InMemoryUserStore is a concurrency-safe fixture-backed store used in
// development and tests.
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]models.UserAccount
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[string]models.UserAccount)}
}

func (s *InMemoryUserStore) Seed(id string, balance decimal.Decimal, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = models.UserAccount{ID: id, Balance: balance, Active: active}
}

func (s *InMemoryUserStore) GetUser(_ context.Context, userID string) (*models.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := user
	return &out, nil
}
