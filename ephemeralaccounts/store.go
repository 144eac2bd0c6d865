package ephemeralaccounts

import (
	"context"
	"sync"

	"go.sia.tech/ephemerald/api"
)

// EphemeralStore is an in-memory Store.
type EphemeralStore struct {
	mu       sync.Mutex
	accounts map[api.AccountID]api.EphemeralAccount
}

// NewEphemeralStore returns an empty in-memory store.
func NewEphemeralStore() *EphemeralStore {
	return &EphemeralStore{
		accounts: make(map[api.AccountID]api.EphemeralAccount),
	}
}

// Account implements Store.
func (s *EphemeralStore) Account(_ context.Context, id api.AccountID) (api.EphemeralAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return api.EphemeralAccount{}, api.ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SaveAccount implements Store.
func (s *EphemeralStore) SaveAccount(_ context.Context, acc api.EphemeralAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.ID] = acc.Clone()
	return nil
}
