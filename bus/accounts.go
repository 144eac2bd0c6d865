package bus

import (
	"sync"

	"go.sia.tech/ephemerald/api"
	"go.sia.tech/ephemerald/ephemeralaccounts"
)

// accounts hands out one handle per account so that concurrent requests for
// the same account are serialized.
type accounts struct {
	mu   sync.Mutex
	byID map[api.AccountID]*ephemeralaccounts.Account

	newAccount func(api.AccountID) *ephemeralaccounts.Account
}

func newAccounts(fn func(api.AccountID) *ephemeralaccounts.Account) *accounts {
	return &accounts{
		byID:       make(map[api.AccountID]*ephemeralaccounts.Account),
		newAccount: fn,
	}
}

// Account returns the handle for the account with the given id, creating it
// if necessary.
func (a *accounts) Account(id api.AccountID) *ephemeralaccounts.Account {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, exists := a.byID[id]
	if !exists {
		acc = a.newAccount(id)
		a.byID[id] = acc
	}
	return acc
}

// Forget drops the handle of an account. Called once an account reached a
// terminal status, any later call on it fails when loading it from the store
// regardless of the handle it goes through.
func (a *accounts) Forget(id api.AccountID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byID, id)
}

// Len returns the number of handles currently held.
func (a *accounts) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byID)
}

// Clear drops all handles.
func (a *accounts) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byID = make(map[api.AccountID]*ephemeralaccounts.Account)
}
