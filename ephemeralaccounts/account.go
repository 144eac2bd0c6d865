package ephemeralaccounts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/api"
	"go.sia.tech/ephemerald/events"
	"go.uber.org/zap"
)

type (
	// A HeightSource reports the current ledger height.
	HeightSource interface {
		Height() uint64
	}

	// A Store persists account state. Account returns api.ErrAccountNotFound
	// for accounts that were never initialized.
	Store interface {
		Account(ctx context.Context, id api.AccountID) (api.EphemeralAccount, error)
		SaveAccount(ctx context.Context, acc api.EphemeralAccount) error
	}

	// A Transferer moves funds between addresses. Transfers with the same ref
	// must only be applied once, Transferred reports whether a ref was
	// applied.
	Transferer interface {
		Transfer(ctx context.Context, ref types.Hash256, asset types.Address, from, to types.Address, amount *big.Int) error
		Transferred(ctx context.Context, ref types.Hash256) (bool, error)
	}

	// An EventBroadcaster publishes account lifecycle events.
	EventBroadcaster interface {
		BroadcastEvent(ctx context.Context, event events.Event) error
	}
)

// An Account is a handle to a single ephemeral account. Calls on the same
// handle are serialized. Every call loads the account from the store and only
// persists the result if all checks passed.
type Account struct {
	id api.AccountID

	heights     HeightSource
	store       Store
	verifier    SignatureVerifier
	transferer  Transferer
	broadcaster EventBroadcaster
	logger      *zap.SugaredLogger

	mu sync.Mutex
}

// New returns a handle to the account with the given id.
func New(id api.AccountID, hs HeightSource, s Store, v SignatureVerifier, t Transferer, eb EventBroadcaster, l *zap.Logger) *Account {
	return &Account{
		id: id,

		heights:     hs,
		store:       s,
		verifier:    v,
		transferer:  t,
		broadcaster: eb,
		logger:      l.Named("account").Sugar().With("account", id),
	}
}

// ID returns the id of the account.
func (a *Account) ID() api.AccountID { return a.id }

// Initialize sets the creator, the expiry height and the recovery address of
// the account and marks it as active.
func (a *Account) Initialize(ctx context.Context, creator types.PublicKey, expiryHeight uint64, recovery types.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.store.Account(ctx, a.id)
	if err == nil {
		return api.ErrAlreadyInitialized
	} else if !errors.Is(err, api.ErrAccountNotFound) {
		return fmt.Errorf("failed to fetch account: %w", err)
	}

	if height := a.heights.Height(); expiryHeight <= height {
		return fmt.Errorf("%w: expiry height %d, current height %d", api.ErrInvalidExpiry, expiryHeight, height)
	}

	acc := api.EphemeralAccount{
		ID:           a.id,
		Creator:      creator,
		Recovery:     recovery,
		ExpiryHeight: expiryHeight,
		Status:       api.StatusActive,
		Payments:     []api.PaymentRecord{},
	}
	if err := a.store.SaveAccount(ctx, acc); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	a.broadcast(ctx, events.EventAccountInitialized{
		AccountID:    a.id,
		Creator:      creator,
		Recovery:     recovery,
		ExpiryHeight: expiryHeight,
		Status:       acc.Status,
		Timestamp:    time.Now().UTC(),
	})
	return nil
}

// RecordPayment adds a payment of an asset to the account. The first payment
// makes the account sweepable.
func (a *Account) RecordPayment(ctx context.Context, amount *big.Int, asset types.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, err := a.load(ctx)
	if err != nil {
		return err
	} else if err := checkTerminal(acc.Status); err != nil {
		return fmt.Errorf("%w: %w", api.ErrAccountNotReady, err)
	}

	ledger := NewPaymentLedger(acc.Payments)
	if err := ledger.Insert(asset, amount); err != nil {
		return err
	}

	first := acc.Status == api.StatusActive
	acc.Status = api.StatusPaymentReceived
	acc.Payments = ledger.Snapshot()
	if err := a.store.SaveAccount(ctx, acc); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	if first {
		a.broadcast(ctx, events.EventPaymentReceived{
			AccountID:    a.id,
			Asset:        asset,
			Amount:       new(big.Int).Set(amount),
			Status:       acc.Status,
			PaymentCount: ledger.Count(),
			Timestamp:    time.Now().UTC(),
		})
	} else {
		a.broadcast(ctx, events.EventAdditionalPaymentReceived{
			AccountID:    a.id,
			Asset:        asset,
			Amount:       new(big.Int).Set(amount),
			Status:       acc.Status,
			PaymentCount: ledger.Count(),
			Timestamp:    time.Now().UTC(),
		})
	}
	return nil
}

// Status returns the status of the account.
func (a *Account) Status(ctx context.Context) (api.AccountStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, err := a.load(ctx)
	if err != nil {
		return "", err
	}
	return acc.Status, nil
}

// Info returns a snapshot of the account.
func (a *Account) Info(ctx context.Context) (api.AccountInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, err := a.load(ctx)
	if err != nil {
		return api.AccountInfo{}, err
	}
	return acc.Info(), nil
}

// IsExpired returns true if the current height is past the account's expiry
// height.
func (a *Account) IsExpired(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, err := a.load(ctx)
	if err != nil {
		return false, err
	}
	return a.heights.Height() > acc.ExpiryHeight, nil
}

// Sweep moves every payment of the account to the destination. The signature
// must be the creator's signature of SweepHash. If any transfer fails the
// account keeps its status and payments and the sweep can be retried with a
// signature over the new sweep nonce. Transfers that already went through
// are not repeated.
func (a *Account) Sweep(ctx context.Context, destination types.Address, sig types.Signature) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, err := a.load(ctx)
	if err != nil {
		return err
	} else if err := checkTerminal(acc.Status); err != nil {
		return err
	} else if height := a.heights.Height(); height > acc.ExpiryHeight {
		return fmt.Errorf("%w: expired at height %d, current height %d", api.ErrAccountExpired, acc.ExpiryHeight, height)
	} else if acc.Status != api.StatusPaymentReceived {
		return fmt.Errorf("%w: no payment received", api.ErrAccountNotReady)
	} else if err := authorizeSweep(a.verifier, acc, destination, sig); err != nil {
		return err
	}

	// consume the signature before moving any funds
	acc.SweepNonce++
	if err := a.store.SaveAccount(ctx, acc); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	for _, p := range acc.Payments {
		ref := TransferRef(a.id, p.Asset)
		if err := a.transferer.Transfer(ctx, ref, p.Asset, a.id.Address(), destination, p.Amount); err != nil {
			a.logger.Warnw("sweep transfer failed", "asset", p.Asset, "destination", destination, zap.Error(err))
			return fmt.Errorf("failed to transfer %v of asset %v: %w", p.Amount, p.Asset, err)
		}
	}

	acc.Status = api.StatusSwept
	if err := a.store.SaveAccount(ctx, acc); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	a.logger.Infow("account swept", "destination", destination, "payments", len(acc.Payments))

	a.broadcast(ctx, events.EventAccountSwept{
		AccountID:   a.id,
		Destination: destination,
		Payments:    acc.Clone().Payments,
		Status:      acc.Status,
		Timestamp:   time.Now().UTC(),
	})
	return nil
}

// Expire marks an account that is past its expiry height as expired. Funds
// still held by the account are owed to its recovery address. Payments that
// left the account during an earlier sweep that failed part way are reported
// separately.
func (a *Account) Expire(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, err := a.load(ctx)
	if err != nil {
		return err
	} else if err := checkTerminal(acc.Status); err != nil {
		return err
	}

	height := a.heights.Height()
	if height <= acc.ExpiryHeight {
		return fmt.Errorf("%w: expires after height %d, current height %d", api.ErrAccountNotReady, acc.ExpiryHeight, height)
	}

	owed, transferred, err := a.splitPayments(ctx, acc)
	if err != nil {
		return err
	}

	acc.Status = api.StatusExpired
	if err := a.store.SaveAccount(ctx, acc); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	if len(transferred) > 0 {
		a.logger.Warnw("account expired after a partial sweep", "height", height, "owed", len(owed), "transferred", len(transferred))
	} else {
		a.logger.Infow("account expired", "height", height, "payments", len(acc.Payments))
	}

	a.broadcast(ctx, events.EventAccountExpired{
		AccountID:    a.id,
		Recovery:     acc.Recovery,
		ExpiryHeight: acc.ExpiryHeight,
		Height:       height,
		Payments:     owed,
		Transferred:  transferred,
		Status:       acc.Status,
		Timestamp:    time.Now().UTC(),
	})
	return nil
}

// Transferred returns the payments of the account that were already moved to
// a sweep destination.
func (a *Account) Transferred(ctx context.Context) ([]api.PaymentRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	_, transferred, err := a.splitPayments(ctx, acc)
	return transferred, err
}

// splitPayments splits the payments of an account into the ones it still
// holds and the ones a sweep already transferred.
func (a *Account) splitPayments(ctx context.Context, acc api.EphemeralAccount) (held, transferred []api.PaymentRecord, _ error) {
	payments := acc.Clone().Payments

	// transfers only happen after a sweep consumed a nonce
	if acc.SweepNonce == 0 {
		return payments, nil, nil
	}

	for _, p := range payments {
		done, err := a.transferer.Transferred(ctx, TransferRef(a.id, p.Asset))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check transfer of asset %v: %w", p.Asset, err)
		} else if done {
			transferred = append(transferred, p)
		} else {
			held = append(held, p)
		}
	}
	return held, transferred, nil
}

func (a *Account) load(ctx context.Context) (api.EphemeralAccount, error) {
	acc, err := a.store.Account(ctx, a.id)
	if errors.Is(err, api.ErrAccountNotFound) {
		return api.EphemeralAccount{}, fmt.Errorf("%w: account not initialized", api.ErrAccountNotReady)
	} else if err != nil {
		return api.EphemeralAccount{}, fmt.Errorf("failed to fetch account: %w", err)
	}
	return acc, nil
}

func (a *Account) broadcast(ctx context.Context, e events.Event) {
	if a.broadcaster == nil {
		return
	} else if err := a.broadcaster.BroadcastEvent(ctx, e); err != nil {
		a.logger.Errorw("failed to broadcast event", "event", e.Event(), zap.Error(err))
	}
}

func checkTerminal(status api.AccountStatus) error {
	switch status {
	case api.StatusSwept:
		return api.ErrAccountAlreadySwept
	case api.StatusExpired:
		return api.ErrAccountExpired
	}
	return nil
}
