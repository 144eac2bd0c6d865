package autopilot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/api"
	"go.sia.tech/ephemerald/ephemeralaccounts"
	"go.uber.org/zap"
	"lukechampine.com/frand"
)

type heightSource struct {
	mu     sync.Mutex
	height uint64
}

func (h *heightSource) Height() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.height
}

func (h *heightSource) setHeight(height uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.height = height
}

type transferer struct {
	mu  sync.Mutex
	err error
}

func (t *transferer) Transfer(_ context.Context, _ types.Hash256, _, _, _ types.Address, _ *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *transferer) Transferred(_ context.Context, _ types.Hash256) (bool, error) {
	return false, nil
}

func (t *transferer) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// mockBus serves accounts from an in-memory store through the same state
// machine the bus uses.
type mockBus struct {
	heights *heightSource
	store   *ephemeralaccounts.EphemeralStore
	t       *transferer

	mu      sync.Mutex
	handles map[api.AccountID]*ephemeralaccounts.Account
}

func newMockBus() *mockBus {
	return &mockBus{
		heights: &heightSource{},
		store:   ephemeralaccounts.NewEphemeralStore(),
		t:       &transferer{},
		handles: make(map[api.AccountID]*ephemeralaccounts.Account),
	}
}

func (b *mockBus) account(id api.AccountID) *ephemeralaccounts.Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.handles[id]
	if !ok {
		acc = ephemeralaccounts.New(id, b.heights, b.store, ephemeralaccounts.Ed25519Verifier{}, b.t, nil, zap.NewNop())
		b.handles[id] = acc
	}
	return acc
}

func (b *mockBus) createAccount(t *testing.T, creator types.PublicKey, expiryHeight uint64, payments int) api.AccountID {
	t.Helper()
	id := api.NewAccountID()
	if err := b.account(id).Initialize(context.Background(), creator, expiryHeight, types.Address{1}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < payments; i++ {
		var asset types.Address
		frand.Read(asset[:])
		if err := b.account(id).RecordPayment(context.Background(), big.NewInt(int64(i+1)), asset); err != nil {
			t.Fatal(err)
		}
	}
	return id
}

func (b *mockBus) status(t *testing.T, id api.AccountID) api.AccountStatus {
	t.Helper()
	status, err := b.account(id).Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return status
}

func (b *mockBus) Height(_ context.Context) (uint64, error) {
	return b.heights.Height(), nil
}

func (b *mockBus) Accounts(ctx context.Context, opts api.AccountsOpts) ([]api.AccountInfo, error) {
	b.mu.Lock()
	ids := make([]api.AccountID, 0, len(b.handles))
	for id := range b.handles {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	var infos []api.AccountInfo
	for _, id := range ids {
		acc, err := b.store.Account(ctx, id)
		if errors.Is(err, api.ErrAccountNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		if opts.Creator != nil && acc.Creator != *opts.Creator {
			continue
		} else if opts.Status != "" && acc.Status != opts.Status {
			continue
		}
		infos = append(infos, acc.Info())
	}

	if opts.Offset >= len(infos) {
		return nil, nil
	}
	infos = infos[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(infos) {
		infos = infos[:opts.Limit]
	}
	return infos, nil
}

func (b *mockBus) ExpireAccount(ctx context.Context, id api.AccountID) error {
	return b.account(id).Expire(ctx)
}

func (b *mockBus) SweepAccount(ctx context.Context, id api.AccountID, destination types.Address, sig types.Signature) error {
	return b.account(id).Sweep(ctx, destination, sig)
}

func newTestAutopilot(t *testing.T, b Bus) (*Autopilot, types.PrivateKey) {
	t.Helper()
	key := types.GeneratePrivateKey()
	ap, err := New(b, key, types.Address{2}, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return ap, key
}

func TestNew(t *testing.T) {
	b := newMockBus()
	key := types.GeneratePrivateKey()
	if _, err := New(b, key, types.Address{2}, 0, zap.NewNop()); err == nil {
		t.Fatal("expected error for zero heartbeat")
	} else if _, err := New(b, nil, types.Address{2}, time.Minute, zap.NewNop()); err == nil {
		t.Fatal("expected error for missing key")
	} else if _, err := New(b, key, types.VoidAddress, time.Minute, zap.NewNop()); err == nil {
		t.Fatal("expected error for void destination")
	}
}

func TestPerformMaintenance(t *testing.T) {
	b := newMockBus()
	ap, key := newTestAutopilot(t, b)
	b.heights.setHeight(10)

	paid := b.createAccount(t, key.PublicKey(), 20, 2)
	unpaid := b.createAccount(t, key.PublicKey(), 20, 0)
	expiring := b.createAccount(t, key.PublicKey(), 15, 1)
	foreign := b.createAccount(t, types.GeneratePrivateKey().PublicKey(), 20, 1)

	// only the paid account is swept
	ap.performMaintenance(context.Background())
	if status := b.status(t, paid); status != api.StatusSwept {
		t.Fatal("expected paid account to be swept, got", status)
	} else if status := b.status(t, unpaid); status != api.StatusActive {
		t.Fatal("expected unpaid account to be active, got", status)
	} else if status := b.status(t, expiring); status != api.StatusSwept {
		t.Fatal("expected expiring account to be swept before expiry, got", status)
	} else if status := b.status(t, foreign); status != api.StatusPaymentReceived {
		t.Fatal("accounts of other creators must not be touched, got", status)
	}

	// past the expiry height the unpaid account expires
	b.heights.setHeight(21)
	ap.performMaintenance(context.Background())
	if status := b.status(t, unpaid); status != api.StatusExpired {
		t.Fatal("expected unpaid account to be expired, got", status)
	}

	state := ap.State()
	if state.Swept != 2 || state.Expired != 1 || state.Retries != 0 || len(state.Abandoned) != 0 {
		t.Fatalf("unexpected state %+v", state)
	} else if state.Creator != key.PublicKey() {
		t.Fatal("wrong creator", state.Creator)
	} else if state.LastRun.IsZero() {
		t.Fatal("last run wasn't set")
	}
}

func TestPerformMaintenanceRetry(t *testing.T) {
	b := newMockBus()
	ap, key := newTestAutopilot(t, b)
	b.heights.setHeight(10)

	id := b.createAccount(t, key.PublicKey(), 20, 1)

	// a failed transfer is retried
	b.t.setErr(fmt.Errorf("%w: host unreachable", api.ErrTransferFailed))
	ap.performMaintenance(context.Background())
	if status := b.status(t, id); status != api.StatusPaymentReceived {
		t.Fatal("unexpected status", status)
	} else if state := ap.State(); state.Retries != 1 || len(state.Abandoned) != 0 {
		t.Fatalf("unexpected state %+v", state)
	}

	// the retry signs over the bumped nonce
	b.t.setErr(nil)
	ap.performMaintenance(context.Background())
	if status := b.status(t, id); status != api.StatusSwept {
		t.Fatal("unexpected status", status)
	} else if state := ap.State(); state.Swept != 1 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestPerformMaintenanceAbandon(t *testing.T) {
	b := newMockBus()
	ap, key := newTestAutopilot(t, b)
	b.heights.setHeight(10)

	id := b.createAccount(t, key.PublicKey(), 20, 1)

	// insufficient funds aren't retried
	b.t.setErr(fmt.Errorf("%w: nothing deposited", api.ErrInsufficientBalance))
	ap.performMaintenance(context.Background())
	if state := ap.State(); len(state.Abandoned) != 1 || state.Abandoned[0] != id {
		t.Fatalf("unexpected state %+v", state)
	}

	// abandoned accounts are skipped
	b.t.setErr(nil)
	ap.performMaintenance(context.Background())
	if status := b.status(t, id); status != api.StatusPaymentReceived {
		t.Fatal("abandoned account was swept")
	}
}

func TestPerformMaintenanceInvalidAmount(t *testing.T) {
	b := newMockBus()
	ap, key := newTestAutopilot(t, b)
	b.heights.setHeight(10)

	id := b.createAccount(t, key.PublicKey(), 20, 1)

	// an amount that can't be transferred won't become transferable
	b.t.setErr(fmt.Errorf("%w: -5", api.ErrInvalidAmount))
	for i := 0; i < 3; i++ {
		ap.performMaintenance(context.Background())
	}
	if state := ap.State(); state.Retries != 0 || len(state.Abandoned) != 1 || state.Abandoned[0] != id {
		t.Fatalf("unexpected state %+v", state)
	}

	// only the first attempt consumed a nonce
	if info, err := b.account(id).Info(context.Background()); err != nil {
		t.Fatal(err)
	} else if info.SweepNonce != 1 {
		t.Fatal("unexpected sweep nonce", info.SweepNonce)
	}
}

func TestRunShutdown(t *testing.T) {
	for i := 0; i < 10; i++ {
		ap, _ := newTestAutopilot(t, newMockBus())

		errChan := make(chan error, 1)
		go func() { errChan <- ap.Run() }()

		// shutting down right away never races the main loop's start
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := ap.Shutdown(ctx); err != nil {
			t.Fatal(err)
		}
		select {
		case err := <-errChan:
			if err != nil {
				t.Fatal(err)
			}
		case <-ctx.Done():
			t.Fatal("autopilot didn't stop")
		}
		cancel()

		// a stopped autopilot doesn't start again
		if err := ap.Run(); err != nil {
			t.Fatal(err)
		} else if ap.State().Running {
			t.Fatal("autopilot still running")
		}
	}
}

func TestRunTrigger(t *testing.T) {
	b := newMockBus()
	key := types.GeneratePrivateKey()
	ap, err := New(b, key, types.Address{2}, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	errChan := make(chan error, 1)
	go func() { errChan <- ap.Run() }()

	b.heights.setHeight(10)
	id := b.createAccount(t, key.PublicKey(), 20, 1)

	// the heartbeat is an hour, only a trigger causes the sweep
	deadline := time.Now().Add(5 * time.Second)
	for b.status(t, id) != api.StatusSwept {
		if time.Now().After(deadline) {
			t.Fatal("account wasn't swept")
		}
		ap.Trigger()
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ap.Shutdown(ctx); err != nil {
		t.Fatal(err)
	} else if err := <-errChan; err != nil {
		t.Fatal(err)
	} else if ap.State().Running {
		t.Fatal("autopilot still running")
	}
}
