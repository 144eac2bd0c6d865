package bus

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/alerts"
	"go.sia.tech/ephemerald/api"
	"go.sia.tech/ephemerald/bus/client"
	"go.sia.tech/ephemerald/chain"
	"go.sia.tech/ephemerald/ephemeralaccounts"
	"go.sia.tech/ephemerald/events"
	"go.sia.tech/ephemerald/internal/utils"
	"go.sia.tech/ephemerald/stores"
	"go.sia.tech/ephemerald/webhooks"
	"go.sia.tech/jape"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
	"lukechampine.com/frand"
)

func newTestBus(t *testing.T) (*bus, *client.Client, *alerts.Manager) {
	t.Helper()

	l := zap.NewNop()
	sqlStore, err := stores.NewSQLStore(stores.NewEphemeralSQLiteConnection(t.Name()), true, l, logger.Discard)
	if err != nil {
		t.Fatal(err)
	}
	hm, err := webhooks.NewManager(l, sqlStore)
	if err != nil {
		t.Fatal(err)
	}
	am := alerts.NewManager()
	cm, err := chain.NewTracker(context.Background(), sqlStore, l)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(cm, sqlStore, sqlStore, am, hm, events.NewBroadcaster(hm), l)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(jape.BasicAuth("test")(b.Handler()))
	t.Cleanup(func() {
		srv.Close()
		b.Shutdown(context.Background())
		hm.Close()
		sqlStore.Close()
	})
	return b, client.New(srv.URL, "test"), am
}

func TestAccountLifecycle(t *testing.T) {
	_, c, am := newTestBus(t)
	ctx := context.Background()

	sk := types.GeneratePrivateKey()
	info, err := c.CreateAccount(ctx, sk.PublicKey(), types.Address{1}, 10)
	if err != nil {
		t.Fatal(err)
	} else if info.Status != api.StatusActive || info.Creator != sk.PublicKey() || info.ExpiryHeight != 10 {
		t.Fatalf("unexpected account %+v", info)
	}

	// an expiry height that isn't in the future is rejected
	if err := c.AdvanceHeight(ctx, 5); err != nil {
		t.Fatal(err)
	} else if _, err := c.CreateAccount(ctx, sk.PublicKey(), types.Address{1}, 5); !utils.IsErr(err, api.ErrInvalidExpiry) {
		t.Fatal("expected ErrInvalidExpiry, got", err)
	}

	// unknown accounts are reported as invalid
	if _, err := c.Account(ctx, api.NewAccountID()); !utils.IsErr(err, api.ErrInvalidAccount) {
		t.Fatal("expected ErrInvalidAccount, got", err)
	}

	// the account can only be initialized once
	if err := c.InitializeAccount(ctx, info.ID, sk.PublicKey(), types.Address{1}, 20); !utils.IsErr(err, api.ErrAlreadyInitialized) {
		t.Fatal("expected ErrAlreadyInitialized, got", err)
	}

	// sweeping requires a payment
	dest := types.Address{2}
	sig := ephemeralaccounts.SignSweep(sk, info.ID, dest, info.SweepNonce)
	if err := c.SweepAccount(ctx, info.ID, dest, sig); !utils.IsErr(err, api.ErrAccountNotReady) {
		t.Fatal("expected ErrAccountNotReady, got", err)
	}

	// record a payment, the same asset can't be paid twice
	var asset types.Address
	frand.Read(asset[:])
	if err := c.RecordPayment(ctx, info.ID, asset, big.NewInt(50)); err != nil {
		t.Fatal(err)
	} else if err := c.RecordPayment(ctx, info.ID, asset, big.NewInt(50)); !utils.IsErr(err, api.ErrDuplicateAsset) {
		t.Fatal("expected ErrDuplicateAsset, got", err)
	} else if status, err := c.AccountStatus(ctx, info.ID); err != nil {
		t.Fatal(err)
	} else if status != api.StatusPaymentReceived {
		t.Fatal("unexpected status", status)
	}

	// a signature by someone else is rejected
	wrongSig := ephemeralaccounts.SignSweep(types.GeneratePrivateKey(), info.ID, dest, info.SweepNonce)
	if err := c.SweepAccount(ctx, info.ID, dest, wrongSig); !utils.IsErr(err, api.ErrAuthorizationFailed) {
		t.Fatal("expected ErrAuthorizationFailed, got", err)
	}

	// without funds the sweep fails and registers an alert
	if err := c.SweepAccount(ctx, info.ID, dest, sig); !utils.IsErr(err, api.ErrInsufficientBalance) {
		t.Fatal("expected ErrInsufficientBalance, got", err)
	} else if resp, err := c.Alerts(ctx, alerts.AlertsOpts{}); err != nil {
		t.Fatal(err)
	} else if len(resp.Alerts) != 1 || resp.Alerts[0].ID != alerts.AccountAlertID("sweep", info.ID) {
		t.Fatalf("unexpected alerts %+v", resp)
	}

	// the failed attempt consumed the nonce, the old signature is stale
	if err := c.Credit(ctx, info.ID.Address(), asset, big.NewInt(50)); err != nil {
		t.Fatal(err)
	} else if err := c.SweepAccount(ctx, info.ID, dest, sig); !utils.IsErr(err, api.ErrAuthorizationFailed) {
		t.Fatal("expected ErrAuthorizationFailed, got", err)
	}

	acc, err := c.Account(ctx, info.ID)
	if err != nil {
		t.Fatal(err)
	}
	sig = ephemeralaccounts.SignSweep(sk, info.ID, dest, acc.SweepNonce)
	if err := c.SweepAccount(ctx, info.ID, dest, sig); err != nil {
		t.Fatal(err)
	} else if balance, err := c.Balance(ctx, dest, asset); err != nil {
		t.Fatal(err)
	} else if balance.Cmp(big.NewInt(50)) != 0 {
		t.Fatal("unexpected balance", balance)
	} else if len(am.Active()) != 0 {
		t.Fatal("alert wasn't dismissed")
	}

	// swept accounts are terminal
	if err := c.RecordPayment(ctx, info.ID, types.Address{3}, big.NewInt(1)); !utils.IsErr(err, api.ErrAccountAlreadySwept) {
		t.Fatal("expected ErrAccountAlreadySwept, got", err)
	} else if err := c.ExpireAccount(ctx, info.ID); !utils.IsErr(err, api.ErrAccountAlreadySwept) {
		t.Fatal("expected ErrAccountAlreadySwept, got", err)
	}
}

func TestAccountExpiry(t *testing.T) {
	_, c, _ := newTestBus(t)
	ctx := context.Background()

	sk := types.GeneratePrivateKey()
	info, err := c.CreateAccount(ctx, sk.PublicKey(), types.Address{1}, 10)
	if err != nil {
		t.Fatal(err)
	}

	// the account can't be expired before its expiry height
	if err := c.ExpireAccount(ctx, info.ID); !utils.IsErr(err, api.ErrAccountNotReady) {
		t.Fatal("expected ErrAccountNotReady, got", err)
	} else if resp, err := c.AccountExpired(ctx, info.ID); err != nil {
		t.Fatal(err)
	} else if resp.Expired {
		t.Fatal("account shouldn't be expired yet")
	}

	// the expiry height itself is still valid
	if err := c.AdvanceHeight(ctx, 10); err != nil {
		t.Fatal(err)
	} else if resp, err := c.AccountExpired(ctx, info.ID); err != nil {
		t.Fatal(err)
	} else if resp.Expired || resp.Height != 10 {
		t.Fatalf("unexpected response %+v", resp)
	}

	if err := c.AdvanceHeight(ctx, 11); err != nil {
		t.Fatal(err)
	} else if err := c.ExpireAccount(ctx, info.ID); err != nil {
		t.Fatal(err)
	} else if status, err := c.AccountStatus(ctx, info.ID); err != nil {
		t.Fatal(err)
	} else if status != api.StatusExpired {
		t.Fatal("unexpected status", status)
	} else if err := c.RecordPayment(ctx, info.ID, types.Address{3}, big.NewInt(1)); !utils.IsErr(err, api.ErrAccountExpired) {
		t.Fatal("expected ErrAccountExpired, got", err)
	}

	// the height can't go backwards
	if err := c.AdvanceHeight(ctx, 3); !utils.IsErr(err, chain.ErrHeightDecreased) {
		t.Fatal("expected ErrHeightDecreased, got", err)
	}
}

func TestAccountsQuery(t *testing.T) {
	_, c, _ := newTestBus(t)
	ctx := context.Background()

	sk1, sk2 := types.GeneratePrivateKey(), types.GeneratePrivateKey()
	for i := 0; i < 3; i++ {
		if _, err := c.CreateAccount(ctx, sk1.PublicKey(), types.Address{1}, 10); err != nil {
			t.Fatal(err)
		}
	}
	paid, err := c.CreateAccount(ctx, sk2.PublicKey(), types.Address{1}, 10)
	if err != nil {
		t.Fatal(err)
	} else if err := c.RecordPayment(ctx, paid.ID, types.Address{3}, big.NewInt(1)); err != nil {
		t.Fatal(err)
	}

	creator := sk1.PublicKey()
	if accs, err := c.Accounts(ctx, api.AccountsOpts{}); err != nil {
		t.Fatal(err)
	} else if len(accs) != 4 {
		t.Fatal("expected 4 accounts, got", len(accs))
	} else if accs, err := c.Accounts(ctx, api.AccountsOpts{Creator: &creator, Offset: 1, Limit: 5}); err != nil {
		t.Fatal(err)
	} else if len(accs) != 2 {
		t.Fatal("expected 2 accounts, got", len(accs))
	} else if accs, err := c.Accounts(ctx, api.AccountsOpts{Status: api.StatusPaymentReceived}); err != nil {
		t.Fatal(err)
	} else if len(accs) != 1 || accs[0].ID != paid.ID {
		t.Fatalf("unexpected accounts %+v", accs)
	} else if _, err := c.Accounts(ctx, api.AccountsOpts{Limit: -2}); err == nil {
		t.Fatal("expected error for invalid limit")
	}

	stats, err := c.AccountsStats(ctx)
	if err != nil {
		t.Fatal(err)
	} else if stats.ByStatus[api.StatusActive] != 3 || stats.ByStatus[api.StatusPaymentReceived] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestWebhooks(t *testing.T) {
	_, c, _ := newTestBus(t)
	ctx := context.Background()

	// registering a webhook pings it
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	wh := events.NewEventWebhook(srv.URL+"/events", events.WebhookEventAccountSwept)
	if err := c.RegisterWebhook(ctx, wh); err != nil {
		t.Fatal(err)
	} else if resp, err := c.Webhooks(ctx); err != nil {
		t.Fatal(err)
	} else if len(resp.Webhooks) != 1 || resp.Webhooks[0] != wh {
		t.Fatalf("unexpected webhooks %+v", resp)
	} else if err := c.DeleteWebhook(ctx, wh); err != nil {
		t.Fatal(err)
	} else if err := c.DeleteWebhook(ctx, wh); !utils.IsErr(err, webhooks.ErrWebhookNotFound) {
		t.Fatal("expected ErrWebhookNotFound, got", err)
	}
}

func TestAccountInitializeHandles(t *testing.T) {
	b, c, _ := newTestBus(t)
	ctx := context.Background()

	sk := types.GeneratePrivateKey()
	if err := c.AdvanceHeight(ctx, 5); err != nil {
		t.Fatal(err)
	}

	// failed initializations don't leave handles behind
	for i := 0; i < 3; i++ {
		if err := c.InitializeAccount(ctx, api.NewAccountID(), sk.PublicKey(), types.Address{1}, 5); !utils.IsErr(err, api.ErrInvalidExpiry) {
			t.Fatal("expected ErrInvalidExpiry, got", err)
		}
	}
	if n := b.accounts.Len(); n != 0 {
		t.Fatal("expected no handles, got", n)
	}

	// a repeated initialization keeps the handle of the existing account
	id := api.NewAccountID()
	if err := c.InitializeAccount(ctx, id, sk.PublicKey(), types.Address{1}, 10); err != nil {
		t.Fatal(err)
	} else if err := c.InitializeAccount(ctx, id, sk.PublicKey(), types.Address{1}, 10); !utils.IsErr(err, api.ErrAlreadyInitialized) {
		t.Fatal("expected ErrAlreadyInitialized, got", err)
	} else if n := b.accounts.Len(); n != 1 {
		t.Fatal("expected one handle, got", n)
	}
}

func TestSweepNegativePayment(t *testing.T) {
	_, c, am := newTestBus(t)
	ctx := context.Background()

	sk := types.GeneratePrivateKey()
	info, err := c.CreateAccount(ctx, sk.PublicKey(), types.Address{1}, 10)
	if err != nil {
		t.Fatal(err)
	} else if err := c.RecordPayment(ctx, info.ID, types.Address{3}, big.NewInt(-5)); err != nil {
		t.Fatal(err)
	}

	// a negative payment can't be swept, no matter how often it's tried
	dest := types.Address{2}
	sig := ephemeralaccounts.SignSweep(sk, info.ID, dest, info.SweepNonce)
	if err := c.SweepAccount(ctx, info.ID, dest, sig); !utils.IsErr(err, api.ErrInvalidAmount) {
		t.Fatal("expected ErrInvalidAmount, got", err)
	} else if api.IsRetryable(err) {
		t.Fatal("sweep of a negative payment shouldn't be retryable")
	} else if active := am.Active(); len(active) != 1 || active[0].ID != alerts.AccountAlertID("sweep", info.ID) {
		t.Fatalf("unexpected alerts %+v", active)
	} else if status, err := c.AccountStatus(ctx, info.ID); err != nil {
		t.Fatal(err)
	} else if status != api.StatusPaymentReceived {
		t.Fatal("unexpected status", status)
	}
}

func TestExpireAfterPartialSweep(t *testing.T) {
	b, c, am := newTestBus(t)
	ctx := context.Background()

	sk := types.GeneratePrivateKey()
	dest := types.Address{2}
	sweep := func(id api.AccountID) error {
		t.Helper()
		acc, err := c.Account(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		return c.SweepAccount(ctx, id, dest, ephemeralaccounts.SignSweep(sk, id, dest, acc.SweepNonce))
	}

	// the first asset of the partial account is funded, the second isn't
	partial, err := c.CreateAccount(ctx, sk.PublicKey(), types.Address{1}, 10)
	if err != nil {
		t.Fatal(err)
	}
	assetA, assetB := types.Address{10}, types.Address{11}
	if err := c.RecordPayment(ctx, partial.ID, assetA, big.NewInt(100)); err != nil {
		t.Fatal(err)
	} else if err := c.RecordPayment(ctx, partial.ID, assetB, big.NewInt(50)); err != nil {
		t.Fatal(err)
	} else if err := c.Credit(ctx, partial.ID.Address(), assetA, big.NewInt(100)); err != nil {
		t.Fatal(err)
	} else if err := sweep(partial.ID); !utils.IsErr(err, api.ErrInsufficientBalance) {
		t.Fatal("expected ErrInsufficientBalance, got", err)
	} else if balance, err := c.Balance(ctx, dest, assetA); err != nil {
		t.Fatal(err)
	} else if balance.Int64() != 100 {
		t.Fatal("unexpected balance", balance)
	}

	// nothing of the unfunded account moves
	unfunded, err := c.CreateAccount(ctx, sk.PublicKey(), types.Address{1}, 10)
	if err != nil {
		t.Fatal(err)
	} else if err := c.RecordPayment(ctx, unfunded.ID, assetA, big.NewInt(10)); err != nil {
		t.Fatal(err)
	} else if err := sweep(unfunded.ID); !utils.IsErr(err, api.ErrInsufficientBalance) {
		t.Fatal("expected ErrInsufficientBalance, got", err)
	} else if n := len(am.Active()); n != 2 {
		t.Fatal("expected 2 alerts, got", n)
	}

	if err := c.AdvanceHeight(ctx, 11); err != nil {
		t.Fatal(err)
	}
	for _, id := range []api.AccountID{partial.ID, unfunded.ID} {
		if err := c.ExpireAccount(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	// only the partially swept account still needs attention
	active := am.Active()
	if len(active) != 1 {
		t.Fatalf("unexpected alerts %+v", active)
	} else if active[0].ID != alerts.AccountAlertID("sweep", partial.ID) {
		t.Fatal("unexpected alert", active[0].ID)
	} else if active[0].Severity != alerts.SeverityCritical {
		t.Fatal("unexpected severity", active[0].Severity)
	} else if n := b.accounts.Len(); n != 0 {
		t.Fatal("expected no handles, got", n)
	}
}
