package bus

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/alerts"
	"go.sia.tech/ephemerald/api"
	"go.sia.tech/ephemerald/ephemeralaccounts"
	"go.sia.tech/ephemerald/internal/tracing"
	"go.sia.tech/ephemerald/webhooks"
	"go.sia.tech/jape"
	"go.uber.org/zap"
)

type (
	// A ChainTracker keeps track of the ledger height.
	ChainTracker interface {
		Height() uint64
		Advance(ctx context.Context, height uint64) error
	}

	// An AccountStore persists ephemeral accounts.
	AccountStore interface {
		ephemeralaccounts.Store

		Accounts(ctx context.Context, opts api.AccountsOpts) ([]api.EphemeralAccount, error)
		AccountStats(ctx context.Context) (map[api.AccountStatus]int, error)
	}

	// A BalanceStore keeps track of the funds held by addresses and moves
	// them between addresses.
	BalanceStore interface {
		ephemeralaccounts.Transferer

		Balance(ctx context.Context, owner, asset types.Address) (*big.Int, error)
		Credit(ctx context.Context, owner, asset types.Address, amount *big.Int) error
	}

	// An AlertManager manages the alerts of the daemon.
	AlertManager interface {
		alerts.Alerter
		Alerts(_ context.Context, opts alerts.AlertsOpts) (resp alerts.AlertsResponse, err error)
	}

	// A WebhookManager delivers events to registered webhooks.
	WebhookManager interface {
		webhooks.Broadcaster
		Delete(context.Context, webhooks.Webhook) error
		Info() ([]webhooks.Webhook, []webhooks.WebhookQueueInfo)
		Register(context.Context, webhooks.Webhook) error
	}
)

type bus struct {
	startTime time.Time

	alerts      alerts.Alerter
	alertMgr    AlertManager
	broadcaster ephemeralaccounts.EventBroadcaster
	cm          ChainTracker
	as          AccountStore
	bs          BalanceStore
	hooks       WebhookManager

	accounts *accounts
	logger   *zap.SugaredLogger
}

// New returns a new bus. Account lifecycle events are published through eb,
// which may be nil.
func New(cm ChainTracker, as AccountStore, bs BalanceStore, am AlertManager, hm WebhookManager, eb ephemeralaccounts.EventBroadcaster, l *zap.Logger) (*bus, error) {
	if cm == nil {
		return nil, errors.New("no chain tracker provided")
	} else if as == nil || bs == nil {
		return nil, errors.New("no store provided")
	} else if am == nil {
		return nil, errors.New("no alert manager provided")
	} else if hm == nil {
		return nil, errors.New("no webhook manager provided")
	}

	b := &bus{
		startTime: time.Now(),

		alerts:      alerts.WithOrigin(am, "bus"),
		alertMgr:    am,
		broadcaster: eb,
		cm:          cm,
		as:          as,
		bs:          bs,
		hooks:       hm,

		logger: l.Named("bus").Sugar(),
	}

	verifier := ephemeralaccounts.Ed25519Verifier{}
	b.accounts = newAccounts(func(id api.AccountID) *ephemeralaccounts.Account {
		return ephemeralaccounts.New(id, cm, as, verifier, bs, eb, l)
	})
	return b, nil
}

// Handler returns an HTTP handler that serves the bus API.
func (b *bus) Handler() http.Handler {
	return jape.Mux(tracing.TracedRoutes("bus", map[string]jape.Handler{
		"GET    /state": b.stateHandlerGET,

		"GET    /consensus/height": b.consensusHeightHandlerGET,
		"POST   /consensus/height": b.consensusHeightHandlerPOST,

		"GET    /accounts":       b.accountsHandlerGET,
		"POST   /accounts":       b.accountsHandlerPOST,
		"GET    /accounts/stats": b.accountsStatsHandlerGET,

		"GET    /account/:id":            b.accountHandlerGET,
		"POST   /account/:id/initialize": b.accountInitializeHandlerPOST,
		"GET    /account/:id/status":     b.accountStatusHandlerGET,
		"GET    /account/:id/expired":    b.accountExpiredHandlerGET,
		"POST   /account/:id/payment":    b.accountPaymentHandlerPOST,
		"POST   /account/:id/sweep":      b.accountSweepHandlerPOST,
		"POST   /account/:id/expire":     b.accountExpireHandlerPOST,

		"GET    /balance/:owner/:asset": b.balanceHandlerGET,
		"POST   /balance/:owner/credit": b.balanceCreditHandlerPOST,

		"GET    /alerts":         b.alertsHandlerGET,
		"POST   /alerts/dismiss": b.alertsDismissHandlerPOST,

		"GET    /webhooks":        b.webhooksHandlerGET,
		"POST   /webhooks":        b.webhooksHandlerPOST,
		"POST   /webhooks/delete": b.webhooksDeleteHandlerPOST,
	}))
}

// Shutdown shuts down the bus.
func (b *bus) Shutdown(ctx context.Context) error {
	b.accounts.Clear()
	return nil
}
