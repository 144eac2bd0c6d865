package bus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/alerts"
	"go.sia.tech/ephemerald/api"
	"go.sia.tech/ephemerald/build"
	"go.sia.tech/ephemerald/chain"
	"go.sia.tech/ephemerald/ephemeralaccounts"
	"go.sia.tech/ephemerald/webhooks"
	"go.sia.tech/jape"
	"go.uber.org/zap"
)

const alertKindSweep = "sweep"

func (b *bus) stateHandlerGET(jc jape.Context) {
	api.WriteResponse(jc, api.BusStateResponse{
		StartTime: api.TimeRFC3339(b.startTime),
		Height:    b.cm.Height(),
		BuildState: api.BuildState{
			Version:   build.Version(),
			Commit:    build.Commit(),
			OS:        runtime.GOOS,
			BuildTime: api.TimeRFC3339(build.BuildTime()),
		},
	})
}

func (b *bus) consensusHeightHandlerGET(jc jape.Context) {
	jc.Encode(api.ConsensusHeightResponse{Height: b.cm.Height()})
}

func (b *bus) consensusHeightHandlerPOST(jc jape.Context) {
	var req api.ConsensusHeightRequest
	if jc.Decode(&req) != nil {
		return
	}
	err := b.cm.Advance(jc.Request.Context(), req.Height)
	if errors.Is(err, chain.ErrHeightDecreased) {
		jc.Error(err, http.StatusBadRequest)
		return
	}
	jc.Check("failed to advance height", err)
}

func (b *bus) accountsHandlerGET(jc jape.Context) {
	var creator types.PublicKey
	var status api.AccountStatus
	offset, limit := 0, -1
	if jc.DecodeForm("creator", &creator) != nil {
		return
	} else if jc.DecodeForm("status", &status) != nil {
		return
	} else if jc.DecodeForm("offset", &offset) != nil {
		return
	} else if jc.DecodeForm("limit", &limit) != nil {
		return
	} else if offset < 0 {
		jc.Error(errors.New("offset must be non-negative"), http.StatusBadRequest)
		return
	} else if limit < -1 {
		jc.Error(errors.New("limit must be -1 or non-negative"), http.StatusBadRequest)
		return
	}

	opts := api.AccountsOpts{
		Status: status,
		Offset: offset,
		Limit:  limit,
	}
	if creator != (types.PublicKey{}) {
		opts.Creator = &creator
	}

	accs, err := b.as.Accounts(jc.Request.Context(), opts)
	if jc.Check("failed to fetch accounts", err) != nil {
		return
	}
	infos := make([]api.AccountInfo, len(accs))
	for i, acc := range accs {
		infos[i] = acc.Info()
	}
	jc.Encode(infos)
}

func (b *bus) accountsHandlerPOST(jc jape.Context) {
	var req api.AccountInitializeRequest
	if jc.Decode(&req) != nil {
		return
	}

	acc := b.accounts.Account(api.NewAccountID())
	err := acc.Initialize(jc.Request.Context(), req.Creator, req.ExpiryHeight, req.Recovery)
	if b.checkAccount(jc, "failed to initialize account", err) != nil {
		b.accounts.Forget(acc.ID())
		return
	}
	info, err := acc.Info(jc.Request.Context())
	if b.checkAccount(jc, "failed to fetch account", err) != nil {
		return
	}
	jc.Encode(info)
}

func (b *bus) accountsStatsHandlerGET(jc jape.Context) {
	stats, err := b.as.AccountStats(jc.Request.Context())
	if jc.Check("failed to fetch account stats", err) != nil {
		return
	}
	api.WriteResponse(jc, api.AccountsStatsResponse{
		Height:   b.cm.Height(),
		ByStatus: stats,
	})
}

func (b *bus) accountHandlerGET(jc jape.Context) {
	acc, ok := b.account(jc)
	if !ok {
		return
	}
	info, err := acc.Info(jc.Request.Context())
	if b.checkAccount(jc, "failed to fetch account", err) != nil {
		return
	}
	jc.Encode(info)
}

func (b *bus) accountInitializeHandlerPOST(jc jape.Context) {
	var id api.AccountID
	var req api.AccountInitializeRequest
	if jc.DecodeParam("id", &id) != nil {
		return
	} else if jc.Decode(&req) != nil {
		return
	}
	err := b.accounts.Account(id).Initialize(jc.Request.Context(), req.Creator, req.ExpiryHeight, req.Recovery)
	if b.checkAccount(jc, "failed to initialize account", err) != nil && !errors.Is(err, api.ErrAlreadyInitialized) {
		// the account doesn't exist, don't keep a handle around for it
		b.accounts.Forget(id)
	}
}

func (b *bus) accountStatusHandlerGET(jc jape.Context) {
	acc, ok := b.account(jc)
	if !ok {
		return
	}
	status, err := acc.Status(jc.Request.Context())
	if b.checkAccount(jc, "failed to fetch account status", err) != nil {
		return
	}
	jc.Encode(status)
}

func (b *bus) accountExpiredHandlerGET(jc jape.Context) {
	acc, ok := b.account(jc)
	if !ok {
		return
	}
	height := b.cm.Height()
	expired, err := acc.IsExpired(jc.Request.Context())
	if b.checkAccount(jc, "failed to check expiry", err) != nil {
		return
	}
	jc.Encode(api.AccountExpiredResponse{
		Expired: expired,
		Height:  height,
	})
}

func (b *bus) accountPaymentHandlerPOST(jc jape.Context) {
	var req api.AccountPaymentRequest
	acc, ok := b.account(jc)
	if !ok {
		return
	} else if jc.Decode(&req) != nil {
		return
	}
	err := acc.RecordPayment(jc.Request.Context(), req.Amount, req.Asset)
	b.checkAccount(jc, "failed to record payment", err)
}

func (b *bus) accountSweepHandlerPOST(jc jape.Context) {
	var req api.AccountSweepRequest
	acc, ok := b.account(jc)
	if !ok {
		return
	} else if jc.Decode(&req) != nil {
		return
	}

	ctx := jc.Request.Context()
	alertID := alerts.AccountAlertID(alertKindSweep, acc.ID())
	err := acc.Sweep(ctx, req.Destination, req.Signature)
	if isTransferErr(err) {
		if err := b.alerts.RegisterAlert(ctx, newSweepFailedAlert(alertID, acc.ID(), req.Destination, err)); err != nil {
			b.logger.Errorw("failed to register alert", "account", acc.ID(), zap.Error(err))
		}
	}
	if b.checkAccount(jc, "failed to sweep account", err) != nil {
		return
	}

	b.dismissAlert(ctx, alertID)
	b.accounts.Forget(acc.ID())
}

func (b *bus) accountExpireHandlerPOST(jc jape.Context) {
	acc, ok := b.account(jc)
	if !ok {
		return
	}
	ctx := jc.Request.Context()
	if b.checkAccount(jc, "failed to expire account", acc.Expire(ctx)) != nil {
		return
	}

	defer b.accounts.Forget(acc.ID())

	// the account can't be swept anymore, the sweep alert only stays relevant
	// if a failed sweep already moved some of its funds
	alertID := alerts.AccountAlertID(alertKindSweep, acc.ID())
	transferred, err := acc.Transferred(ctx)
	if err != nil {
		b.logger.Errorw("failed to check for transferred payments", "account", acc.ID(), zap.Error(err))
		return
	} else if len(transferred) == 0 {
		b.dismissAlert(ctx, alertID)
		return
	}
	if err := b.alerts.RegisterAlert(ctx, newPartialSweepAlert(alertID, acc.ID(), transferred)); err != nil {
		b.logger.Errorw("failed to register alert", "account", acc.ID(), zap.Error(err))
	}
}

func (b *bus) balanceHandlerGET(jc jape.Context) {
	var owner, asset types.Address
	if jc.DecodeParam("owner", &owner) != nil {
		return
	} else if jc.DecodeParam("asset", &asset) != nil {
		return
	}
	amount, err := b.bs.Balance(jc.Request.Context(), owner, asset)
	if jc.Check("failed to fetch balance", err) != nil {
		return
	}
	jc.Encode(api.BalanceResponse{
		Owner:  owner,
		Asset:  asset,
		Amount: amount,
	})
}

func (b *bus) balanceCreditHandlerPOST(jc jape.Context) {
	var owner types.Address
	var req api.BalanceCreditRequest
	if jc.DecodeParam("owner", &owner) != nil {
		return
	} else if jc.Decode(&req) != nil {
		return
	} else if req.Amount == nil || req.Amount.Sign() <= 0 {
		jc.Error(errors.New("amount must be positive"), http.StatusBadRequest)
		return
	}
	jc.Check("failed to credit balance", b.bs.Credit(jc.Request.Context(), owner, req.Asset, req.Amount))
}

func (b *bus) alertsHandlerGET(jc jape.Context) {
	var severity alerts.Severity
	offset, limit := 0, -1
	if jc.DecodeForm("offset", &offset) != nil {
		return
	} else if jc.DecodeForm("limit", &limit) != nil {
		return
	} else if jc.DecodeForm("severity", &severity) != nil {
		return
	}
	resp, err := b.alertMgr.Alerts(jc.Request.Context(), alerts.AlertsOpts{
		Offset:   offset,
		Limit:    limit,
		Severity: severity,
	})
	if errors.Is(err, alerts.ErrInvalidOffset) || errors.Is(err, alerts.ErrInvalidLimit) {
		jc.Error(err, http.StatusBadRequest)
		return
	} else if jc.Check("failed to fetch alerts", err) != nil {
		return
	}
	api.WriteResponse(jc, resp)
}

func (b *bus) alertsDismissHandlerPOST(jc jape.Context) {
	var req api.AlertsDismissRequest
	if jc.Decode(&req) != nil {
		return
	}
	jc.Check("failed to dismiss alerts", b.alertMgr.DismissAlerts(jc.Request.Context(), req.IDs...))
}

func (b *bus) webhooksHandlerGET(jc jape.Context) {
	hooks, queues := b.hooks.Info()
	jc.Encode(api.WebhookResponse{
		Webhooks: hooks,
		Queues:   queues,
	})
}

func (b *bus) webhooksHandlerPOST(jc jape.Context) {
	var req webhooks.Webhook
	if jc.Decode(&req) != nil {
		return
	}
	err := b.hooks.Register(jc.Request.Context(), req)
	if errors.Is(err, webhooks.ErrInvalidWebhook) {
		jc.Error(err, http.StatusBadRequest)
		return
	}
	jc.Check("failed to register webhook", err)
}

func (b *bus) webhooksDeleteHandlerPOST(jc jape.Context) {
	var wh webhooks.Webhook
	if jc.Decode(&wh) != nil {
		return
	}
	err := b.hooks.Delete(jc.Request.Context(), wh)
	if errors.Is(err, webhooks.ErrWebhookNotFound) {
		jc.Error(err, http.StatusNotFound)
		return
	}
	jc.Check("failed to delete webhook", err)
}

// account decodes the account id from the path and returns its handle. It
// writes a 404 if the account was never initialized.
func (b *bus) account(jc jape.Context) (*ephemeralaccounts.Account, bool) {
	var id api.AccountID
	if jc.DecodeParam("id", &id) != nil {
		return nil, false
	}
	_, err := b.as.Account(jc.Request.Context(), id)
	if errors.Is(err, api.ErrAccountNotFound) {
		jc.Error(fmt.Errorf("%w: %v", api.ErrInvalidAccount, id), http.StatusNotFound)
		return nil, false
	} else if jc.Check("failed to fetch account", err) != nil {
		return nil, false
	}
	return b.accounts.Account(id), true
}

// checkAccount is like jc.Check but picks the status code from the error.
func (b *bus) checkAccount(jc jape.Context, msg string, err error) error {
	if err != nil {
		jc.Error(fmt.Errorf("%s: %w", msg, err), accountErrorStatus(err))
	}
	return err
}

func (b *bus) dismissAlert(ctx context.Context, id types.Hash256) {
	if err := b.alerts.DismissAlerts(ctx, id); err != nil {
		b.logger.Errorw("failed to dismiss alert", "id", id, zap.Error(err))
	}
}

func accountErrorStatus(err error) int {
	switch {
	case errors.Is(err, api.ErrInvalidAccount),
		errors.Is(err, api.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrAuthorizationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, api.ErrInvalidExpiry),
		errors.Is(err, api.ErrAmountOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrAlreadyInitialized),
		errors.Is(err, api.ErrDuplicateAsset),
		errors.Is(err, api.ErrTooManyPayments),
		errors.Is(err, api.ErrAccountNotReady),
		errors.Is(err, api.ErrAccountExpired),
		errors.Is(err, api.ErrAccountAlreadySwept),
		errors.Is(err, api.ErrInsufficientBalance),
		errors.Is(err, api.ErrInvalidAmount):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func isTransferErr(err error) bool {
	return errors.Is(err, api.ErrTransferFailed) ||
		errors.Is(err, api.ErrInsufficientBalance) ||
		errors.Is(err, api.ErrInvalidAmount)
}

func newSweepFailedAlert(id types.Hash256, account api.AccountID, destination types.Address, err error) alerts.Alert {
	return alerts.Alert{
		ID:       id,
		Severity: alerts.SeverityError,
		Message:  "Sweeping an ephemeral account failed",
		Data: map[string]any{
			"account":     account,
			"destination": destination,
			"error":       err.Error(),
			"hint":        "The sweep can be retried with a signature over the account's new sweep nonce, transfers that already went through are not repeated.",
		},
		Timestamp: time.Now(),
	}
}

func newPartialSweepAlert(id types.Hash256, account api.AccountID, transferred []api.PaymentRecord) alerts.Alert {
	return alerts.Alert{
		ID:       id,
		Severity: alerts.SeverityCritical,
		Message:  "Ephemeral account expired after a partial sweep",
		Data: map[string]any{
			"account":     account,
			"transferred": transferred,
			"hint":        "A sweep moved some payments to its destination before failing, the remaining payments are owed to the recovery address.",
		},
		Timestamp: time.Now(),
	}
}
