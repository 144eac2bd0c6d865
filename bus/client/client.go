package client

import (
	"context"
	"fmt"
	"math/big"
	"net/url"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/alerts"
	"go.sia.tech/ephemerald/api"
	"go.sia.tech/ephemerald/webhooks"
	"go.sia.tech/jape"
)

// A Client provides methods for interacting with a bus.
type Client struct {
	c jape.Client
}

// New returns a new bus client.
func New(addr, password string) *Client {
	return &Client{jape.Client{
		BaseURL:  addr,
		Password: password,
	}}
}

// State returns the current state of the bus.
func (c *Client) State(ctx context.Context) (state api.BusStateResponse, err error) {
	err = c.c.WithContext(ctx).GET("/state", &state)
	return
}

// Height returns the current ledger height.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	var resp api.ConsensusHeightResponse
	err := c.c.WithContext(ctx).GET("/consensus/height", &resp)
	return resp.Height, err
}

// AdvanceHeight moves the ledger height forward.
func (c *Client) AdvanceHeight(ctx context.Context, height uint64) error {
	return c.c.WithContext(ctx).POST("/consensus/height", api.ConsensusHeightRequest{Height: height}, nil)
}

// Accounts returns the accounts matching the given options.
func (c *Client) Accounts(ctx context.Context, opts api.AccountsOpts) (accounts []api.AccountInfo, err error) {
	values := url.Values{}
	if opts.Creator != nil {
		values.Set("creator", opts.Creator.String())
	}
	if opts.Status != "" {
		values.Set("status", string(opts.Status))
	}
	if opts.Offset > 0 {
		values.Set("offset", fmt.Sprint(opts.Offset))
	}
	if opts.Limit != 0 {
		values.Set("limit", fmt.Sprint(opts.Limit))
	}
	err = c.c.WithContext(ctx).GET("/accounts?"+values.Encode(), &accounts)
	return
}

// CreateAccount creates and initializes an account with a random id.
func (c *Client) CreateAccount(ctx context.Context, creator types.PublicKey, recovery types.Address, expiryHeight uint64) (info api.AccountInfo, err error) {
	err = c.c.WithContext(ctx).POST("/accounts", api.AccountInitializeRequest{
		Creator:      creator,
		Recovery:     recovery,
		ExpiryHeight: expiryHeight,
	}, &info)
	return
}

// AccountsStats returns the number of accounts per status.
func (c *Client) AccountsStats(ctx context.Context) (resp api.AccountsStatsResponse, err error) {
	err = c.c.WithContext(ctx).GET("/accounts/stats", &resp)
	return
}

// Account returns a snapshot of the account with the given id.
func (c *Client) Account(ctx context.Context, id api.AccountID) (info api.AccountInfo, err error) {
	err = c.c.WithContext(ctx).GET(fmt.Sprintf("/account/%s", id), &info)
	return
}

// InitializeAccount initializes the account with the given id.
func (c *Client) InitializeAccount(ctx context.Context, id api.AccountID, creator types.PublicKey, recovery types.Address, expiryHeight uint64) error {
	return c.c.WithContext(ctx).POST(fmt.Sprintf("/account/%s/initialize", id), api.AccountInitializeRequest{
		Creator:      creator,
		Recovery:     recovery,
		ExpiryHeight: expiryHeight,
	}, nil)
}

// AccountStatus returns the status of the account with the given id.
func (c *Client) AccountStatus(ctx context.Context, id api.AccountID) (status api.AccountStatus, err error) {
	err = c.c.WithContext(ctx).GET(fmt.Sprintf("/account/%s/status", id), &status)
	return
}

// AccountExpired returns whether the account is past its expiry height.
func (c *Client) AccountExpired(ctx context.Context, id api.AccountID) (resp api.AccountExpiredResponse, err error) {
	err = c.c.WithContext(ctx).GET(fmt.Sprintf("/account/%s/expired", id), &resp)
	return
}

// RecordPayment records a payment of an asset to the account.
func (c *Client) RecordPayment(ctx context.Context, id api.AccountID, asset types.Address, amount *big.Int) error {
	return c.c.WithContext(ctx).POST(fmt.Sprintf("/account/%s/payment", id), api.AccountPaymentRequest{
		Asset:  asset,
		Amount: amount,
	}, nil)
}

// SweepAccount moves all funds of the account to the destination.
func (c *Client) SweepAccount(ctx context.Context, id api.AccountID, destination types.Address, sig types.Signature) error {
	return c.c.WithContext(ctx).POST(fmt.Sprintf("/account/%s/sweep", id), api.AccountSweepRequest{
		Destination: destination,
		Signature:   sig,
	}, nil)
}

// ExpireAccount marks an account that is past its expiry height as expired.
func (c *Client) ExpireAccount(ctx context.Context, id api.AccountID) error {
	return c.c.WithContext(ctx).POST(fmt.Sprintf("/account/%s/expire", id), nil, nil)
}

// Balance returns the amount of an asset held by owner.
func (c *Client) Balance(ctx context.Context, owner, asset types.Address) (*big.Int, error) {
	var resp api.BalanceResponse
	err := c.c.WithContext(ctx).GET(fmt.Sprintf("/balance/%s/%s", owner, asset), &resp)
	return resp.Amount, err
}

// Credit adds amount of an asset to the balance of owner.
func (c *Client) Credit(ctx context.Context, owner, asset types.Address, amount *big.Int) error {
	return c.c.WithContext(ctx).POST(fmt.Sprintf("/balance/%s/credit", owner), api.BalanceCreditRequest{
		Asset:  asset,
		Amount: amount,
	}, nil)
}

// Alerts fetches the active alerts from the bus.
func (c *Client) Alerts(ctx context.Context, opts alerts.AlertsOpts) (resp alerts.AlertsResponse, err error) {
	values := url.Values{}
	values.Set("offset", fmt.Sprint(opts.Offset))
	if opts.Limit != 0 {
		values.Set("limit", fmt.Sprint(opts.Limit))
	}
	if opts.Severity != 0 {
		values.Set("severity", opts.Severity.String())
	}
	err = c.c.WithContext(ctx).GET("/alerts?"+values.Encode(), &resp)
	return
}

// DismissAlerts dismisses the alerts with the given IDs.
func (c *Client) DismissAlerts(ctx context.Context, ids ...types.Hash256) error {
	return c.c.WithContext(ctx).POST("/alerts/dismiss", api.AlertsDismissRequest{IDs: ids}, nil)
}

// Webhooks returns the registered webhooks and their queues.
func (c *Client) Webhooks(ctx context.Context) (resp api.WebhookResponse, err error) {
	err = c.c.WithContext(ctx).GET("/webhooks", &resp)
	return
}

// RegisterWebhook registers a webhook.
func (c *Client) RegisterWebhook(ctx context.Context, wh webhooks.Webhook) error {
	return c.c.WithContext(ctx).POST("/webhooks", wh, nil)
}

// DeleteWebhook deletes a webhook.
func (c *Client) DeleteWebhook(ctx context.Context, wh webhooks.Webhook) error {
	return c.c.WithContext(ctx).POST("/webhooks/delete", wh, nil)
}
