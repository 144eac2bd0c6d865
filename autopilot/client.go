package autopilot

import (
	"context"

	"go.sia.tech/ephemerald/api"
	"go.sia.tech/jape"
)

// A Client provides methods for interacting with an autopilot.
type Client struct {
	c jape.Client
}

// NewClient returns a new autopilot client.
func NewClient(addr, password string) *Client {
	return &Client{jape.Client{
		BaseURL:  addr,
		Password: password,
	}}
}

// State returns the current state of the autopilot.
func (c *Client) State(ctx context.Context) (state api.AutopilotStateResponse, err error) {
	err = c.c.WithContext(ctx).GET("/state", &state)
	return
}

// Trigger triggers an iteration of the autopilot's main loop.
func (c *Client) Trigger(ctx context.Context) (_ bool, err error) {
	var resp api.AutopilotTriggerResponse
	err = c.c.WithContext(ctx).POST("/trigger", nil, &resp)
	return resp.Triggered, err
}
