package events

import (
	"context"
	"math/big"
	"time"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/api"
	"go.sia.tech/ephemerald/webhooks"
)

const (
	WebhookEventsModule = "accounts"

	WebhookEventAccountInitialized        = "account_initialized"
	WebhookEventPaymentReceived           = "payment_received"
	WebhookEventAdditionalPaymentReceived = "additional_payment_received"
	WebhookEventAccountSwept              = "account_swept"
	WebhookEventAccountExpired            = "account_expired"
)

type (
	// A BroadCaster broadcasts events using webhooks. This tiny wrapper
	// hardcodes the webhook 'module' and validates we only broadcasts events.
	BroadCaster struct {
		broadcaster webhooks.Broadcaster
	}

	Event interface{ Event() string }

	EventAccountInitialized struct {
		AccountID    api.AccountID     `json:"accountID"`
		Creator      types.PublicKey   `json:"creator"`
		Recovery     types.Address     `json:"recovery"`
		ExpiryHeight uint64            `json:"expiryHeight"`
		Status       api.AccountStatus `json:"status"`
		Timestamp    time.Time         `json:"timestamp"`
	}

	// EventPaymentReceived is emitted when an account receives its first
	// payment and becomes sweepable.
	EventPaymentReceived struct {
		AccountID    api.AccountID     `json:"accountID"`
		Asset        types.Address     `json:"asset"`
		Amount       *big.Int          `json:"amount"`
		Status       api.AccountStatus `json:"status"`
		PaymentCount int               `json:"paymentCount"`
		Timestamp    time.Time         `json:"timestamp"`
	}

	// EventAdditionalPaymentReceived is emitted for every payment after the
	// first one.
	EventAdditionalPaymentReceived struct {
		AccountID    api.AccountID     `json:"accountID"`
		Asset        types.Address     `json:"asset"`
		Amount       *big.Int          `json:"amount"`
		Status       api.AccountStatus `json:"status"`
		PaymentCount int               `json:"paymentCount"`
		Timestamp    time.Time         `json:"timestamp"`
	}

	EventAccountSwept struct {
		AccountID   api.AccountID       `json:"accountID"`
		Destination types.Address       `json:"destination"`
		Payments    []api.PaymentRecord `json:"payments"`
		Status      api.AccountStatus   `json:"status"`
		Timestamp   time.Time           `json:"timestamp"`
	}

	// EventAccountExpired is emitted when an unswept account expired. The
	// payments it still holds are owed to the recovery address, Transferred
	// lists the payments a failed sweep already moved to its destination.
	EventAccountExpired struct {
		AccountID    api.AccountID       `json:"accountID"`
		Recovery     types.Address       `json:"recovery"`
		ExpiryHeight uint64              `json:"expiryHeight"`
		Height       uint64              `json:"height"`
		Payments     []api.PaymentRecord `json:"payments"`
		Transferred  []api.PaymentRecord `json:"transferred,omitempty"`
		Status       api.AccountStatus   `json:"status"`
		Timestamp    time.Time           `json:"timestamp"`
	}
)

func (e EventAccountInitialized) Event() string        { return WebhookEventAccountInitialized }
func (e EventPaymentReceived) Event() string           { return WebhookEventPaymentReceived }
func (e EventAdditionalPaymentReceived) Event() string { return WebhookEventAdditionalPaymentReceived }
func (e EventAccountSwept) Event() string              { return WebhookEventAccountSwept }
func (e EventAccountExpired) Event() string            { return WebhookEventAccountExpired }

func NewEventWebhook(url string, event string) webhooks.Webhook {
	return webhooks.Webhook{
		Module: WebhookEventsModule,
		Event:  event,
		URL:    url,
	}
}

func NewBroadcaster(broadcaster webhooks.Broadcaster) *BroadCaster {
	return &BroadCaster{
		broadcaster: broadcaster,
	}
}

func (s *BroadCaster) BroadcastEvent(ctx context.Context, event Event) error {
	return s.broadcaster.BroadcastAction(ctx, webhooks.Event{
		Module:  WebhookEventsModule,
		Event:   event.Event(),
		Payload: event,
	})
}
