package api

import "go.sia.tech/ephemerald/webhooks"

// WebhookResponse is the response type for the /webhooks endpoint.
type WebhookResponse struct {
	Webhooks []webhooks.Webhook          `json:"webhooks"`
	Queues   []webhooks.WebhookQueueInfo `json:"queues"`
}
