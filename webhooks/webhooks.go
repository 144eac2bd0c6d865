package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrWebhookNotFound is returned when deleting a webhook that was never
	// registered.
	ErrWebhookNotFound = errors.New("webhook not found")

	// ErrInvalidWebhook is returned when registering a malformed webhook.
	ErrInvalidWebhook = errors.New("invalid webhook")
)

type (
	WebhookStore interface {
		AddWebhook(ctx context.Context, wh Webhook) error
		DeleteWebhook(ctx context.Context, wh Webhook) error
		Webhooks(ctx context.Context) ([]Webhook, error)
	}

	Broadcaster interface {
		BroadcastAction(ctx context.Context, action Event) error
	}
)

// NoopBroadcaster drops every event.
type NoopBroadcaster struct{}

func (NoopBroadcaster) BroadcastAction(_ context.Context, _ Event) error { return nil }

const (
	webhookTimeout   = 10 * time.Second
	WebhookEventPing = "ping"
)

type (
	Webhook struct {
		Module string `json:"module"`
		Event  string `json:"event"`
		URL    string `json:"url"`
	}

	WebhookQueueInfo struct {
		URL  string `json:"url"`
		Size int    `json:"size"`
	}

	// Event describes an event that has been triggered.
	Event struct {
		Module  string      `json:"module"`
		Event   string      `json:"event"`
		Payload interface{} `json:"payload,omitempty"`
	}
)

// Manager keeps track of registered webhooks and delivers events to them.
// Every URL has its own queue, events for the same URL are delivered in the
// order they were broadcast.
type Manager struct {
	client *http.Client
	logger *zap.SugaredLogger
	store  WebhookStore
	wg     sync.WaitGroup

	shutdownCtx       context.Context
	shutdownCtxCancel context.CancelFunc

	mu       sync.Mutex
	queues   map[string]*eventQueue // URL -> queue
	webhooks map[string]Webhook
}

type eventQueue struct {
	client *http.Client
	ctx    context.Context
	logger *zap.SugaredLogger
	url    string

	mu           sync.Mutex
	isDequeueing bool
	events       []Event
}

// BroadcastAction implements the Broadcaster interface. It never blocks on
// delivery.
func (m *Manager) BroadcastAction(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, hook := range m.webhooks {
		if !hook.Matches(event) {
			continue
		}

		queue, exists := m.queues[hook.URL]
		if !exists {
			queue = &eventQueue{
				client: m.client,
				ctx:    m.shutdownCtx,
				logger: m.logger,
				url:    hook.URL,
			}
			m.queues[hook.URL] = queue
		}

		queue.mu.Lock()
		queue.events = append(queue.events, event)
		if !queue.isDequeueing {
			queue.isDequeueing = true
			m.wg.Add(1)
			go func() {
				queue.dequeue()
				m.wg.Done()
			}()
		}
		queue.mu.Unlock()
	}
	return nil
}

// Close stops delivering events and waits for in-flight deliveries to return.
func (m *Manager) Close() error {
	m.shutdownCtxCancel()
	m.wg.Wait()
	return nil
}

// Delete removes a webhook.
func (m *Manager) Delete(ctx context.Context, wh Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.webhooks[wh.String()]; !exists {
		return ErrWebhookNotFound
	} else if err := m.store.DeleteWebhook(ctx, wh); err != nil {
		return err
	}
	delete(m.webhooks, wh.String())
	return nil
}

// Info returns the registered webhooks and the size of their queues, both
// sorted by URL.
func (m *Manager) Info() ([]Webhook, []WebhookQueueInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hooks := make([]Webhook, 0, len(m.webhooks))
	for _, hook := range m.webhooks {
		hooks = append(hooks, hook)
	}
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].String() < hooks[j].String() })

	queueInfos := make([]WebhookQueueInfo, 0, len(m.queues))
	for _, queue := range m.queues {
		queue.mu.Lock()
		queueInfos = append(queueInfos, WebhookQueueInfo{
			URL:  queue.url,
			Size: len(queue.events),
		})
		queue.mu.Unlock()
	}
	sort.Slice(queueInfos, func(i, j int) bool { return queueInfos[i].URL < queueInfos[j].URL })
	return hooks, queueInfos
}

// Register adds a webhook after confirming its URL accepts a ping event.
func (m *Manager) Register(ctx context.Context, wh Webhook) error {
	if err := wh.validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	err := sendEvent(ctx, m.client, wh.URL, Event{
		Module: wh.Module,
		Event:  WebhookEventPing,
	})
	if err != nil {
		return fmt.Errorf("failed to ping webhook: %w", err)
	}

	if err := m.store.AddWebhook(ctx, wh); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[wh.String()] = wh
	return nil
}

func (a Event) String() string {
	return a.Module + "." + a.Event
}

func (q *eventQueue) dequeue() {
	for {
		q.mu.Lock()
		if len(q.events) == 0 {
			q.isDequeueing = false
			q.mu.Unlock()
			return
		}
		next := q.events[0]
		q.events = q.events[1:]
		q.mu.Unlock()

		ctx, cancel := context.WithTimeout(q.ctx, webhookTimeout)
		err := sendEvent(ctx, q.client, q.url, next)
		cancel()
		if err != nil {
			q.logger.Errorw("failed to send webhook event", "event", next.String(), "url", q.url, zap.Error(err))
		}
	}
}

// Matches returns true if the webhook is interested in the event. An empty
// event matches all events of the webhook's module.
func (w Webhook) Matches(action Event) bool {
	if w.Module != action.Module {
		return false
	}
	return w.Event == "" || w.Event == action.Event
}

func (w Webhook) String() string {
	return fmt.Sprintf("%v.%v.%v", w.URL, w.Module, w.Event)
}

func (w Webhook) validate() error {
	if w.Module == "" {
		return fmt.Errorf("%w: module is required", ErrInvalidWebhook)
	}
	u, err := url.Parse(w.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidWebhook, u.Scheme)
	}
	return nil
}

// NewManager creates a manager and loads the registered webhooks from the
// store.
func NewManager(logger *zap.Logger, store WebhookStore) (*Manager, error) {
	shutdownCtx, shutdownCtxCancel := context.WithCancel(context.Background())
	m := &Manager{
		client: &http.Client{Timeout: webhookTimeout},
		logger: logger.Named("webhooks").Sugar(),
		store:  store,

		shutdownCtx:       shutdownCtx,
		shutdownCtxCancel: shutdownCtxCancel,

		queues:   make(map[string]*eventQueue),
		webhooks: make(map[string]Webhook),
	}
	hooks, err := store.Webhooks(shutdownCtx)
	if err != nil {
		shutdownCtxCancel()
		return nil, err
	}
	for _, hook := range hooks {
		m.webhooks[hook.String()] = hook
	}
	return m, nil
}

func sendEvent(ctx context.Context, client *http.Client, url string, action Event) error {
	body, err := json.Marshal(action)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) // always drain body
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		errStr, err := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		return fmt.Errorf("webhook returned unexpected status %v: %v", resp.StatusCode, string(errStr))
	}
	return nil
}
