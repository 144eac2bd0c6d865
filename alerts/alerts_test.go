package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/webhooks"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []webhooks.Event
}

func (b *recordingBroadcaster) BroadcastAction(_ context.Context, e webhooks.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func TestAlertManager(t *testing.T) {
	mgr := NewManager()

	var cnt uint8
	newAlert := func(severity Severity) Alert {
		cnt++
		a := Alert{
			ID:        types.Hash256{cnt},
			Severity:  severity,
			Message:   fmt.Sprintf("alert %d", cnt),
			Timestamp: time.Now(),
			Data:      map[string]any{"origin": t.Name()},
		}
		return a
	}

	err1 := mgr.RegisterAlert(context.Background(), newAlert(SeverityInfo))
	err2 := mgr.RegisterAlert(context.Background(), newAlert(SeverityWarning))
	err3 := mgr.RegisterAlert(context.Background(), newAlert(SeverityError))
	err4 := mgr.RegisterAlert(context.Background(), newAlert(SeverityCritical))
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		t.Fatal("failed to register alerts", err)
	}

	res, err := mgr.Alerts(context.Background(), AlertsOpts{Limit: -1})
	if err != nil {
		t.Fatal("failed to get alerts")
	} else if len(res.Alerts) != 4 {
		t.Fatalf("wrong number of alerts: %v != 4", len(res.Alerts))
	} else if res.HasMore {
		t.Fatal("unexpected hasMore")
	}

	res, err = mgr.Alerts(context.Background(), AlertsOpts{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatal("failed to get alerts")
	} else if len(res.Alerts) != 2 {
		t.Fatalf("wrong number of alerts: %v != 2", len(res.Alerts))
	} else if !res.HasMore {
		t.Fatal("unexpected hasMore")
	}

	res, err = mgr.Alerts(context.Background(), AlertsOpts{Offset: 4, Limit: 1})
	if err != nil {
		t.Fatal("failed to get alerts")
	} else if len(res.Alerts) != 0 {
		t.Fatalf("wrong number of alerts: %v != 0", len(res.Alerts))
	} else if res.HasMore {
		t.Fatal("unexpected hasMore")
	}

	for s := 1; s <= 4; s++ {
		res, err := mgr.Alerts(context.Background(), AlertsOpts{Severity: Severity(s), Limit: -1})
		if err != nil {
			t.Fatal("failed to get alerts", Severity(s))
		} else if len(res.Alerts) != 1 {
			t.Fatalf("wrong number of alerts: %v != 1", len(res.Alerts))
		} else if res.HasMore {
			t.Fatal("unexpected hasMore")
		}

		res, err = mgr.Alerts(context.Background(), AlertsOpts{Severity: Severity(s), Offset: 2, Limit: -1})
		if err != nil {
			t.Fatal("failed to get alerts", Severity(s))
		} else if len(res.Alerts) != 0 {
			t.Fatalf("wrong number of alerts: %v != 0", len(res.Alerts))
		} else if res.HasMore {
			t.Fatal("unexpected hasMore")
		}
	}

	if _, err := mgr.Alerts(context.Background(), AlertsOpts{Offset: -1}); !errors.Is(err, ErrInvalidOffset) {
		t.Fatal("expected ErrInvalidOffset, got", err)
	} else if _, err := mgr.Alerts(context.Background(), AlertsOpts{Limit: -2}); !errors.Is(err, ErrInvalidLimit) {
		t.Fatal("expected ErrInvalidLimit, got", err)
	}
}

func TestAlertWebhooks(t *testing.T) {
	mgr := NewManager()
	b := &recordingBroadcaster{}
	mgr.RegisterWebhookBroadcaster(b)

	alerter := WithOrigin(mgr, "bus")
	id := AccountAlertID("sweep", [32]byte{1})
	if id != AccountAlertID("sweep", [32]byte{1}) {
		t.Fatal("alert id isn't deterministic")
	} else if id == AccountAlertID("sweep", [32]byte{2}) || id == AccountAlertID("expire", [32]byte{1}) {
		t.Fatal("alert ids collide")
	}

	// alerts without an origin are rejected
	if err := mgr.RegisterAlert(context.Background(), Alert{ID: id, Severity: SeverityError, Message: "foo", Timestamp: time.Now()}); err == nil {
		t.Fatal("expected error")
	}

	err := alerter.RegisterAlert(context.Background(), Alert{ID: id, Severity: SeverityError, Message: "foo", Timestamp: time.Now()})
	if err != nil {
		t.Fatal(err)
	} else if active := mgr.Active(); len(active) != 1 || active[0].Data["origin"] != "bus" {
		t.Fatal("unexpected alerts", active)
	}

	// dismissing an unknown alert doesn't fire a webhook
	if err := alerter.DismissAlerts(context.Background(), RandomAlertID()); err != nil {
		t.Fatal(err)
	} else if err := alerter.DismissAlerts(context.Background(), id); err != nil {
		t.Fatal(err)
	} else if len(mgr.Active()) != 0 {
		t.Fatal("alert wasn't dismissed")
	}

	if len(b.events) != 2 {
		t.Fatalf("expected 2 events, got %v", len(b.events))
	} else if b.events[0].String() != "alerts.register" || b.events[1].String() != "alerts.dismiss" {
		t.Fatal("unexpected events", b.events)
	}
}
