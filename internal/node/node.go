package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/alerts"
	"go.sia.tech/ephemerald/autopilot"
	"go.sia.tech/ephemerald/bus"
	"go.sia.tech/ephemerald/chain"
	"go.sia.tech/ephemerald/config"
	"go.sia.tech/ephemerald/events"
	"go.sia.tech/ephemerald/internal/utils"
	"go.sia.tech/ephemerald/stores"
	"go.sia.tech/ephemerald/webhooks"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type BusConfig struct {
	config.Bus
	DBLoggerConfig stores.LoggerConfig
	DBDialector    gorm.Dialector
}

type (
	RunFn      = func() error
	ShutdownFn = func(context.Context) error
)

// NewBus creates a bus backed by a SQL store. The returned tracker can be
// used to get notified about height changes.
func NewBus(cfg BusConfig, dir string, l *zap.Logger) (http.Handler, *chain.Tracker, ShutdownFn, error) {
	// If no DB dialector was provided, use SQLite.
	dbConn := cfg.DBDialector
	if dbConn == nil {
		dbDir := filepath.Join(dir, "db")
		if err := os.MkdirAll(dbDir, 0700); err != nil {
			return nil, nil, nil, err
		}
		dbConn = stores.NewSQLiteConnection(filepath.Join(dbDir, "db.sqlite"))
	}

	sqlLogger := stores.NewSQLLogger(l.Named("db"), cfg.DBLoggerConfig)
	sqlStore, err := stores.NewSQLStore(dbConn, true, l, sqlLogger)
	if err != nil {
		return nil, nil, nil, err
	}

	hooksMgr, err := webhooks.NewManager(l, sqlStore)
	if err != nil {
		return nil, nil, nil, errors.Join(err, sqlStore.Close())
	}

	// Hook up webhooks to alerts and account events.
	alertsMgr := alerts.NewManager()
	alertsMgr.RegisterWebhookBroadcaster(hooksMgr)
	eventsBroadcaster := events.NewBroadcaster(hooksMgr)

	ctx, cancel := context.WithCancel(context.Background())
	cm, err := chain.NewTracker(ctx, sqlStore, l)
	if err != nil {
		cancel()
		return nil, nil, nil, errors.Join(err, hooksMgr.Close(), sqlStore.Close())
	}

	b, err := bus.New(cm, sqlStore, sqlStore, alertsMgr, hooksMgr, eventsBroadcaster, l)
	if err != nil {
		cancel()
		return nil, nil, nil, errors.Join(err, hooksMgr.Close(), sqlStore.Close())
	}

	var wg sync.WaitGroup
	if cfg.BlockTime > 0 {
		wg.Add(1)
		go func() {
			cm.Run(ctx, cfg.BlockTime)
			wg.Done()
		}()
	}

	shutdownFn := func(ctx context.Context) error {
		cancel()
		wg.Wait()
		return errors.Join(
			b.Shutdown(ctx),
			hooksMgr.Close(),
			sqlStore.Close(),
		)
	}
	return b.Handler(), cm, shutdownFn, nil
}

// NewAutopilot creates an autopilot that signs with the key derived from the
// master key at the configured index.
func NewAutopilot(cfg config.Autopilot, mk utils.MasterKey, b autopilot.Bus, l *zap.Logger) (*autopilot.Autopilot, error) {
	var destination types.Address
	if cfg.Destination == "" {
		return nil, errors.New("no sweep destination configured")
	} else if err := destination.UnmarshalText([]byte(strings.TrimSpace(cfg.Destination))); err != nil {
		return nil, fmt.Errorf("invalid sweep destination: %w", err)
	}
	return autopilot.New(b, mk.DeriveSweepKey(cfg.KeyIndex), destination, cfg.Heartbeat, l)
}
