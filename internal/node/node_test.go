package node

import (
	"context"
	"errors"
	"math/big"
	"net"
	"net/http"
	"testing"
	"time"

	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/api"
	"go.sia.tech/ephemerald/bus/client"
	"go.sia.tech/ephemerald/config"
	"go.sia.tech/ephemerald/internal/utils"
	"go.sia.tech/ephemerald/stores"
	"go.sia.tech/jape"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
	"lukechampine.com/frand"
)

func TestNode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	h, cm, shutdownFn, err := NewBus(BusConfig{
		DBDialector: stores.NewEphemeralSQLiteConnection(t.Name()),
		DBLoggerConfig: stores.LoggerConfig{
			IgnoreRecordNotFoundError: true,
			LogLevel:                  logger.Warn,
			SlowThreshold:             100 * time.Millisecond,
		},
	}, t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	server := &http.Server{Handler: jape.BasicAuth("test")(h)}
	go func() {
		if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Error(err)
		}
	}()
	defer func() {
		if err := server.Shutdown(ctx); err != nil {
			t.Error(err)
		} else if err := shutdownFn(ctx); err != nil {
			t.Error(err)
		}
	}()
	bc := client.New("http://"+l.Addr().String(), "test")

	// create the autopilot
	mk, err := utils.MasterKeyFromSeed("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	var destination types.Address
	frand.Read(destination[:])
	ap, err := NewAutopilot(config.Autopilot{
		Heartbeat:   time.Hour,
		Destination: destination.String(),
	}, mk, bc, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	stop := cm.OnAdvance(func(uint64) { ap.Trigger() })
	defer stop()
	go ap.Run()
	defer ap.Shutdown(ctx)

	// create an account with the autopilot's key and pay into it
	creator := mk.DeriveSweepKey(0).PublicKey()
	info, err := bc.CreateAccount(ctx, creator, types.Address{1}, 10)
	if err != nil {
		t.Fatal(err)
	}
	var asset types.Address
	frand.Read(asset[:])
	if err := bc.Credit(ctx, info.ID.Address(), asset, big.NewInt(100)); err != nil {
		t.Fatal(err)
	} else if err := bc.RecordPayment(ctx, info.ID, asset, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	// advancing the height triggers the autopilot
	if err := bc.AdvanceHeight(ctx, 1); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		status, err := bc.AccountStatus(ctx, info.ID)
		if err != nil {
			t.Fatal(err)
		} else if status == api.StatusSwept {
			break
		} else if time.Now().After(deadline) {
			t.Fatal("account wasn't swept, status", status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// the funds arrived at the destination
	if balance, err := bc.Balance(ctx, destination, asset); err != nil {
		t.Fatal(err)
	} else if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatal("unexpected balance", balance)
	} else if balance, err := bc.Balance(ctx, info.ID.Address(), asset); err != nil {
		t.Fatal(err)
	} else if balance.Sign() != 0 {
		t.Fatal("account still holds funds", balance)
	}

	if state := ap.State(); state.Swept != 1 {
		t.Fatalf("unexpected autopilot state %+v", state)
	}
}

func TestNewAutopilotConfig(t *testing.T) {
	mk, err := utils.MasterKeyFromSeed("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewAutopilot(config.Autopilot{Heartbeat: time.Minute}, mk, nil, zap.NewNop()); err == nil {
		t.Fatal("expected error for missing destination")
	} else if _, err := NewAutopilot(config.Autopilot{Heartbeat: time.Minute, Destination: "foo"}, mk, nil, zap.NewNop()); err == nil {
		t.Fatal("expected error for invalid destination")
	}
}
