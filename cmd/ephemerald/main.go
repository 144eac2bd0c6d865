package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.sia.tech/ephemerald/api"
	"go.sia.tech/ephemerald/build"
	"go.sia.tech/ephemerald/bus/client"
	"go.sia.tech/ephemerald/config"
	"go.sia.tech/ephemerald/internal/node"
	"go.sia.tech/ephemerald/internal/tracing"
	"go.sia.tech/ephemerald/internal/utils"
	"go.sia.tech/jape"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	usageHeader = `
ephemerald manages single-use ephemeral accounts: accounts receive payments of
up to ten assets, are swept by their creator or expire at a ledger height.

Usage:
`
	usageFooter = `
There are 3 commands:
  - version: prints the network as well as build information
  - config: prints the effective configuration without secrets
  - seed: prints the sweep creator of the configured seed and key index

See the documentation (https://docs.sia.tech/) for more information and examples
on how to configure and use ephemerald.
`
)

type shutdownFn struct {
	name string
	fn   func(context.Context) error
}

func main() {
	log.SetFlags(0)

	// load the config
	cfg, err := loadConfig()
	checkFatalError("failed to load config", err)

	// handle commands
	switch flag.Arg(0) {
	case "version":
		cmdVersion()
		return
	case "config":
		cmdConfig(cfg)
		return
	case "seed":
		cmdSeed(cfg)
		return
	case "":
	default:
		checkFatalError("unknown command", fmt.Errorf("%q", flag.Arg(0)))
	}

	// sanitize the config
	checkFatalError("failed to sanitize config", sanitizeConfig(&cfg))

	// create the directory
	checkFatalError("failed to create directory", os.MkdirAll(cfg.Directory, 0700))

	// create the logger
	logger, closeFn, err := NewLogger(cfg.Directory, cfg.Log)
	checkFatalError("failed to create logger", err)
	shutdownFns := []shutdownFn{{name: "Logger", fn: closeFn}}

	logger.Info("ephemerald", zap.String("version", build.Version()), zap.String("network", build.NetworkName()), zap.String("commit", build.Commit()), zap.Time("buildDate", build.BuildTime()))

	// init tracing
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(cfg.Tracing.InstanceID, build.Version())
		checkFatalError("failed to init tracing", err)
		shutdownFns = append(shutdownFns, shutdownFn{name: "Tracing", fn: shutdown})
	}

	// create the listener first, so that we know the actual API address if
	// the user specifies port :0
	l, err := utils.ListenTCP(cfg.HTTP.Address, logger)
	checkFatalError("failed to create listener", err)
	apiAddr := "http://" + l.Addr().String()

	auth := jape.BasicAuth(cfg.HTTP.Password)
	mux := api.TreeMux{Sub: make(map[string]api.TreeMux)}
	srv := &http.Server{Handler: mux}

	// the server is shut down before any of the components behind it
	var componentFns []shutdownFn

	// create the bus
	busAddr, busPassword := cfg.Bus.RemoteAddr, cfg.Bus.RemotePassword
	var onAdvance func(func(uint64)) func()
	if busAddr == "" {
		dbLogCfg, err := dbLoggerConfig(cfg.Log)
		checkFatalError("failed to configure database logger", err)

		b, cm, shutdown, err := node.NewBus(node.BusConfig{
			Bus:            cfg.Bus,
			DBLoggerConfig: dbLogCfg,
			DBDialector:    dbDialector(cfg.Database),
		}, cfg.Directory, logger)
		checkFatalError("failed to create bus", err)
		componentFns = append(componentFns, shutdownFn{name: "Bus", fn: shutdown})
		onAdvance = cm.OnAdvance

		mux.Sub["/api/bus"] = api.TreeMux{Handler: auth(b)}
		busAddr = apiAddr + "/api/bus"
		busPassword = cfg.HTTP.Password
	} else {
		logger.Info("connecting to remote bus at " + busAddr)
	}
	bc := client.New(busAddr, busPassword)

	// create the autopilot
	autopilotErr := make(chan error, 1)
	if cfg.Autopilot.Enabled {
		mk, err := utils.MasterKeyFromSeed(cfg.Seed)
		checkFatalError("failed to derive master key", err)

		ap, err := node.NewAutopilot(cfg.Autopilot, mk, bc, logger)
		checkFatalError("failed to create autopilot", err)

		// a local bus triggers the autopilot on every new height
		if onAdvance != nil {
			stop := onAdvance(func(uint64) { ap.Trigger() })
			componentFns = append(componentFns, shutdownFn{
				name: "Autopilot Trigger",
				fn:   func(context.Context) error { stop(); return nil },
			})
		}
		componentFns = append(componentFns, shutdownFn{name: "Autopilot", fn: ap.Shutdown})

		mux.Sub["/api/autopilot"] = api.TreeMux{Handler: auth(ap.Handler())}
		go func() { autopilotErr <- ap.Run() }()
	}

	go srv.Serve(l)
	logger.Info("api: Listening on " + l.Addr().String())

	// shut down in reverse order of creation
	shutdownFns = append(shutdownFns, componentFns...)
	shutdownFns = append(shutdownFns, shutdownFn{name: "HTTP Server", fn: srv.Shutdown})

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-signalCh:
		logger.Info("Shutting down...")
	case err := <-autopilotErr:
		logger.Error("Fatal autopilot error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(shutdownFns) - 1; i >= 0; i-- {
		start := time.Now()
		if err := shutdownFns[i].fn(ctx); err != nil {
			logger.Error(fmt.Sprintf("failed to shut down %v", shutdownFns[i].name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		logger.Info(fmt.Sprintf("%v shut down in %v", shutdownFns[i].name, time.Since(start)))
	}

	if err := errors.Join(errs...); err != nil {
		log.Println("failed to shut down cleanly:", err)
		os.Exit(1)
	}
	log.Println("Shutdown complete")
}

func cmdVersion() {
	fmt.Println("ephemerald", build.Version())
	fmt.Println("Network", build.NetworkName())
	fmt.Println("Commit:", build.Commit())
	fmt.Println("Build Date:", build.BuildTime())
}

func cmdConfig(cfg config.Config) {
	cfg.Seed = ""
	cfg.HTTP.Password = ""
	cfg.Bus.RemotePassword = ""
	cfg.Database.MySQL.Password = ""
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	checkFatalError("failed to encode config", enc.Encode(cfg))
	checkFatalError("failed to encode config", enc.Close())
}

func cmdSeed(cfg config.Config) {
	if cfg.Seed == "" {
		if disableStdin {
			checkFatalError("failed to read seed", errors.New("seed must be set via environment variable or config file when --env flag is set"))
		}
		cfg.Seed = readPasswordInput("Enter seed")
	}
	mk, err := utils.MasterKeyFromSeed(cfg.Seed)
	checkFatalError("failed to derive master key", err)
	key := mk.DeriveSweepKey(cfg.Autopilot.KeyIndex)
	fmt.Println(wrapANSI("\033[34;1m", "Key Index:", "\033[0m"), cfg.Autopilot.KeyIndex)
	fmt.Println(wrapANSI("\033[34;1m", "Creator:", "\033[0m"), key.PublicKey())
}
