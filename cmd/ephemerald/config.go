package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"go.sia.tech/ephemerald/build"
	"go.sia.tech/ephemerald/config"
	"go.sia.tech/ephemerald/internal/utils"
	"go.sia.tech/ephemerald/stores"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	disableStdin bool
	enableANSI   = runtime.GOOS != "windows"
)

func defaultConfig() config.Config {
	return config.Config{
		Directory: ".",
		Seed:      os.Getenv("EPHEMERALD_SEED"),
		HTTP: config.HTTP{
			Address:  build.DefaultAPIAddress,
			Password: os.Getenv("EPHEMERALD_API_PASSWORD"),
		},
		ShutdownTimeout: 5 * time.Minute,
		Database: config.Database{
			MySQL: config.MySQL{
				User:     "ephemerald",
				Database: "ephemerald",
			},
		},
		Log: config.Log{
			Level: "",
			File: config.LogFile{
				Enabled: true,
				Format:  "json",
				Path:    os.Getenv("EPHEMERALD_LOG_FILE"),
			},
			StdOut: config.StdOut{
				Enabled:    true,
				Format:     "human",
				EnableANSI: runtime.GOOS != "windows",
			},
			Database: config.DatabaseLog{
				Enabled:                   true,
				IgnoreRecordNotFoundError: true,
				SlowThreshold:             100 * time.Millisecond,
			},
		},
		Bus: config.Bus{
			BlockTime: build.DefaultBlockTime,
		},
		Autopilot: config.Autopilot{
			Enabled:   true,
			Heartbeat: 10 * time.Minute,
		},
	}
}

// loadConfig creates a default config and overrides it with the contents of
// the YAML file (specified by EPHEMERALD_CONFIG_FILE), CLI flags, and
// environment variables, in that order.
func loadConfig() (cfg config.Config, err error) {
	cfg = defaultConfig()
	if err = parseYamlConfig(&cfg); err != nil {
		return
	}
	parseCLIFlags(&cfg)
	parseEnvironmentVariables(&cfg)
	return
}

func sanitizeConfig(cfg *config.Config) error {
	if cfg.Bus.RemoteAddr != "" && !cfg.Autopilot.Enabled {
		return errors.New("remote bus and no autopilot, nothing to do")
	}

	// check that the API password is set
	if cfg.HTTP.Password == "" {
		if disableStdin {
			return errors.New("API password must be set via environment variable or config file when --env flag is set")
		}
		cfg.HTTP.Password = readPasswordInput("Enter API password")
	}

	// only the autopilot signs sweeps and requires a seed
	if cfg.Autopilot.Enabled {
		if cfg.Seed == "" {
			if disableStdin {
				return errors.New("seed must be set via environment variable or config file when --env flag is set")
			}
			cfg.Seed = readPasswordInput("Enter seed")
		}
		if _, err := utils.MasterKeyFromSeed(cfg.Seed); err != nil {
			return fmt.Errorf("invalid seed: %w", err)
		} else if cfg.Autopilot.Destination == "" {
			return errors.New("autopilot is enabled but no sweep destination is set")
		}
	}

	// default log levels
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Database.Level == "" {
		cfg.Log.Database.Level = cfg.Log.Level
	}
	return nil
}

func parseYamlConfig(cfg *config.Config) error {
	configPath := "ephemerald.yml"
	if str := os.Getenv("EPHEMERALD_CONFIG_FILE"); str != "" {
		configPath = str
	}

	// If the config file doesn't exist, don't try to load it.
	_, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}

	f, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	return nil
}

func parseCLIFlags(cfg *config.Config) {
	// node
	flag.StringVar(&cfg.HTTP.Address, "http", cfg.HTTP.Address, "Address for serving the API")
	flag.StringVar(&cfg.Directory, "dir", cfg.Directory, "Directory for storing node state")
	flag.BoolVar(&disableStdin, "env", false, "disable stdin prompts for environment variables (default false)")
	flag.DurationVar(&cfg.ShutdownTimeout, "node.shutdownTimeout", cfg.ShutdownTimeout, "Timeout for node shutdown")

	// logger
	flag.StringVar(&cfg.Log.Level, "log.level", cfg.Log.Level, "Global logger level (debug|info|warn|error). Defaults to 'info' (overrides with EPHEMERALD_LOG_LEVEL)")
	flag.BoolVar(&cfg.Log.File.Enabled, "log.file.enabled", cfg.Log.File.Enabled, "Enables logging to disk. Defaults to 'true'. (overrides with EPHEMERALD_LOG_FILE_ENABLED)")
	flag.StringVar(&cfg.Log.File.Format, "log.file.format", cfg.Log.File.Format, "Format of log file (json|human). Defaults to 'json' (overrides with EPHEMERALD_LOG_FILE_FORMAT)")
	flag.StringVar(&cfg.Log.File.Path, "log.file.path", cfg.Log.File.Path, "Path of log file. Defaults to 'ephemerald.log' within the ephemerald directory. (overrides with EPHEMERALD_LOG_FILE_PATH)")
	flag.BoolVar(&cfg.Log.StdOut.Enabled, "log.stdout.enabled", cfg.Log.StdOut.Enabled, "Enables logging to stdout. Defaults to 'true'. (overrides with EPHEMERALD_LOG_STDOUT_ENABLED)")
	flag.StringVar(&cfg.Log.StdOut.Format, "log.stdout.format", cfg.Log.StdOut.Format, "Format of log output (json|human). Defaults to 'human' (overrides with EPHEMERALD_LOG_STDOUT_FORMAT)")
	flag.BoolVar(&cfg.Log.StdOut.EnableANSI, "log.stdout.enableANSI", cfg.Log.StdOut.EnableANSI, "Enables ANSI color codes in log output. Defaults to 'true' on non-Windows systems. (overrides with EPHEMERALD_LOG_STDOUT_ENABLE_ANSI)")
	flag.BoolVar(&cfg.Log.Database.Enabled, "log.database.enabled", cfg.Log.Database.Enabled, "Enable logging database queries. Defaults to 'true' (overrides with EPHEMERALD_LOG_DATABASE_ENABLED)")
	flag.StringVar(&cfg.Log.Database.Level, "log.database.level", cfg.Log.Database.Level, "Logger level for database queries (info|warn|error). Defaults to the global level (overrides with EPHEMERALD_LOG_DATABASE_LEVEL)")
	flag.BoolVar(&cfg.Log.Database.IgnoreRecordNotFoundError, "log.database.ignoreRecordNotFoundError", cfg.Log.Database.IgnoreRecordNotFoundError, "Enable ignoring 'not found' errors resulting from database queries. Defaults to 'true' (overrides with EPHEMERALD_LOG_DATABASE_IGNORE_RECORD_NOT_FOUND_ERROR)")
	flag.DurationVar(&cfg.Log.Database.SlowThreshold, "log.database.slowThreshold", cfg.Log.Database.SlowThreshold, "Threshold for slow queries in logger. Defaults to 100ms (overrides with EPHEMERALD_LOG_DATABASE_SLOW_THRESHOLD)")

	// db
	flag.StringVar(&cfg.Database.MySQL.URI, "db.uri", cfg.Database.MySQL.URI, "Database URI for the bus (overrides with EPHEMERALD_DB_URI)")
	flag.StringVar(&cfg.Database.MySQL.User, "db.user", cfg.Database.MySQL.User, "Database username for the bus (overrides with EPHEMERALD_DB_USER)")
	flag.StringVar(&cfg.Database.MySQL.Database, "db.name", cfg.Database.MySQL.Database, "Database name for the bus (overrides with EPHEMERALD_DB_NAME)")

	// tracing
	flag.BoolVar(&cfg.Tracing.Enabled, "tracing.enabled", cfg.Tracing.Enabled, "Enables OpenTelemetry tracing (overrides with EPHEMERALD_TRACING_ENABLED)")
	flag.StringVar(&cfg.Tracing.InstanceID, "tracing.instanceID", cfg.Tracing.InstanceID, "Service instance ID reported with traces (overrides with EPHEMERALD_TRACING_SERVICE_INSTANCE_ID)")

	// bus
	flag.StringVar(&cfg.Bus.RemoteAddr, "bus.remoteAddr", cfg.Bus.RemoteAddr, "URL of a remote bus (overrides with EPHEMERALD_BUS_REMOTE_ADDR)")
	flag.DurationVar(&cfg.Bus.BlockTime, "bus.blockTime", cfg.Bus.BlockTime, "Interval at which the bus advances the ledger height, 0 leaves it to clients (overrides with EPHEMERALD_BUS_BLOCK_TIME)")

	// autopilot
	flag.BoolVar(&cfg.Autopilot.Enabled, "autopilot.enabled", cfg.Autopilot.Enabled, "Enables/disables autopilot (overrides with EPHEMERALD_AUTOPILOT_ENABLED)")
	flag.DurationVar(&cfg.Autopilot.Heartbeat, "autopilot.heartbeat", cfg.Autopilot.Heartbeat, "Interval for autopilot loop execution")
	flag.StringVar(&cfg.Autopilot.Destination, "autopilot.destination", cfg.Autopilot.Destination, "Address swept funds are moved to (overrides with EPHEMERALD_AUTOPILOT_DESTINATION)")
	flag.Uint64Var(&cfg.Autopilot.KeyIndex, "autopilot.keyIndex", cfg.Autopilot.KeyIndex, "Index of the key derived from the seed that signs sweeps")

	flag.Usage = func() {
		log.Print(usageHeader)
		flag.PrintDefaults()
		log.Print(usageFooter)
	}

	flag.Parse()
}

func parseEnvironmentVariables(cfg *config.Config) {
	// define helper function to parse environment variables
	parseEnvVar := func(s string, v interface{}) {
		if env, ok := os.LookupEnv(s); ok {
			_, err := fmt.Sscan(env, v)
			checkFatalError(fmt.Sprintf("failed to parse %s", s), err)
			fmt.Printf("Using %s environment variable\n", s)
		}
	}

	parseEnvVar("EPHEMERALD_BUS_REMOTE_ADDR", &cfg.Bus.RemoteAddr)
	parseEnvVar("EPHEMERALD_BUS_API_PASSWORD", &cfg.Bus.RemotePassword)
	parseEnvVar("EPHEMERALD_BUS_BLOCK_TIME", &cfg.Bus.BlockTime)

	parseEnvVar("EPHEMERALD_DB_URI", &cfg.Database.MySQL.URI)
	parseEnvVar("EPHEMERALD_DB_USER", &cfg.Database.MySQL.User)
	parseEnvVar("EPHEMERALD_DB_PASSWORD", &cfg.Database.MySQL.Password)
	parseEnvVar("EPHEMERALD_DB_NAME", &cfg.Database.MySQL.Database)

	parseEnvVar("EPHEMERALD_TRACING_ENABLED", &cfg.Tracing.Enabled)
	parseEnvVar("EPHEMERALD_TRACING_SERVICE_INSTANCE_ID", &cfg.Tracing.InstanceID)

	parseEnvVar("EPHEMERALD_AUTOPILOT_ENABLED", &cfg.Autopilot.Enabled)
	parseEnvVar("EPHEMERALD_AUTOPILOT_DESTINATION", &cfg.Autopilot.Destination)

	parseEnvVar("EPHEMERALD_LOG_LEVEL", &cfg.Log.Level)
	parseEnvVar("EPHEMERALD_LOG_FILE_ENABLED", &cfg.Log.File.Enabled)
	parseEnvVar("EPHEMERALD_LOG_FILE_FORMAT", &cfg.Log.File.Format)
	parseEnvVar("EPHEMERALD_LOG_FILE_PATH", &cfg.Log.File.Path)
	parseEnvVar("EPHEMERALD_LOG_STDOUT_ENABLED", &cfg.Log.StdOut.Enabled)
	parseEnvVar("EPHEMERALD_LOG_STDOUT_FORMAT", &cfg.Log.StdOut.Format)
	parseEnvVar("EPHEMERALD_LOG_STDOUT_ENABLE_ANSI", &cfg.Log.StdOut.EnableANSI)
	parseEnvVar("EPHEMERALD_LOG_DATABASE_ENABLED", &cfg.Log.Database.Enabled)
	parseEnvVar("EPHEMERALD_LOG_DATABASE_LEVEL", &cfg.Log.Database.Level)
	parseEnvVar("EPHEMERALD_LOG_DATABASE_IGNORE_RECORD_NOT_FOUND_ERROR", &cfg.Log.Database.IgnoreRecordNotFoundError)
	parseEnvVar("EPHEMERALD_LOG_DATABASE_SLOW_THRESHOLD", &cfg.Log.Database.SlowThreshold)
}

// dbDialector returns the MySQL dialector if a URI is configured. A nil
// dialector makes the bus fall back to SQLite.
func dbDialector(cfg config.Database) gorm.Dialector {
	if cfg.MySQL.URI == "" {
		return nil
	}
	return stores.NewMySQLConnection(cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.URI, cfg.MySQL.Database)
}

func dbLoggerConfig(cfg config.Log) (stores.LoggerConfig, error) {
	level := logger.Silent
	if cfg.Database.Enabled {
		switch cfg.Database.Level {
		case "debug", "info":
			level = logger.Info
		case "warn":
			level = logger.Warn
		case "error":
			level = logger.Error
		default:
			return stores.LoggerConfig{}, fmt.Errorf("invalid database log level '%s', options are: silent, error, warn, info", cfg.Database.Level)
		}
	}
	return stores.LoggerConfig{
		IgnoreRecordNotFoundError: cfg.Database.IgnoreRecordNotFoundError,
		LogLevel:                  level,
		SlowThreshold:             cfg.Database.SlowThreshold,
	}, nil
}

// readPasswordInput reads a password from stdin.
func readPasswordInput(context string) string {
	fmt.Printf("%s: ", context)
	input, err := term.ReadPassword(int(os.Stdin.Fd()))
	checkFatalError("Could not read input", err)
	fmt.Println("")
	return string(input)
}

// wrapANSI wraps the output in ANSI escape codes if enabled.
func wrapANSI(prefix, output, suffix string) string {
	if enableANSI {
		return prefix + output + suffix
	}
	return output
}

func checkFatalError(context string, err error) {
	if err != nil {
		log.Fatal(wrapANSI("\033[31m", fmt.Sprintf("%s: %v", context, err), "\033[0m"))
	}
}
