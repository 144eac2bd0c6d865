package config

import (
	"time"
)

type (
	// Config contains the configuration for an ephemerald node
	Config struct {
		Seed      string `yaml:"seed,omitempty"`
		Directory string `yaml:"directory,omitempty"`

		ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty"`

		Log Log `yaml:"log,omitempty"`

		HTTP    HTTP    `yaml:"http,omitempty"`
		Tracing Tracing `yaml:"tracing,omitempty"`

		Autopilot Autopilot `yaml:"autopilot,omitempty"`
		Bus       Bus       `yaml:"bus,omitempty"`

		Database Database `yaml:"database,omitempty"`
	}

	// HTTP contains the configuration for the HTTP server.
	HTTP struct {
		Address  string `yaml:"address,omitempty"`
		Password string `yaml:"password,omitempty"`
	}

	// Tracing configures the OpenTelemetry exporter. The endpoint is set
	// through the standard OTEL_EXPORTER_OTLP_* environment variables.
	Tracing struct {
		Enabled    bool   `yaml:"enabled,omitempty"`
		InstanceID string `yaml:"instanceID,omitempty"`
	}

	DatabaseLog struct {
		Enabled                   bool          `yaml:"enabled,omitempty"`
		Level                     string        `yaml:"level,omitempty"`
		IgnoreRecordNotFoundError bool          `yaml:"ignoreRecordNotFoundError,omitempty"`
		SlowThreshold             time.Duration `yaml:"slowThreshold,omitempty"`
	}

	Database struct {
		// optional fields depending on backend
		MySQL MySQL `yaml:"mysql,omitempty"`
	}

	// Bus contains the configuration for a bus.
	Bus struct {
		RemoteAddr     string `yaml:"remoteAddr,omitempty"`
		RemotePassword string `yaml:"remotePassword,omitempty"`

		// BlockTime is the interval at which the bus advances the ledger
		// height on its own. A zero value leaves it to clients to report the
		// height through the API.
		BlockTime time.Duration `yaml:"blockTime,omitempty"`
	}

	// LogFile configures the file output of the logger.
	LogFile struct {
		Enabled bool   `yaml:"enabled,omitempty"`
		Level   string `yaml:"level,omitempty"` // override the file log level
		Format  string `yaml:"format,omitempty"`
		// Path is the path of the log file.
		Path string `yaml:"path,omitempty"`
	}

	// StdOut configures the standard output of the logger.
	StdOut struct {
		Level      string `yaml:"level,omitempty"` // override the stdout log level
		Enabled    bool   `yaml:"enabled,omitempty"`
		Format     string `yaml:"format,omitempty"`
		EnableANSI bool   `yaml:"enableANSI,omitempty"` //nolint:tagliatelle
	}

	Log struct {
		Level    string      `yaml:"level,omitempty"` // global log level
		StdOut   StdOut      `yaml:"stdout,omitempty"`
		File     LogFile     `yaml:"file,omitempty"`
		Database DatabaseLog `yaml:"database,omitempty"`
	}

	// MySQL contains the configuration for a MySQL database.
	MySQL struct {
		URI      string `yaml:"uri,omitempty"`
		User     string `yaml:"user,omitempty"`
		Password string `yaml:"password,omitempty"`
		Database string `yaml:"database,omitempty"`
	}

	// Autopilot contains the configuration for an autopilot.
	Autopilot struct {
		Enabled   bool          `yaml:"enabled,omitempty"`
		Heartbeat time.Duration `yaml:"heartbeat,omitempty"`

		// Destination is the address swept funds are moved to.
		Destination string `yaml:"destination,omitempty"`

		// KeyIndex selects the key derived from the seed that creates
		// accounts and signs their sweeps.
		KeyIndex uint64 `yaml:"keyIndex,omitempty"`
	}
)

