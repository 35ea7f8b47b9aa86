package config

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/vango-dev/observe/internal/errors"
	"github.com/vango-dev/observe/pkg/observe"
	"github.com/vango-dev/observe/pkg/server"
	"github.com/vango-dev/observe/pkg/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// ConfigFileName is the conventional name of the configuration file.
	ConfigFileName = "observe.json"

	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"

	// DefaultNamespace is the default Prometheus namespace.
	DefaultNamespace = "observe"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "OBSERVE_"
)

// Storage drivers.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
	DriverS3     = "s3"
)

// Config represents the complete observe.json configuration.
type Config struct {
	// Server contains the HTTP/WebSocket server settings.
	Server ServerConfig `json:"server"`

	// Storage selects where session snapshots are kept.
	Storage StorageConfig `json:"storage"`

	// Metrics contains Prometheus settings.
	Metrics MetricsConfig `json:"metrics"`

	// Log contains logging settings.
	Log LogConfig `json:"log"`

	// path stores the file the config was loaded from.
	path string
}

// ServerConfig contains server settings.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty"`

	// MaxSessions caps concurrent sessions. Zero means no limit.
	MaxSessions int `json:"max_sessions"`

	// ReadTimeout is the idle limit for a client connection.
	ReadTimeout Duration `json:"read_timeout,omitempty"`

	// WriteTimeout bounds each frame write.
	WriteTimeout Duration `json:"write_timeout,omitempty"`

	// HeartbeatInterval is the time between pings.
	HeartbeatInterval Duration `json:"heartbeat_interval,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty"`

	// AllowAllOrigins disables the same-origin check. Development only.
	AllowAllOrigins bool `json:"allow_all_origins,omitempty"`
}

// StorageConfig contains snapshot storage settings.
type StorageConfig struct {
	// Driver is one of none, memory, sqlite, pgx or s3.
	Driver string `json:"driver,omitempty"`

	// DSN is the data source name for sqlite and pgx.
	DSN string `json:"dsn,omitempty"`

	// Table is the SQL table name.
	Table string `json:"table,omitempty"`

	// S3 contains bucket settings for the s3 driver.
	S3 S3Config `json:"s3,omitempty"`
}

// S3Config mirrors storage.S3Config. Credentials are read from the
// environment only.
type S3Config struct {
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	PathStyle bool   `json:"path_style,omitempty"`

	AccessKeyID     string `json:"-"`
	SecretAccessKey string `json:"-"`
	SessionToken    string `json:"-"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Namespace string `json:"namespace,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `json:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty"`
}

// Duration is a time.Duration written as a Go duration string in JSON.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              DefaultAddr,
			MaxSessions:       10000,
			ReadTimeout:       Duration{60 * time.Second},
			WriteTimeout:      Duration{10 * time.Second},
			HeartbeatInterval: Duration{30 * time.Second},
			ShutdownTimeout:   Duration{30 * time.Second},
		},
		Storage: StorageConfig{
			Driver: DriverNone,
			Table:  "observe_values",
		},
		Metrics: MetricsConfig{
			Namespace: DefaultNamespace,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path, applies OBSERVE_* environment
// overrides and validates the result. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := New()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.New("E100").WithDetail("No config file at " + path)
			}
			return nil, errors.New("E101").Wrap(err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.New("E101").
				WithDetail("Failed to parse " + path + ": " + err.Error()).
				WithSuggestion("Check that the file is valid JSON")
		}
		cfg.path = path
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// ApplyEnv overrides fields from OBSERVE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("ADDR", &c.Server.Addr)
	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("STORAGE_DSN", &c.Storage.DSN)
	str("STORAGE_TABLE", &c.Storage.Table)
	str("S3_BUCKET", &c.Storage.S3.Bucket)
	str("S3_PREFIX", &c.Storage.S3.Prefix)
	str("S3_REGION", &c.Storage.S3.Region)
	str("S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("S3_ACCESS_KEY_ID", &c.Storage.S3.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &c.Storage.S3.SecretAccessKey)
	str("S3_SESSION_TOKEN", &c.Storage.S3.SessionToken)
	str("METRICS_NAMESPACE", &c.Metrics.Namespace)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup(EnvPrefix + "MAX_SESSIONS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("E106").WithField(EnvPrefix + "MAX_SESSIONS").Wrap(err)
		}
		c.Server.MaxSessions = n
	}
	if v, ok := lookup(EnvPrefix + "S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New("E106").WithField(EnvPrefix + "S3_PATH_STYLE").Wrap(err)
		}
		c.Storage.S3.PathStyle = b
	}
	if v, ok := lookup(EnvPrefix + "SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.New("E106").WithField(EnvPrefix + "SHUTDOWN_TIMEOUT").Wrap(err)
		}
		c.Server.ShutdownTimeout = Duration{d}
	}
	return nil
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := New()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}
	if c.Storage.Table == "" {
		c.Storage.Table = d.Storage.Table
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = d.Metrics.Namespace
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	c.Log.Level = strings.ToLower(c.Log.Level)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return errors.New("E102").WithField("server.addr").Wrap(err)
	}
	if c.Server.MaxSessions < 0 {
		return errors.New("E104").WithField("server.max_sessions")
	}
	for field, d := range map[string]Duration{
		"server.read_timeout":       c.Server.ReadTimeout,
		"server.write_timeout":      c.Server.WriteTimeout,
		"server.heartbeat_interval": c.Server.HeartbeatInterval,
		"server.shutdown_timeout":   c.Server.ShutdownTimeout,
	} {
		if d.Duration < 0 {
			return errors.New("E103").WithField(field)
		}
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("E105").WithField("log.format").WithDetail("The log format must be text or json.")
	}

	switch c.Storage.Driver {
	case DriverNone, DriverMemory:
	case DriverSQLite, DriverPgx:
		if c.Storage.DSN == "" {
			return errors.New("E121").WithField("storage.dsn")
		}
	case DriverS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("E122").WithField("storage.s3.bucket")
		}
	default:
		return errors.New("E120").WithField("storage.driver").WithDetail("Got " + strconv.Quote(c.Storage.Driver) + ".")
	}
	return nil
}


// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, errors.New("E105").WithField("log.level").Wrap(err)
	}
	return level, nil
}

// NewLogger builds the process logger writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ServerConfig converts the server section into a server.Config. The store
// is attached by the caller.
func (c *Config) ServerConfig() *server.Config {
	sc := server.DefaultConfig()
	sc.Address = c.Server.Addr
	sc.MaxSessions = c.Server.MaxSessions
	sc.ReadTimeout = c.Server.ReadTimeout.Duration
	sc.WriteTimeout = c.Server.WriteTimeout.Duration
	sc.HeartbeatInterval = c.Server.HeartbeatInterval.Duration
	sc.ShutdownTimeout = c.Server.ShutdownTimeout.Duration
	if c.Server.AllowAllOrigins {
		sc.CheckOrigin = server.AllowAllOrigins
	}
	return sc
}

// MetricsOptions returns the observe.Metrics options for the metrics section.
func (c *Config) MetricsOptions() []observe.MetricsOption {
	return []observe.MetricsOption{observe.WithNamespace(c.Metrics.Namespace)}
}

// OpenStore opens the configured snapshot store. It returns nil for the
// none driver.
func (c *Config) OpenStore(ctx context.Context) (storage.Store, error) {
	switch c.Storage.Driver {
	case DriverNone:
		return nil, nil
	case DriverMemory:
		return storage.NewMemoryStore(), nil
	case DriverSQLite, DriverPgx:
		store, err := storage.OpenSQLStore(ctx, c.Storage.Driver, c.Storage.DSN,
			storage.WithSQLTableName(c.Storage.Table))
		if err != nil {
			return nil, errors.New("E123").WithField("storage.dsn").Wrap(err)
		}
		return store, nil
	case DriverS3:
		s3 := c.Storage.S3
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          s3.Bucket,
			Prefix:          s3.Prefix,
			Region:          s3.Region,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			SessionToken:    s3.SessionToken,
			PathStyle:       s3.PathStyle,
		})
		if err != nil {
			return nil, errors.New("E123").WithField("storage.s3").Wrap(err)
		}
		return store, nil
	default:
		return nil, errors.New("E120").WithField("storage.driver")
	}
}
