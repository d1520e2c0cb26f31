package config

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/flowcanvas/errors"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreKV       = "kv"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the complete host configuration
type Config struct {
	Canvas    CanvasConfig    `yaml:"canvas" json:"canvas"`
	Preview   PreviewConfig   `yaml:"preview" json:"preview"`
	Branch    BranchConfig    `yaml:"branch" json:"branch"`
	Validator ValidatorConfig `yaml:"validator" json:"validator"`
	Events    EventsConfig    `yaml:"events" json:"events"`
	NATS      NATSConfig      `yaml:"nats" json:"nats"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Gateway   GatewayConfig   `yaml:"gateway" json:"gateway"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// CanvasConfig controls the lifecycle controller
type CanvasConfig struct {
	InitTimeout     time.Duration `yaml:"init_timeout" json:"init_timeout"`
	AutoStartNode   bool          `yaml:"auto_start_node" json:"auto_start_node"`
	KeyboardEnabled bool          `yaml:"keyboard_enabled" json:"keyboard_enabled"`
	HistoryLimit    int           `yaml:"history_limit" json:"history_limit"`
	DiagnosticsSize int           `yaml:"diagnostics_size" json:"diagnostics_size"`
}

// PreviewConfig controls the preview-line manager
type PreviewConfig struct {
	MaxLines       int           `yaml:"max_lines" json:"max_lines"`
	SnapThreshold  float64       `yaml:"snap_threshold" json:"snap_threshold"`
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`
}

// BranchConfig controls the branch-flow manager
type BranchConfig struct {
	MaxBranches      int           `yaml:"max_branches" json:"max_branches"`
	EnableValidation bool          `yaml:"enable_validation" json:"enable_validation"`
	AutoSync         bool          `yaml:"auto_sync" json:"auto_sync"`
	SyncInterval     time.Duration `yaml:"sync_interval" json:"sync_interval"`
}

// ValidatorConfig controls the flow integrity validator
type ValidatorConfig struct {
	MaxNodes             int  `yaml:"max_nodes" json:"max_nodes"`
	ValidateStartNodes   bool `yaml:"validate_start_nodes" json:"validate_start_nodes"`
	ValidateEndNodes     bool `yaml:"validate_end_nodes" json:"validate_end_nodes"`
	ValidateConnectivity bool `yaml:"validate_connectivity" json:"validate_connectivity"`
}

// EventsConfig controls the event manager
type EventsConfig struct {
	MaxListeners int `yaml:"max_listeners" json:"max_listeners"`
	HistorySize  int `yaml:"history_size" json:"history_size"`
	QueueSize    int `yaml:"queue_size" json:"queue_size"`
}

// NATSConfig is the optional NATS connection. Empty URLs disables it.
type NATSConfig struct {
	URLs           []string      `yaml:"urls" json:"urls"`
	Username       string        `yaml:"username" json:"username,omitempty"`
	Password       string        `yaml:"password" json:"password,omitempty"`
	Token          string        `yaml:"token" json:"token,omitempty"`
	MaxReconnects  int           `yaml:"max_reconnects" json:"max_reconnects"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait" json:"reconnect_wait"`
	DocumentBucket string        `yaml:"document_bucket" json:"document_bucket"`
	ConfigBucket   string        `yaml:"config_bucket" json:"config_bucket"`
	EventSubject   string        `yaml:"event_subject" json:"event_subject"`
	BridgeEvents   bool          `yaml:"bridge_events" json:"bridge_events"`
}

// Enabled reports whether a NATS connection is configured
func (n NATSConfig) Enabled() bool {
	return len(n.URLs) > 0
}

// URL joins the server list the way nats.Connect accepts it
func (n NATSConfig) URL() string {
	return strings.Join(n.URLs, ",")
}

// StoreConfig selects the document store
type StoreConfig struct {
	Backend     string `yaml:"backend" json:"backend"`
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn,omitempty"`
	MaxConns    int32  `yaml:"max_conns" json:"max_conns"`
	RedisURL    string `yaml:"redis_url" json:"redis_url,omitempty"`
	RedisPrefix string `yaml:"redis_prefix" json:"redis_prefix,omitempty"`
	// CacheSize keeps that many recently read documents in memory in front
	// of the remote backends; 0 disables the cache
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// GatewayConfig controls the HTTP/WebSocket gateway. Port 0 disables it.
type GatewayConfig struct {
	Port           int           `yaml:"port" json:"port"`
	WSPath         string        `yaml:"ws_path" json:"ws_path"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ClientBuffer   int           `yaml:"client_buffer" json:"client_buffer"`
	AllowedOrigins []string      `yaml:"allowed_origins" json:"allowed_origins"`
}

// MetricsConfig controls the Prometheus endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int    `yaml:"port" json:"port"`
	Path string `yaml:"path" json:"path"`
}

// LogConfig controls the root logger
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// SlogLevel maps Level to a slog level; unknown values mean info
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Default returns the configuration used when no file overrides it
func Default() *Config {
	return &Config{
		Canvas: CanvasConfig{
			InitTimeout:     10 * time.Second,
			AutoStartNode:   true,
			KeyboardEnabled: true,
			HistoryLimit:    100,
			DiagnosticsSize: 200,
		},
		Preview: PreviewConfig{
			SnapThreshold: 30,
		},
		Branch: BranchConfig{
			MaxBranches:      1000,
			EnableValidation: true,
			SyncInterval:     10 * time.Second,
		},
		Validator: ValidatorConfig{
			MaxNodes:             100,
			ValidateStartNodes:   true,
			ValidateEndNodes:     true,
			ValidateConnectivity: true,
		},
		Events: EventsConfig{
			MaxListeners: 100,
			HistorySize:  1000,
			QueueSize:    256,
		},
		NATS: NATSConfig{
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			DocumentBucket: "flowcanvas_documents",
			ConfigBucket:   "flowcanvas_config",
			EventSubject:   "flowcanvas.events",
		},
		Store: StoreConfig{
			Backend:   StoreMemory,
			MaxConns:  10,
			CacheSize: 256,
		},
		Gateway: GatewayConfig{
			Port:         8080,
			WSPath:       "/ws",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			ClientBuffer: 64,
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Canvas.InitTimeout > 0, "canvas.init_timeout must be positive")
	check(c.Canvas.HistoryLimit >= 0, "canvas.history_limit cannot be negative")
	check(c.Canvas.DiagnosticsSize >= 0, "canvas.diagnostics_size cannot be negative")

	check(c.Preview.MaxLines >= 0, "preview.max_lines cannot be negative")
	check(c.Preview.SnapThreshold >= 0, "preview.snap_threshold cannot be negative")
	check(c.Preview.DefaultTimeout >= 0, "preview.default_timeout cannot be negative")

	check(c.Branch.MaxBranches > 0, "branch.max_branches must be positive")
	check(!c.Branch.AutoSync || c.Branch.SyncInterval > 0, "branch.sync_interval must be positive when auto_sync is on")

	check(c.Validator.MaxNodes > 0, "validator.max_nodes must be positive")

	check(c.Events.MaxListeners > 0, "events.max_listeners must be positive")
	check(c.Events.HistorySize >= 0, "events.history_size cannot be negative")
	check(c.Events.QueueSize > 0, "events.queue_size must be positive")

	switch c.Store.Backend {
	case StoreMemory:
	case StoreKV:
		check(c.NATS.Enabled(), "store.backend kv requires nats.urls")
	case StorePostgres:
		check(c.Store.PostgresDSN != "", "store.postgres_dsn is required for the postgres backend")
	case StoreRedis:
		check(c.Store.RedisURL != "", "store.redis_url is required for the redis backend")
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of memory, kv, postgres, redis", c.Store.Backend))
	}
	check(c.Store.MaxConns > 0, "store.max_conns must be positive")
	check(c.Store.CacheSize >= 0, "store.cache_size cannot be negative")

	check(!c.NATS.BridgeEvents || c.NATS.Enabled(), "nats.bridge_events requires nats.urls")
	for _, u := range c.NATS.URLs {
		check(strings.HasPrefix(u, "nats://") || strings.HasPrefix(u, "tls://"),
			"nats.urls entry %q must start with nats:// or tls://", u)
	}

	check(validPort(c.Gateway.Port), "gateway.port %d out of range", c.Gateway.Port)
	check(strings.HasPrefix(c.Gateway.WSPath, "/"), "gateway.ws_path must start with /")
	check(c.Gateway.ClientBuffer > 0, "gateway.client_buffer must be positive")
	check(validPort(c.Metrics.Port), "metrics.port %d out of range", c.Metrics.Port)
	check(c.Metrics.Port == 0 || c.Metrics.Port != c.Gateway.Port, "metrics.port and gateway.port must differ")
	check(strings.HasPrefix(c.Metrics.Path, "/"), "metrics.path must start with /")

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	check(c.Log.Format == "json" || c.Log.Format == "text", "log.format %q is not json or text", c.Log.Format)

	if len(errs) == 0 {
		return nil
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %w", errors.ErrInvalidConfig, stderrors.Join(errs...)),
		"config", "Validate", "check settings")
}

func validPort(p int) bool {
	return p >= 0 && p <= 65535
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	out := *c
	out.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	out.Gateway.AllowedOrigins = append([]string(nil), c.Gateway.AllowedOrigins...)
	return &out
}

// String renders the config as YAML with credentials masked
func (c *Config) String() string {
	redacted := c.Clone()
	for _, s := range []*string{&redacted.NATS.Password, &redacted.NATS.Token, &redacted.Store.PostgresDSN, &redacted.Store.RedisURL} {
		if *s != "" {
			*s = "***"
		}
	}
	data, err := yaml.Marshal(redacted)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

// SafeConfig is a Config shared between goroutines
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps cfg; nil means Default()
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg.Clone()}
}

// Get returns a deep copy of the current config
func (s *SafeConfig) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Clone()
}

// Update validates cfg and swaps it in
func (s *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.Newf(errors.ErrInvalidConfig, "config is nil"), "config", "Update", "validate")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg.Clone()
	return nil
}
