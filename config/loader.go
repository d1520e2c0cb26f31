package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/flowcanvas/errors"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "FLOWCANVAS"

const (
	maxConfigSize = 1 << 20
	maxEnvLen     = 4096
)

// Loader builds a Config from Default, file layers and the environment
type Loader struct {
	layers []string
	getenv func(string) string
}

// NewLoader creates a loader reading the process environment
func NewLoader() *Loader {
	return &Loader{getenv: os.Getenv}
}

// AddLayer appends a file; later layers override earlier ones key by key
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// LoadFile loads Default, path and the environment
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load applies every layer and the environment, then validates
func (l *Loader) Load() (*Config, error) {
	cfg := Default()
	for _, path := range l.layers {
		data, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := decodeInto(cfg, data); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "decode "+path)
		}
	}
	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data over Default and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, data); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Parse", "decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeInto decodes YAML (JSON is accepted as YAML) over dst. Keys absent
// from data keep their current values; unknown keys are errors.
func decodeInto(dst any, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil && !stderrors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
	}
	return nil
}

func readConfigFile(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil, errors.WrapInvalid(errors.Newf(errors.ErrInvalidConfig, "%s: expected .yaml, .yml or .json", path),
			"config", "Load", "check path")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "stat "+path)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.WrapInvalid(errors.Newf(errors.ErrInvalidConfig, "%s is not a regular file", path),
			"config", "Load", "check path")
	}
	if info.Size() > maxConfigSize {
		return nil, errors.WrapInvalid(errors.Newf(errors.ErrInvalidConfig, "%s is %d bytes, limit %d", path, info.Size(), maxConfigSize),
			"config", "Load", "check size")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "config", "Load", "read "+path)
	}
	return data, nil
}

// applyEnv applies FLOWCANVAS_* overrides
func (l *Loader) applyEnv(cfg *Config) error {
	var errs []error
	env := func(name string) string {
		key := EnvPrefix + "_" + name
		v := l.getenv(key)
		if len(v) > maxEnvLen || strings.ContainsRune(v, 0) {
			errs = append(errs, fmt.Errorf("%s: value rejected", key))
			return ""
		}
		return strings.TrimSpace(v)
	}
	port := func(name string, dst *int) {
		if v := env(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	if v := env("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := env("NATS_URLS"); v != "" {
		cfg.NATS.URLs = strings.Split(v, ",")
	}
	if v := env("NATS_USERNAME"); v != "" {
		cfg.NATS.Username = v
	}
	if v := env("NATS_PASSWORD"); v != "" {
		cfg.NATS.Password = v
	}
	if v := env("NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}
	if v := env("STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := env("POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := env("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	port("GATEWAY_PORT", &cfg.Gateway.Port)
	port("METRICS_PORT", &cfg.Metrics.Port)

	if len(errs) > 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, stderrors.Join(errs...)),
			"config", "Load", "apply environment")
	}
	return nil
}

// PathFromEnv returns FLOWCANVAS_CONFIG
func PathFromEnv() string {
	return os.Getenv(EnvPrefix + "_CONFIG")
}
