package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// parseFlags parses args with FLOWCANVAS_* environment fallbacks. Empty
// log settings leave the configuration file in charge.
func parseFlags(args []string, getenv func(string) string, output io.Writer) (*CLIConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv(getenv, "FLOWCANVAS_CONFIG", ""),
		"Path to configuration file, YAML or JSON (env: FLOWCANVAS_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv(getenv, "FLOWCANVAS_CONFIG", ""),
		"Path to configuration file, YAML or JSON (env: FLOWCANVAS_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level override: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format override: json, text")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration(getenv, "FLOWCANVAS_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: FLOWCANVAS_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", getEnvBool(getenv, "FLOWCANVAS_VALIDATE", false),
		"Validate configuration and exit (env: FLOWCANVAS_VALIDATE)")

	fs.Usage = func() { printDetailedHelp(output) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if cfg.ShutdownTimeout <= 0 {
		return nil, fmt.Errorf("shutdown-timeout must be positive, got %s", cfg.ShutdownTimeout)
	}
	return cfg, nil
}

func printDetailedHelp(w io.Writer) {
	fmt.Fprintf(w, `%s - marketing flow canvas host

Usage:
  %s [flags]

Flags:
  -c, --config <path>        Configuration file (env: FLOWCANVAS_CONFIG)
      --log-level <level>    debug, info, warn, error
      --log-format <format>  json, text
      --shutdown-timeout <d> Graceful shutdown timeout (default 30s)
      --validate             Validate configuration and exit
  -v, --version              Show version information
  -h, --help                 Show this help

Environment:
  FLOWCANVAS_LOG_LEVEL, FLOWCANVAS_LOG_FORMAT, FLOWCANVAS_NATS_URLS,
  FLOWCANVAS_NATS_USERNAME, FLOWCANVAS_NATS_PASSWORD, FLOWCANVAS_NATS_TOKEN,
  FLOWCANVAS_STORE_BACKEND, FLOWCANVAS_POSTGRES_DSN, FLOWCANVAS_REDIS_URL,
  FLOWCANVAS_GATEWAY_PORT, FLOWCANVAS_METRICS_PORT

Examples:
  %s --config flowcanvas.yaml
  FLOWCANVAS_STORE_BACKEND=kv FLOWCANVAS_NATS_URLS=nats://localhost:4222 %s
  %s --config flowcanvas.yaml --validate
`, appName, appName, appName, appName, appName)
}

func getEnv(getenv func(string) string, key, defaultValue string) string {
	if value := getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(getenv func(string) string, key string, defaultValue bool) bool {
	if value := getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(getenv func(string) string, key string, defaultValue time.Duration) time.Duration {
	if value := getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
