// Package main runs the flow canvas host: the live canvas with its preview
// and branch subsystems, the document store and the HTTP/WebSocket gateway.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/flowcanvas/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "flowcanvas"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cli, err := parseFlags(args, os.Getenv, stdout)
	if stderrors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}
	if cli.ShowHelp {
		printDetailedHelp(stdout)
		return nil
	}

	cfg, err := loadConfiguration(cli)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Log.SlogLevel())
	logger := setupLogger(stdout, level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		return printConfig(stdout, cfg)
	}

	logger.Info("Starting flowcanvas",
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"store", cfg.Store.Backend,
		"nats", cfg.NATS.Enabled())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger, level)
	if err != nil {
		return err
	}
	if err := app.Run(ctx, cli.ShutdownTimeout); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// loadConfiguration layers the file, the environment and the log flags
func loadConfiguration(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyLogFlags(cfg, cli)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid log flags: %w", err)
	}
	return cfg, nil
}

// printConfig writes the effective configuration with secrets masked
func printConfig(w io.Writer, cfg *config.Config) error {
	_, err := fmt.Fprintf(w, "# configuration is valid\n%s", cfg)
	return err
}
