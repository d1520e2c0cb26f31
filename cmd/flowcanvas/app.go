package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/c360/flowcanvas/branchflow"
	"github.com/c360/flowcanvas/canvas"
	"github.com/c360/flowcanvas/canvas/memgraph"
	"github.com/c360/flowcanvas/config"
	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/events"
	"github.com/c360/flowcanvas/flowstore"
	"github.com/c360/flowcanvas/gateway"
	"github.com/c360/flowcanvas/health"
	"github.com/c360/flowcanvas/metric"
	"github.com/c360/flowcanvas/natsclient"
	"github.com/c360/flowcanvas/pkg/retry"
	"github.com/c360/flowcanvas/previewline"
	"github.com/c360/flowcanvas/scheduler"
	"github.com/c360/flowcanvas/validator"
)

// App is one running canvas host: the event bus, the live canvas with its
// preview and branch subsystems, the document store and the servers that
// expose them.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	level  *slog.LevelVar
	clock  scheduler.Clock

	registry *metric.MetricsRegistry
	bus      *events.Manager
	nc       *natsclient.Client
	bridge   *events.NATSBridge
	pool     *pgxpool.Pool
	rdb      *redis.Client
	cfgMgr   *config.Manager

	store      flowstore.Store
	controller *canvas.Controller
	preview    *previewline.Manager
	branches   *branchflow.Manager
	validator  *validator.Validator
	monitor    *health.Monitor

	relay   *gateway.EventRelay
	gateway *gateway.Server
	metrics *metric.Server

	syncMu   sync.Mutex
	syncCtx  context.Context
	autoSync bool
	interval time.Duration
}

// newApp wires every component for cfg. The canvas is initialized before it
// returns; nothing listens until Run.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, level *slog.LevelVar) (*App, error) {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		level:    level,
		clock:    scheduler.Real(),
		registry: metric.NewMetricsRegistry(),
		syncCtx:  ctx,
		autoSync: cfg.Branch.AutoSync,
		interval: cfg.Branch.SyncInterval,
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"events", a.setupEvents},
		{"nats", a.connectNATS},
		{"store", a.openStore},
		{"canvas", a.setupCanvas},
		{"config", a.setupConfigManager},
		{"gateway", a.setupServers},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			_ = a.close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("setup %s: %w", step.name, err)
		}
	}
	return a, nil
}

func (a *App) setupEvents(ctx context.Context) error {
	a.bus = events.NewManager(events.Options{
		MaxListeners: a.cfg.Events.MaxListeners,
		HistorySize:  a.cfg.Events.HistorySize,
		QueueSize:    a.cfg.Events.QueueSize,
		Clock:        a.clock,
		Logger:       a.logger,
		Metrics:      a.registry.CoreMetrics(),
	})
	return a.bus.Start(ctx)
}

func (a *App) connectNATS(ctx context.Context) error {
	if !a.cfg.NATS.Enabled() {
		return nil
	}
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(a.logger),
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(a.cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(a.cfg.NATS.ReconnectWait),
		natsclient.WithHealthChange(func(healthy bool) {
			a.logger.Info("nats connection changed", "healthy", healthy)
		}),
	}
	switch {
	case a.cfg.NATS.Token != "":
		opts = append(opts, natsclient.WithToken(a.cfg.NATS.Token))
	case a.cfg.NATS.Username != "":
		opts = append(opts, natsclient.WithCredentials(a.cfg.NATS.Username, a.cfg.NATS.Password))
	}

	nc, err := natsclient.NewClient(a.cfg.NATS.URL(), opts...)
	if err != nil {
		return err
	}
	a.nc = nc
	if err := nc.ConnectWithRetry(ctx, retry.Default()); err != nil {
		return err
	}
	a.logger.Info("connected to nats", "url", a.cfg.NATS.URL())

	if a.cfg.NATS.BridgeEvents {
		a.bridge = events.NewNATSBridge(nc, a.cfg.NATS.EventSubject, a.logger)
		if err := a.bridge.Attach(a.bus); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	var store flowstore.Store
	switch a.cfg.Store.Backend {
	case config.StoreKV:
		kv, err := flowstore.OpenKVStore(ctx, a.nc, a.cfg.NATS.DocumentBucket, a.clock, a.logger)
		if err != nil {
			return err
		}
		store = kv
	case config.StorePostgres:
		pc := flowstore.DefaultPoolConfig(a.cfg.Store.PostgresDSN)
		pc.MaxConns = a.cfg.Store.MaxConns
		pool, err := flowstore.OpenPool(ctx, pc)
		if err != nil {
			return err
		}
		a.pool = pool
		pg := flowstore.NewPostgresStore(pool, a.clock, a.logger)
		if err := pg.CreateSchema(ctx); err != nil {
			return err
		}
		store = pg
	case config.StoreRedis:
		rdb, err := flowstore.OpenRedis(ctx, a.cfg.Store.RedisURL)
		if err != nil {
			return err
		}
		a.rdb = rdb
		store = flowstore.NewRedisStore(rdb, a.cfg.Store.RedisPrefix, a.clock, a.logger)
	default:
		store = flowstore.NewMemoryStore(a.clock)
	}

	instrumented, err := flowstore.Instrument(store, a.cfg.Store.Backend, a.registry)
	if err != nil {
		return err
	}
	a.store = instrumented
	if a.cfg.Store.CacheSize > 0 && a.cfg.Store.Backend != config.StoreMemory {
		cached, err := flowstore.NewCached(instrumented, a.cfg.Store.CacheSize, a.registry)
		if err != nil {
			return err
		}
		a.store = cached
	}
	a.logger.Info("document store ready", "backend", a.cfg.Store.Backend, "cache_size", a.cfg.Store.CacheSize)
	return nil
}

func (a *App) setupCanvas(ctx context.Context) error {
	core := a.registry.CoreMetrics()
	a.controller = canvas.NewController(canvas.Options{
		Container: canvas.NewAttachedContainer(),
		Factory: memgraph.Factory(memgraph.Options{
			HistoryLimit: a.cfg.Canvas.HistoryLimit,
			Logger:       a.logger,
		}),
		AutoStartNode: a.cfg.Canvas.AutoStartNode,
		InitTimeout:   a.cfg.Canvas.InitTimeout,
		Events:        a.bus,
		Diagnostics:   canvas.NewDiagnostics(a.clock, a.cfg.Canvas.DiagnosticsSize),
		Clock:         a.clock,
		Logger:        a.logger,
		Metrics:       core,
	})

	a.preview = previewline.NewManager(nil, previewline.Options{
		MaxLines:       a.cfg.Preview.MaxLines,
		SnapThreshold:  a.cfg.Preview.SnapThreshold,
		DefaultTimeout: a.cfg.Preview.DefaultTimeout,
		Clock:          a.clock,
		Events:         a.bus,
		Logger:         a.logger,
		Metrics:        core,
	})
	a.branches = branchflow.NewManager(branchflow.Options{
		EnableValidation: a.cfg.Branch.EnableValidation,
		SyncInterval:     a.cfg.Branch.SyncInterval,
		MaxBranches:      a.cfg.Branch.MaxBranches,
		Clock:            a.clock,
		Logger:           a.logger,
		Events:           a.bus,
		Metrics:          core,
	})
	if err := bindManagers(a.controller, a.preview, a.branches, a.bus); err != nil {
		return err
	}
	for _, s := range []canvas.Subsystem{a.preview, a.branches} {
		if err := a.controller.RegisterSubsystem(s); err != nil {
			return err
		}
	}
	if err := a.controller.InitCanvas(ctx); err != nil {
		return err
	}

	a.validator = validator.New(validatorOptions(a.cfg.Validator), a.clock, a.logger, core)
	return nil
}

// bindManagers points the preview and branch managers at every engine the
// controller builds, so a reset or re-init carries them over
func bindManagers(ctrl *canvas.Controller, preview *previewline.Manager, branches *branchflow.Manager, bus *events.Manager) error {
	err := ctrl.RegisterBinder("previewline", canvas.BindNode, func(eng canvas.Engine) (func(), error) {
		return preview.Bind(eng, bus)
	})
	if err != nil {
		return err
	}
	return ctrl.RegisterBinder("branchflow", canvas.BindEdge, func(eng canvas.Engine) (func(), error) {
		g, ok := eng.(branchflow.EdgeGraph)
		if !ok {
			return nil, nil
		}
		return branches.BindGraph(g), nil
	})
}

// setupConfigManager shares the reloadable sections through the config
// bucket when NATS is configured
func (a *App) setupConfigManager(ctx context.Context) error {
	if a.nc == nil {
		return nil
	}
	bucket, err := a.nc.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      a.cfg.NATS.ConfigBucket,
		Description: "flowcanvas reloadable settings",
		History:     5,
	})
	if err != nil {
		return err
	}
	a.cfgMgr = config.NewManager(a.cfg, natsclient.NewKVStore(bucket, a.logger), a.logger)
	updates := a.cfgMgr.OnChange("*")
	if err := a.cfgMgr.Start(ctx); err != nil {
		return err
	}
	go func() {
		for u := range updates {
			a.applyUpdate(u)
		}
	}()
	return nil
}

func (a *App) setupServers(context.Context) error {
	a.monitor = health.NewMonitor(health.DefaultTimeout, a.clock, a.logger)
	a.monitor.Register("canvas", health.CanvasCheck(a.controller))
	a.monitor.Register("store", health.StoreCheck(a.store))
	if a.nc != nil {
		a.monitor.Register("nats", health.NATSCheck(a.nc))
	}

	relay, err := gateway.NewEventRelay(gateway.RelayOptions{
		ClientBuffer:   a.cfg.Gateway.ClientBuffer,
		AllowedOrigins: a.cfg.Gateway.AllowedOrigins,
		Logger:         a.logger,
		Registrar:      a.registry,
	})
	if err != nil {
		return err
	}
	if err := relay.Attach(a.bus); err != nil {
		return err
	}
	a.relay = relay

	opts := gateway.Options{
		Addr:           net.JoinHostPort("", strconv.Itoa(a.cfg.Gateway.Port)),
		WSPath:         a.cfg.Gateway.WSPath,
		ReadTimeout:    a.cfg.Gateway.ReadTimeout,
		WriteTimeout:   a.cfg.Gateway.WriteTimeout,
		AllowedOrigins: a.cfg.Gateway.AllowedOrigins,
		Store:          a.store,
		Validator:      a.validator,
		Canvas:         a.controller,
		Health:         a.monitor,
		Relay:          relay,
		Preview:        a.preview,
		Logger:         a.logger,
		Registrar:      a.registry,
	}
	if a.cfg.Canvas.KeyboardEnabled {
		opts.Keys = a.controller
	}
	srv, err := gateway.NewServer(opts)
	if err != nil {
		return err
	}
	a.gateway = srv

	if a.cfg.Metrics.Port != 0 {
		a.metrics = metric.NewServer(a.cfg.Metrics.Port, a.cfg.Metrics.Path, a.registry)
	}
	return nil
}

// Run serves until ctx is cancelled or a server fails, then shuts down
// within shutdownTimeout
func (a *App) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	a.syncMu.Lock()
	a.syncCtx = gctx
	a.syncMu.Unlock()
	if a.autoSync {
		if err := a.branches.StartAutoSync(gctx); err != nil {
			return err
		}
	}

	if a.cfg.Gateway.Port != 0 {
		g.Go(func() error { return a.gateway.Start(gctx) })
	}
	if a.metrics != nil {
		g.Go(func() error { return a.metrics.Start(gctx) })
	}
	a.logger.Info("flowcanvas running",
		"gateway_port", a.cfg.Gateway.Port,
		"metrics_port", a.cfg.Metrics.Port,
		"store", a.cfg.Store.Backend)

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return stderrors.Join(err, a.close(shutdownCtx))
}

// applyUpdate pushes a reloaded section into the running components
func (a *App) applyUpdate(u config.Update) {
	switch u.Section {
	case config.SectionLog:
		a.level.Set(u.Config.Log.SlogLevel())
	case config.SectionValidator:
		a.validator.SetOptions(validatorOptions(u.Config.Validator))
	case config.SectionPreview:
		p := u.Config.Preview
		a.preview.Configure(p.MaxLines, p.SnapThreshold, p.DefaultTimeout)
	case config.SectionBranch:
		b := u.Config.Branch
		a.branches.Configure(b.MaxBranches, b.EnableValidation, b.SyncInterval)
		a.reconcileAutoSync(b.AutoSync, b.SyncInterval)
	}
	a.logger.Debug("config section applied", "section", u.Section)
}

// reconcileAutoSync restarts the periodic sync when it is switched or its
// interval changes
func (a *App) reconcileAutoSync(enabled bool, interval time.Duration) {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()

	changed := enabled != a.autoSync || interval != a.interval
	a.autoSync, a.interval = enabled, interval
	if !changed {
		return
	}
	a.branches.StopAutoSync()
	if !enabled || a.syncCtx.Err() != nil {
		return
	}
	if err := a.branches.StartAutoSync(a.syncCtx); err != nil {
		a.logger.Warn("auto sync restart failed", "error", err)
	}
}

// close releases everything newApp acquired, in reverse order
func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.gateway != nil {
		errs = append(errs, a.gateway.Shutdown(ctx))
	}
	if a.relay != nil {
		a.relay.Close()
	}
	if a.metrics != nil {
		errs = append(errs, a.metrics.Stop())
	}
	if a.cfgMgr != nil {
		a.cfgMgr.Stop()
	}
	if a.controller != nil {
		errs = append(errs, a.controller.DestroyCanvas())
	}
	if a.bridge != nil {
		a.bridge.Detach()
	}
	if a.bus != nil {
		errs = append(errs, a.bus.Stop(remaining(ctx)))
		a.bus.Destroy()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.nc != nil {
		errs = append(errs, a.nc.Close(ctx))
	}

	err := stderrors.Join(errs...)
	if err != nil {
		a.logger.Warn("shutdown incomplete", "error", err, "kind", errors.Kind(err))
	} else {
		a.logger.Info("flowcanvas stopped")
	}
	return err
}

func remaining(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return 5 * time.Second
}

func validatorOptions(c config.ValidatorConfig) validator.Options {
	return validator.Options{
		ValidateStartNodes:   c.ValidateStartNodes,
		ValidateEndNodes:     c.ValidateEndNodes,
		ValidateConnectivity: c.ValidateConnectivity,
		MaxNodes:             c.MaxNodes,
	}
}
