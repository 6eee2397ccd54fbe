// Package autoscaler is the high-level entry point for embedding the frame
// parser autoscaler in a program. It wires a reconciler, a scheduler and an
// optional metrics and admin HTTP server from functional options.
package autoscaler

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/quartz"

	rootpkg "github.com/camwatch/frameparser-autoscaler"
	"github.com/camwatch/frameparser-autoscaler/admin"
	"github.com/camwatch/frameparser-autoscaler/launcher"
	"github.com/camwatch/frameparser-autoscaler/metrics"
	"github.com/camwatch/frameparser-autoscaler/reconciler"
	"github.com/camwatch/frameparser-autoscaler/registry"
	"github.com/camwatch/frameparser-autoscaler/scheduler"
	"github.com/camwatch/frameparser-autoscaler/store"
	"github.com/camwatch/frameparser-autoscaler/store/sqlstore"
)

// Re-export core types from root package
type (
	// Assignment binds a camera to its worker.
	Assignment = rootpkg.Assignment

	// WorkerConfig is passed through to every launched worker.
	WorkerConfig = rootpkg.WorkerConfig

	// Report summarises one tick.
	Report = rootpkg.Report

	// Logger is the structured logger used across the module.
	Logger = rootpkg.Logger
)

// Option configures a Service.
type Option func(*config)

type config struct {
	registry        registry.StreamRegistry
	store           store.AssignmentStore
	launcher        launcher.Launcher
	worker          WorkerConfig
	interval        time.Duration
	runImmediately  bool
	retryCeiling    int
	cooldown        time.Duration
	launchLease     time.Duration
	callTimeout     time.Duration
	maxConcurrency  int
	divergenceTicks int
	clock           quartz.Clock
	logger          Logger
	cluster         string
	metricsEnabled  bool
	metricsAddr     string
	shutdownTimeout time.Duration
}

// Service runs reconciliation on a schedule.
type Service struct {
	reconciler      *reconciler.Reconciler
	scheduler       *scheduler.Scheduler
	server          *metrics.Server
	logger          Logger
	shutdownTimeout time.Duration
}

// New creates a Service with the given options.
//
// Required options:
//   - WithRegistry: source of desired cameras
//   - WithStore or WithSQLStore: mapping store
//   - WithLauncher: worker launcher
//
// Optional configuration (with defaults):
//   - WithWorkerConfig: worker pass-through configuration
//   - WithInterval: time between ticks (default: 2m)
//   - WithRunImmediately: tick once at start-up (default: false)
//   - WithRetryCeiling: launch failures before FAILED (default: 3)
//   - WithCooldown: time before a FAILED camera is retried (default: 10m)
//   - WithLaunchLease: in-flight launch lease (default: 1m)
//   - WithCallTimeout: timeout for every external call (default: 10s)
//   - WithMaxConcurrency: cameras processed at once (default: 8)
//   - WithDivergenceTicks: ticks before a diverged camera alerts (default: 5)
//   - WithClock: time source (default: real clock)
//   - WithLogger: logger for observability (default: nil)
//   - WithMetrics: record Prometheus metrics under a cluster label (default: off)
//   - WithMetricsAddr: serve /metrics and the admin API (default: off)
//
// Example:
//
//	svc, err := autoscaler.New(
//	    autoscaler.WithRegistry(registry.NewStatic("cam-1", "cam-2")),
//	    autoscaler.WithStore(memory.New()),
//	    autoscaler.WithLauncher(launcher.NewMockLauncher()),
//	    autoscaler.WithInterval(30*time.Second),
//	)
//
// Returns an error if any required option is missing.
func New(opts ...Option) (*Service, error) {
	cfg := &config{
		shutdownTimeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.registry == nil {
		return nil, fmt.Errorf("%w: registry is required: use WithRegistry option", rootpkg.ErrInvalidConfig)
	}
	if cfg.store == nil {
		return nil, fmt.Errorf("%w: store is required: use WithStore option", rootpkg.ErrInvalidConfig)
	}
	if cfg.launcher == nil {
		return nil, fmt.Errorf("%w: launcher is required: use WithLauncher option", rootpkg.ErrInvalidConfig)
	}

	var collector *metrics.Collector
	if cfg.metricsEnabled || cfg.metricsAddr != "" {
		collector = metrics.NewCollector(cfg.cluster)
	}

	rec, err := reconciler.New(reconciler.Config{
		Registry:        cfg.registry,
		Store:           cfg.store,
		Launcher:        cfg.launcher,
		Worker:          cfg.worker,
		RetryCeiling:    cfg.retryCeiling,
		Cooldown:        cfg.cooldown,
		LaunchLease:     cfg.launchLease,
		CallTimeout:     cfg.callTimeout,
		MaxConcurrency:  cfg.maxConcurrency,
		Interval:        cfg.interval,
		DivergenceTicks: cfg.divergenceTicks,
		Clock:           cfg.clock,
		Metrics:         collector,
		Logger:          cfg.logger,
	})
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(scheduler.Config{
		Reconciler:     rec,
		Interval:       cfg.interval,
		RunImmediately: cfg.runImmediately,
		Clock:          cfg.clock,
		Logger:         cfg.logger,
	})
	if err != nil {
		return nil, err
	}

	svc := &Service{
		reconciler:      rec,
		scheduler:       sched,
		logger:          cfg.logger,
		shutdownTimeout: cfg.shutdownTimeout,
	}

	if cfg.metricsAddr != "" {
		handler := admin.NewHandler(admin.Config{
			Store:      cfg.store,
			Reconciler: rec,
			LastReport: sched.Last,
			Logger:     cfg.logger,
		})
		svc.server = metrics.NewServer(cfg.metricsAddr, handler.Routes)
	}

	return svc, nil
}

// Run serves the HTTP endpoints, if configured, and ticks until ctx is
// cancelled. It returns nil on cancellation.
func (s *Service) Run(ctx context.Context) error {
	if s.server != nil {
		s.server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil && s.logger != nil {
				s.logger.Error(ctx, "metrics server shutdown failed", "error", err)
			}
		}()
	}

	return s.scheduler.Run(ctx)
}

// Tick runs a single reconciliation pass outside the schedule.
func (s *Service) Tick(ctx context.Context) Report {
	return s.reconciler.Tick(ctx)
}

// Reconciler returns the underlying reconciler, e.g. to clear failures.
func (s *Service) Reconciler() *reconciler.Reconciler {
	return s.reconciler
}

// Last returns the most recent scheduled report.
func (s *Service) Last() (Report, bool) {
	return s.scheduler.Last()
}

// Handler returns the metrics and admin router, or nil when WithMetricsAddr
// was not given.
func (s *Service) Handler() http.Handler {
	if s.server == nil {
		return nil
	}
	return s.server.Handler()
}

// WithRegistry sets the source of desired cameras.
func WithRegistry(r registry.StreamRegistry) Option {
	return func(c *config) {
		c.registry = r
	}
}

// WithStore sets the mapping store.
func WithStore(s store.AssignmentStore) Option {
	return func(c *config) {
		c.store = s
	}
}

// WithSQLStore uses a SQL mapping store on db with the default table name.
func WithSQLStore(db *sql.DB, dialect sqlstore.Dialect) Option {
	return func(c *config) {
		c.store = sqlstore.New(db, dialect)
	}
}

// WithLauncher sets the worker launcher.
func WithLauncher(l launcher.Launcher) Option {
	return func(c *config) {
		c.launcher = l
	}
}

// WithWorkerConfig sets the configuration passed to every worker.
func WithWorkerConfig(w WorkerConfig) Option {
	return func(c *config) {
		c.worker = w
	}
}

// WithInterval sets the time between ticks.
func WithInterval(d time.Duration) Option {
	return func(c *config) {
		c.interval = d
	}
}

// WithRunImmediately runs a tick as soon as Run is called.
func WithRunImmediately(enabled bool) Option {
	return func(c *config) {
		c.runImmediately = enabled
	}
}

// WithRetryCeiling sets how many consecutive launch failures move a camera to FAILED.
func WithRetryCeiling(n int) Option {
	return func(c *config) {
		c.retryCeiling = n
	}
}

// WithCooldown sets how long a FAILED camera is left alone. Negative disables
// automatic retry.
func WithCooldown(d time.Duration) Option {
	return func(c *config) {
		c.cooldown = d
	}
}

// WithLaunchLease sets how long a claimed launch belongs to its tick.
func WithLaunchLease(d time.Duration) Option {
	return func(c *config) {
		c.launchLease = d
	}
}

// WithCallTimeout bounds every external call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *config) {
		c.callTimeout = d
	}
}

// WithMaxConcurrency bounds how many cameras a tick processes at once.
func WithMaxConcurrency(n int) Option {
	return func(c *config) {
		c.maxConcurrency = n
	}
}

// WithDivergenceTicks sets how many ticks a camera may stay diverged before alerting.
func WithDivergenceTicks(n int) Option {
	return func(c *config) {
		c.divergenceTicks = n
	}
}

// WithClock sets the time source.
func WithClock(clock quartz.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithLogger sets the logger for observability.
func WithLogger(l Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithMetrics records Prometheus metrics labelled with cluster.
func WithMetrics(cluster string) Option {
	return func(c *config) {
		c.metricsEnabled = true
		c.cluster = cluster
	}
}

// WithMetricsAddr serves /metrics and the admin API on addr. It implies
// metrics recording.
func WithMetricsAddr(addr string) Option {
	return func(c *config) {
		c.metricsAddr = addr
	}
}

// RunMigrations creates the assignments table for dialect on db.
//
// This should typically be run once during application deployment or startup.
func RunMigrations(ctx context.Context, db *sql.DB, dialect sqlstore.Dialect) error {
	return RunMigrationsWithTableConfig(ctx, db, dialect, sqlstore.DefaultTableConfig())
}

// RunMigrationsWithTableConfig creates the assignments table with a custom name.
func RunMigrationsWithTableConfig(ctx context.Context, db *sql.DB, dialect sqlstore.Dialect, tables sqlstore.TableConfig) error {
	return sqlstore.NewWithConfig(db, dialect, tables).Migrate(ctx)
}
