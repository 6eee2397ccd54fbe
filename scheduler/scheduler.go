// Package scheduler triggers reconciliation ticks on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/camwatch/frameparser-autoscaler"
)

// DefaultInterval matches the original fixed-rate trigger.
const DefaultInterval = 2 * time.Minute

// Config holds configuration for the Scheduler.
type Config struct {
	// Reconciler runs the ticks (required).
	Reconciler autoscaler.Reconciler

	// Interval is the time between ticks (default: 2m).
	Interval time.Duration

	// RunImmediately runs one tick before waiting for the first interval.
	RunImmediately bool

	// OnTick is called with every report (optional).
	OnTick func(autoscaler.Report)

	// Clock is the time source (default: real clock).
	Clock quartz.Clock

	// Logger is for observability (optional).
	Logger autoscaler.Logger
}

// Scheduler runs reconciliation ticks one after another. A tick that runs
// past the interval delays the next one; it never overlaps itself within a
// process. Overlap between processes is handled by the store.
type Scheduler struct {
	config Config

	mu    sync.RWMutex
	last  autoscaler.Report
	ticks int
}

// New creates a Scheduler. Applies defaults for Interval and Clock.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Reconciler == nil {
		return nil, fmt.Errorf("%w: reconciler is required", autoscaler.ErrInvalidConfig)
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("%w: interval must be positive (got %s)", autoscaler.ErrInvalidConfig, cfg.Interval)
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}

	return &Scheduler{config: cfg}, nil
}

// Run ticks until ctx is cancelled. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "scheduler started", "interval", s.config.Interval, "runImmediately", s.config.RunImmediately)
	}

	if s.config.RunImmediately {
		s.tick(ctx)
	}

	ticker := s.config.Clock.NewTicker(s.config.Interval, "scheduler")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.config.Logger != nil {
				s.config.Logger.Info(ctx, "scheduler stopped", "ticks", s.Ticks())
			}
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	report := s.config.Reconciler.Tick(ctx)

	s.mu.Lock()
	s.last = report
	s.ticks++
	s.mu.Unlock()

	if report.Err != nil && s.config.Logger != nil {
		s.config.Logger.Warn(ctx, "tick did not run", "error", report.Err)
	}

	if s.config.OnTick != nil {
		s.config.OnTick(report)
	}
}

// Last returns the most recent report. The bool is false before the first tick.
func (s *Scheduler) Last() (autoscaler.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.ticks > 0
}

// Ticks returns how many ticks have run.
func (s *Scheduler) Ticks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks
}
