package reconciler

import (
	"fmt"
	"time"

	"github.com/coder/quartz"

	"github.com/camwatch/frameparser-autoscaler"
	"github.com/camwatch/frameparser-autoscaler/launcher"
	"github.com/camwatch/frameparser-autoscaler/metrics"
	"github.com/camwatch/frameparser-autoscaler/registry"
	"github.com/camwatch/frameparser-autoscaler/store"
)

const (
	DefaultRetryCeiling    = 3
	DefaultCooldown        = 10 * time.Minute
	DefaultLaunchLease     = time.Minute
	DefaultCallTimeout     = 10 * time.Second
	DefaultMaxConcurrency  = 8
	DefaultInterval        = 2 * time.Minute
	DefaultDivergenceTicks = 5
)

// Config holds configuration for the Reconciler.
type Config struct {
	// Registry is the source of desired state (required).
	Registry registry.StreamRegistry

	// Store is the Mapping Store (required).
	Store store.AssignmentStore

	// Launcher starts and stops workers (required).
	Launcher launcher.Launcher

	// Worker is passed to every launch untouched.
	Worker autoscaler.WorkerConfig

	// RetryCeiling is the number of consecutive launch failures after which a
	// camera moves to FAILED (default: 3).
	RetryCeiling int

	// Cooldown is how long a FAILED camera is left alone before it is retried
	// (default: 10m). A negative value disables automatic retry; only
	// ClearFailure brings the camera back.
	Cooldown time.Duration

	// LaunchLease is how long a PENDING record belongs to the tick that
	// claimed it (default: 1m). It must exceed CallTimeout.
	LaunchLease time.Duration

	// CallTimeout bounds every registry, store and launcher call (default: 10s).
	CallTimeout time.Duration

	// MaxConcurrency bounds the number of cameras processed at once (default: 8).
	MaxConcurrency int

	// Interval is the tick period, used to express the divergence threshold
	// in ticks (default: 2m).
	Interval time.Duration

	// DivergenceTicks is how many ticks a camera may stay diverged before it
	// is flagged (default: 5).
	DivergenceTicks int

	// Clock is the time source (default: real clock).
	Clock quartz.Clock

	// Metrics receives tick reports (optional).
	Metrics *metrics.Collector

	// Logger is for observability (optional).
	Logger autoscaler.Logger
}

// withDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.RetryCeiling == 0 {
		c.RetryCeiling = DefaultRetryCeiling
	}
	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.LaunchLease == 0 {
		c.LaunchLease = DefaultLaunchLease
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.DivergenceTicks == 0 {
		c.DivergenceTicks = DefaultDivergenceTicks
	}
	if c.Clock == nil {
		c.Clock = quartz.NewReal()
	}
	return c
}

// validate checks required fields and value ranges after defaults are applied.
func (c Config) validate() error {
	if c.Registry == nil {
		return fmt.Errorf("%w: registry is required", autoscaler.ErrInvalidConfig)
	}
	if c.Store == nil {
		return fmt.Errorf("%w: store is required", autoscaler.ErrInvalidConfig)
	}
	if c.Launcher == nil {
		return fmt.Errorf("%w: launcher is required", autoscaler.ErrInvalidConfig)
	}
	if c.RetryCeiling < 1 {
		return fmt.Errorf("%w: retry ceiling must be at least 1 (got %d)", autoscaler.ErrInvalidConfig, c.RetryCeiling)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("%w: max concurrency must be at least 1 (got %d)", autoscaler.ErrInvalidConfig, c.MaxConcurrency)
	}
	if c.CallTimeout < 0 || c.LaunchLease < 0 || c.Interval < 0 || c.DivergenceTicks < 0 {
		return fmt.Errorf("%w: durations and tick counts must not be negative", autoscaler.ErrInvalidConfig)
	}
	if c.LaunchLease <= c.CallTimeout {
		return fmt.Errorf("%w: launch lease (%s) must exceed call timeout (%s)", autoscaler.ErrInvalidConfig, c.LaunchLease, c.CallTimeout)
	}
	return nil
}

// divergenceThreshold is how long a camera may stay diverged before it is flagged.
func (c Config) divergenceThreshold() time.Duration {
	return time.Duration(c.DivergenceTicks) * c.Interval
}

func (c Config) policy() Policy {
	return Policy{
		LaunchLease: c.LaunchLease,
		Cooldown:    c.Cooldown,
	}
}
