package config

import (
	"fmt"
	"strings"

	"github.com/camwatch/frameparser-autoscaler"
	"github.com/camwatch/frameparser-autoscaler/internal/logging"
)

// Validate reports every problem found, wrapped in autoscaler.ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	r := c.Reconcile
	if r.Interval.Duration <= 0 {
		add("reconcile.interval must be positive")
	}
	if r.RetryCeiling < 1 {
		add("reconcile.retry_ceiling must be at least 1")
	}
	if r.CallTimeout.Duration <= 0 {
		add("reconcile.call_timeout must be positive")
	}
	if r.LaunchLease.Duration <= r.CallTimeout.Duration {
		add("reconcile.launch_lease must exceed reconcile.call_timeout")
	}
	if r.MaxConcurrency < 1 {
		add("reconcile.max_concurrency must be at least 1")
	}
	if r.DivergenceTicks < 1 {
		add("reconcile.divergence_ticks must be at least 1")
	}

	if c.Worker.ProcessRateFPS < 1 {
		add("worker.process_rate_fps must be at least 1")
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres, StoreMySQL, StoreSQLite:
		if c.Store.DSN == "" {
			add("store.dsn is required for the %s backend", c.Store.Backend)
		}
	case StoreDynamoDB:
		if c.Store.Table == "" {
			add("store.table is required for the dynamodb backend")
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			add("store.redis_addr is required for the redis backend")
		}
	default:
		add("unknown store backend %q", c.Store.Backend)
	}

	switch c.Registry.Backend {
	case RegistryStatic, RegistryKVS:
	default:
		add("unknown registry backend %q", c.Registry.Backend)
	}

	switch c.Launcher.Backend {
	case LauncherMock:
	case LauncherFargate:
		if c.Fargate.Cluster == "" {
			add("fargate.cluster is required")
		}
		if c.Fargate.TaskDefinition == "" {
			add("fargate.task_definition is required")
		}
		if len(c.Fargate.Subnets) == 0 {
			add("not enough subnets specified")
		}
	default:
		add("unknown launcher backend %q", c.Launcher.Backend)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level %q is not a level", c.Logging.Level)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", autoscaler.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// UsesAWS reports whether any selected backend talks to AWS.
func (c *Config) UsesAWS() bool {
	return c.Store.Backend == StoreDynamoDB ||
		c.Registry.Backend == RegistryKVS ||
		c.Launcher.Backend == LauncherFargate
}
