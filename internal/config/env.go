package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/camwatch/frameparser-autoscaler"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides configuration values with those found through lookup.
// Empty variables are ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	var errs []string
	integer := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not a duration", key, v))
				return
			}
			dst.Duration = d
		}
	}

	str("FARGATE_CLUSTER_NAME", &c.Fargate.Cluster)
	str("TASK_DEF_ARN", &c.Fargate.TaskDefinition)
	str("CONTAINER_NAME", &c.Fargate.ContainerName)

	if v, ok := get("SUBNETS"); ok {
		c.Fargate.Subnets = splitList(v)
	} else {
		var subnets []string
		for _, key := range []string{"SUBNET_ONE", "SUBNET_TWO"} {
			if v, ok := get(key); ok {
				subnets = append(subnets, v)
			}
		}
		if len(subnets) > 0 {
			c.Fargate.Subnets = subnets
		}
	}
	if v, ok := get("SECURITY_GROUPS"); ok {
		c.Fargate.SecurityGroups = splitList(v)
	}

	str("TASK_MAPPING_TABLE", &c.Store.Table)
	str("STORE_BACKEND", &c.Store.Backend)
	str("STORE_DSN", &c.Store.DSN)
	str("REDIS_ADDR", &c.Store.RedisAddr)

	str("S3_BUCKET_NAME", &c.Worker.OutputBucket)
	integer("PROCESS_RATE_IN_FPS", &c.Worker.ProcessRateFPS)
	str("AWS_DEFAULT_REGION", &c.AWS.Region)

	integer("RETRY_CEILING", &c.Reconcile.RetryCeiling)
	duration("COOLDOWN", &c.Reconcile.Cooldown)
	duration("RECONCILE_INTERVAL", &c.Reconcile.Interval)

	str("REGISTRY_BACKEND", &c.Registry.Backend)
	if v, ok := get("STATIC_CAMERAS"); ok {
		c.Registry.StaticCameras = splitList(v)
	}

	str("LAUNCHER_BACKEND", &c.Launcher.Backend)
	str("LOG_LEVEL", &c.Logging.Level)

	// METRICS_ADDR may be set empty on purpose to disable the server.
	if v, ok := lookup("METRICS_ADDR"); ok {
		c.Metrics.Addr = strings.TrimSpace(v)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", autoscaler.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
