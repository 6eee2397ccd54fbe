// Package config loads the autoscaler's runtime configuration.
//
// Values are layered: Default, then an optional TOML file, then a .env file
// and the process environment. Environment variable names match the ones the
// frame parser deployment has always used (FARGATE_CLUSTER_NAME,
// TASK_MAPPING_TABLE, ...).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMySQL    = "mysql"
	StoreSQLite   = "sqlite3"
	StoreDynamoDB = "dynamodb"
	StoreRedis    = "redis"
)

// Registry backends.
const (
	RegistryStatic = "static"
	RegistryKVS    = "kvs"
)

// Launcher backends.
const (
	LauncherFargate = "fargate"
	LauncherMock    = "mock"
)

// DefaultPath is read when Load is given no path and the file exists.
const DefaultPath = "autoscaler.toml"

// Duration is a time.Duration read from strings such as "90s" or "10m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Reconcile holds the reconciliation loop settings.
type Reconcile struct {
	Interval        Duration `toml:"interval"`
	RunImmediately  bool     `toml:"run_immediately"`
	RetryCeiling    int      `toml:"retry_ceiling"`
	Cooldown        Duration `toml:"cooldown"`
	LaunchLease     Duration `toml:"launch_lease"`
	CallTimeout     Duration `toml:"call_timeout"`
	MaxConcurrency  int      `toml:"max_concurrency"`
	DivergenceTicks int      `toml:"divergence_ticks"`
}

// Worker is passed through to every launched frame parser.
type Worker struct {
	OutputBucket   string            `toml:"output_bucket"`
	ProcessRateFPS int               `toml:"process_rate_fps"`
	Extra          map[string]string `toml:"extra"`
}

// AWS holds settings shared by the AWS backends.
type AWS struct {
	Region string `toml:"region"`
}

// Fargate configures the ECS launcher.
type Fargate struct {
	Cluster        string   `toml:"cluster"`
	TaskDefinition string   `toml:"task_definition"`
	ContainerName  string   `toml:"container_name"`
	Subnets        []string `toml:"subnets"`
	SecurityGroups []string `toml:"security_groups"`
	AssignPublicIP bool     `toml:"assign_public_ip"`
}

// Store selects and configures the mapping store.
type Store struct {
	Backend string `toml:"backend"`

	// DSN is the database/sql data source for the SQL backends.
	DSN string `toml:"dsn"`

	// Table is the SQL table or DynamoDB table holding assignments.
	Table string `toml:"table"`

	RedisAddr   string `toml:"redis_addr"`
	RedisPrefix string `toml:"redis_prefix"`
}

// Registry selects and configures the stream registry.
type Registry struct {
	Backend       string   `toml:"backend"`
	StaticCameras []string `toml:"static_cameras"`
	StreamPrefix  string   `toml:"stream_prefix"`
	Lookback      Duration `toml:"lookback"`
}

// Launcher selects the worker launcher.
type Launcher struct {
	Backend string `toml:"backend"`
}

// Logging configures log output.
type Logging struct {
	Level string `toml:"level"`
}

// Metrics configures the metrics and admin HTTP server.
type Metrics struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `toml:"addr"`
}

// Config is the complete autoscaler configuration.
type Config struct {
	Reconcile Reconcile `toml:"reconcile"`
	Worker    Worker    `toml:"worker"`
	AWS       AWS       `toml:"aws"`
	Fargate   Fargate   `toml:"fargate"`
	Store     Store     `toml:"store"`
	Registry  Registry  `toml:"registry"`
	Launcher  Launcher  `toml:"launcher"`
	Logging   Logging   `toml:"logging"`
	Metrics   Metrics   `toml:"metrics"`
}

// Default returns a configuration that runs entirely in memory.
func Default() Config {
	return Config{
		Reconcile: Reconcile{
			Interval:        Duration{2 * time.Minute},
			RunImmediately:  true,
			RetryCeiling:    3,
			Cooldown:        Duration{10 * time.Minute},
			LaunchLease:     Duration{time.Minute},
			CallTimeout:     Duration{10 * time.Second},
			MaxConcurrency:  8,
			DivergenceTicks: 5,
		},
		Worker: Worker{
			ProcessRateFPS: 1,
		},
		Fargate: Fargate{
			ContainerName: "frame-parser",
		},
		Store: Store{
			Backend:     StoreMemory,
			Table:       "camera_assignments",
			RedisPrefix: "frameparser",
		},
		Registry: Registry{
			Backend:  RegistryStatic,
			Lookback: Duration{time.Minute},
		},
		Launcher: Launcher{
			Backend: LauncherMock,
		},
		Logging: Logging{
			Level: "info",
		},
		Metrics: Metrics{
			Addr: ":9090",
		},
	}
}

// Load builds the configuration from path, ".env" and the environment, then
// validates it. An empty path reads DefaultPath when it exists; an explicit
// path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.decodeFile(path); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) decodeFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	file, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}
