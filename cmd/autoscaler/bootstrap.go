package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/camwatch/frameparser-autoscaler"
	"github.com/camwatch/frameparser-autoscaler/internal/config"
	"github.com/camwatch/frameparser-autoscaler/launcher"
	"github.com/camwatch/frameparser-autoscaler/launcher/fargate"
	pkgautoscaler "github.com/camwatch/frameparser-autoscaler/pkg/autoscaler"
	"github.com/camwatch/frameparser-autoscaler/registry"
	"github.com/camwatch/frameparser-autoscaler/registry/kvs"
	"github.com/camwatch/frameparser-autoscaler/store"
	"github.com/camwatch/frameparser-autoscaler/store/dynamo"
	"github.com/camwatch/frameparser-autoscaler/store/memory"
	"github.com/camwatch/frameparser-autoscaler/store/redisstore"
	"github.com/camwatch/frameparser-autoscaler/store/sqlstore"
)

// awsConfig loads the shared AWS configuration once per command.
func (c *commandContext) awsConfig(ctx context.Context) (aws.Config, error) {
	if c.aws != nil {
		return *c.aws, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if c.config.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.config.AWS.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	c.aws = &cfg
	return cfg, nil
}

// sqlDB opens the configured SQL database.
func (c *commandContext) sqlDB() (*sql.DB, sqlstore.Dialect, error) {
	dialect, err := sqlstore.ParseDialect(c.config.Store.Backend)
	if err != nil {
		return nil, "", fmt.Errorf("%w: store backend %q is not a SQL backend", autoscaler.ErrInvalidConfig, c.config.Store.Backend)
	}

	db, err := sql.Open(dialect.DriverName(), c.config.Store.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == sqlstore.SQLite {
		db.SetMaxOpenConns(1)
	}
	c.onClose(db.Close)

	return db, dialect, nil
}

func (c *commandContext) sqlTableConfig() sqlstore.TableConfig {
	return sqlstore.TableConfig{AssignmentsTable: c.config.Store.Table}
}

// buildStore returns the configured mapping store.
func (c *commandContext) buildStore(ctx context.Context) (store.AssignmentStore, error) {
	switch c.config.Store.Backend {
	case config.StoreMemory:
		return memory.New(), nil

	case config.StorePostgres, config.StoreMySQL, config.StoreSQLite:
		db, dialect, err := c.sqlDB()
		if err != nil {
			return nil, err
		}
		return sqlstore.NewWithConfig(db, dialect, c.sqlTableConfig()), nil

	case config.StoreDynamoDB:
		awsCfg, err := c.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return dynamo.New(dynamodb.NewFromConfig(awsCfg), c.config.Store.Table), nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: c.config.Store.RedisAddr})
		c.onClose(client.Close)
		return redisstore.New(client, c.config.Store.RedisPrefix), nil
	}

	return nil, fmt.Errorf("%w: unknown store backend %q", autoscaler.ErrInvalidConfig, c.config.Store.Backend)
}

// buildRegistry returns the configured stream registry.
func (c *commandContext) buildRegistry(ctx context.Context) (registry.StreamRegistry, error) {
	switch c.config.Registry.Backend {
	case config.RegistryStatic:
		return registry.NewStatic(c.config.Registry.StaticCameras...), nil

	case config.RegistryKVS:
		awsCfg, err := c.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return kvs.New(kvs.Config{
			Streams:      kinesisvideo.NewFromConfig(awsCfg),
			Metrics:      cloudwatch.NewFromConfig(awsCfg),
			StreamPrefix: c.config.Registry.StreamPrefix,
			Lookback:     c.config.Registry.Lookback.Duration,
		})
	}

	return nil, fmt.Errorf("%w: unknown registry backend %q", autoscaler.ErrInvalidConfig, c.config.Registry.Backend)
}

// buildLauncher returns the configured worker launcher.
func (c *commandContext) buildLauncher(ctx context.Context) (launcher.Launcher, error) {
	switch c.config.Launcher.Backend {
	case config.LauncherMock:
		return launcher.NewMockLauncher(), nil

	case config.LauncherFargate:
		awsCfg, err := c.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		f := c.config.Fargate
		return fargate.New(fargate.Config{
			Client:         ecs.NewFromConfig(awsCfg),
			Cluster:        f.Cluster,
			TaskDefinition: f.TaskDefinition,
			ContainerName:  f.ContainerName,
			Subnets:        f.Subnets,
			SecurityGroups: f.SecurityGroups,
			AssignPublicIP: f.AssignPublicIP,
		})
	}

	return nil, fmt.Errorf("%w: unknown launcher backend %q", autoscaler.ErrInvalidConfig, c.config.Launcher.Backend)
}

// buildService wires the configured backends into a Service.
func (c *commandContext) buildService(ctx context.Context, extra ...pkgautoscaler.Option) (*pkgautoscaler.Service, store.AssignmentStore, error) {
	st, err := c.buildStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	reg, err := c.buildRegistry(ctx)
	if err != nil {
		return nil, nil, err
	}
	l, err := c.buildLauncher(ctx)
	if err != nil {
		return nil, nil, err
	}

	r := c.config.Reconcile
	opts := []pkgautoscaler.Option{
		pkgautoscaler.WithRegistry(reg),
		pkgautoscaler.WithStore(st),
		pkgautoscaler.WithLauncher(l),
		pkgautoscaler.WithWorkerConfig(autoscaler.WorkerConfig{
			OutputBucket:   c.config.Worker.OutputBucket,
			ProcessRateFPS: c.config.Worker.ProcessRateFPS,
			Region:         c.config.AWS.Region,
			Extra:          c.config.Worker.Extra,
		}),
		pkgautoscaler.WithInterval(r.Interval.Duration),
		pkgautoscaler.WithRunImmediately(r.RunImmediately),
		pkgautoscaler.WithRetryCeiling(r.RetryCeiling),
		pkgautoscaler.WithCooldown(r.Cooldown.Duration),
		pkgautoscaler.WithLaunchLease(r.LaunchLease.Duration),
		pkgautoscaler.WithCallTimeout(r.CallTimeout.Duration),
		pkgautoscaler.WithMaxConcurrency(r.MaxConcurrency),
		pkgautoscaler.WithDivergenceTicks(r.DivergenceTicks),
		pkgautoscaler.WithLogger(c.logger),
		pkgautoscaler.WithMetrics(c.config.Fargate.Cluster),
	}
	opts = append(opts, extra...)

	svc, err := pkgautoscaler.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	return svc, st, nil
}
