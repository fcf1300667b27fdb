package core

import (
	"context"
	"fmt"

	"hospitalcore/internal/config"
	"hospitalcore/internal/infra/durable/breaker"
	durablememory "hospitalcore/internal/infra/durable/memory"
	"hospitalcore/internal/infra/durable/postgres"
	"hospitalcore/internal/infra/durable/s3"
	"hospitalcore/internal/infra/durable/sqlite"
)

// DurableDrivers lists the backends OpenDurableStore understands.
func DurableDrivers() []string {
	return []string{config.DriverMemory, config.DriverSQLite, config.DriverPostgres, config.DriverS3}
}

// OpenDurableStore constructs the durable backend selected by cfg. When the
// breaker is enabled the backend is wrapped so that a failing remote fails fast
// instead of waiting out RemoteTimeout on every write.
func OpenDurableStore(ctx context.Context, cfg config.Config, logger Logger) (DurableStore, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	var (
		store DurableStore
		err   error
	)
	switch cfg.DurableDriver {
	case config.DriverMemory:
		store = durablememory.New()
	case config.DriverSQLite:
		store, err = openSQLite(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		store, err = openPostgres(ctx, cfg.PostgresDSN)
	case config.DriverS3:
		store, err = openS3(ctx, s3.Config{
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PathStyle:       cfg.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown durable driver %q", cfg.DurableDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s durable store: %w", cfg.DurableDriver, err)
	}
	logger.Info("durable store opened", "driver", cfg.DurableDriver, "breaker", cfg.BreakerEnabled)
	if !cfg.BreakerEnabled {
		return store, nil
	}
	return breaker.New(store, breaker.Settings{
		Name:        "durable-" + cfg.DurableDriver,
		MaxFailures: cfg.BreakerMaxFailures,
		OpenTimeout: cfg.BreakerOpenTimeout,
		OnStateChange: func(from, to string) {
			logger.Warn("durable store breaker changed state", "driver", cfg.DurableDriver, "from", from, "to", to)
		},
	}), nil
}

// A failed constructor must not leak a typed nil *Store as a DurableStore.
func openSQLite(ctx context.Context, path string) (DurableStore, error) {
	s, err := sqlite.NewStore(ctx, path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openPostgres(ctx context.Context, dsn string) (DurableStore, error) {
	s, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openS3(ctx context.Context, cfg s3.Config) (DurableStore, error) {
	s, err := s3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
