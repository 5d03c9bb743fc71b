// Package store opens the configured core.JobStore backend.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/orderflow/backend/internal/config"
	"github.com/orderflow/backend/internal/core"
	"github.com/orderflow/backend/internal/store/badger"
	"github.com/orderflow/backend/internal/store/postgres"
	"github.com/orderflow/backend/internal/store/redis"
)

// Open returns the job store selected by cfg.Backend. The sql backend uses
// sqlDB, whose migrations already created the jobs table; the others own
// their connection and must be closed by the caller.
func Open(ctx context.Context, cfg config.QueueConfig, sqlDB *sql.DB, logger *slog.Logger) (core.JobStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("queue_backend", cfg.Backend))

	switch cfg.Backend {
	case config.BackendSQL, "":
		if sqlDB == nil {
			return nil, fmt.Errorf("sql queue backend needs a database")
		}
		return core.NewQueue(sqlDB, core.WithQueueLogger(logger)), nil

	case config.BackendPostgres:
		s, err := postgres.New(ctx, cfg.PostgresURL, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil

	case config.BackendBadger:
		s, err := badger.Open(cfg.BadgerPath, badger.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.BackendRedis:
		s, err := redis.Open(ctx, cfg.RedisURL, redis.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
