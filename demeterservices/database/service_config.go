package database

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lunagic/demeter/demeterservices/cache"
)

type ServiceConfigFunc func(service *Service) error

func WithPostConnectFunc(callback func(db *sql.DB) error) ServiceConfigFunc {
	return func(service *Service) error {
		return callback(service.standardLibraryDB)
	}
}

func WithPreRunFunc(preRunFunc func(ctx context.Context, statement string, args []any) error) ServiceConfigFunc {
	return func(service *Service) error {
		service.preRunFuncs = append(service.preRunFuncs, preRunFunc)
		return nil
	}
}

func WithPostRunFunc(postRunFunc func(ctx context.Context) error) ServiceConfigFunc {
	return func(service *Service) error {
		service.postRunFuncs = append(service.postRunFuncs, postRunFunc)
		return nil
	}
}

// WithConnection registers an additional named connection (a read replica or
// an entirely separate database) that chains can route to via Using.
func WithConnection(name string, driver Driver) ServiceConfigFunc {
	return func(service *Service) error {
		db, err := driver.Open()
		if err != nil {
			return err
		}

		service.connections[name] = db

		return nil
	}
}

// WithQueryCache caches Count results in the given cache driver for the given
// duration. Entries are keyed by the prepared statement and are only ever
// invalidated by expiry, so keep the TTL short enough for the staleness the
// caller can tolerate. Row-returning terminals never consult the cache, so
// their column types are the same whether or not a cache is configured.
func WithQueryCache(driver cache.Driver, ttl time.Duration) ServiceConfigFunc {
	return func(service *Service) error {
		service.queryCache = driver
		service.queryCacheTTL = ttl

		return nil
	}
}

func WithLogger(logger *slog.Logger) ServiceConfigFunc {
	return func(service *Service) error {
		service.preRunFuncs = append(service.preRunFuncs, func(ctx context.Context, statement string, args []any) error {
			logger.Info("Database Run",
				"statement", statement,
				"args", args,
			)

			return nil
		})
		service.postRunFuncs = append(service.postRunFuncs, func(ctx context.Context) error {
			return nil
		})
		return nil
	}
}
