package server

import (
	"context"
	"database/sql"
	"io"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/goliatone/go-auth-server/config"
)

type databaseOptions struct {
	queryLog io.Writer
}

// DatabaseOption customizes OpenDatabase
type DatabaseOption func(*databaseOptions)

// WithQueryLog sets where debug query logging is written, stderr by default
func WithQueryLog(w io.Writer) DatabaseOption {
	return func(o *databaseOptions) {
		o.queryLog = w
	}
}

// OpenDatabase opens the configured database and wraps it with the bun
// dialect that matches the driver. With cfg.Debug every query is logged.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, opts ...DatabaseOption) (*bun.DB, error) {
	options := databaseOptions{queryLog: os.Stderr}
	for _, opt := range opts {
		opt(&options)
	}

	var (
		sqldb *sql.DB
		db    *bun.DB
		err   error
	)

	switch cfg.Driver {
	case config.DriverSQLite:
		sqldb, err = sql.Open(sqliteshim.ShimName, cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open sqlite database")
		}
		// a single connection keeps in memory databases alive and serializes writers
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())

	case config.DriverPostgres:
		sqldb, err = sql.Open("pgx", cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open postgres database")
		}
		sqldb.SetMaxOpenConns(25)
		sqldb.SetMaxIdleConns(5)
		sqldb.SetConnMaxLifetime(5 * time.Minute)
		db = bun.NewDB(sqldb, pgdialect.New())

	default:
		return nil, errors.New("unsupported database driver", errors.CategoryValidation).
			WithMetadata(map[string]any{"driver": cfg.Driver})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to connect to database").
			WithMetadata(map[string]any{"driver": cfg.Driver})
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.WithWriter(options.queryLog),
		))
	}

	return db, nil
}

// OpenRedis connects to redis and checks the connection
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to connect to redis").
			WithMetadata(map[string]any{"addr": cfg.Addr()})
	}

	return client, nil
}
