package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	defaultMaxConns       = 10
	defaultMinConns       = 2
	defaultApplication    = "transfer-orchestrator"
	defaultConnectTimeout = 5 * time.Second
)

// PoolOptions tunes the connection pool. Zero values fall back to defaults.
type PoolOptions struct {
	MaxConns int32
	MinConns int32
	// ConnectAttempts is how many times Connect pings before giving up. The
	// database often starts alongside the orchestrator.
	ConnectAttempts int
	RetryDelay      time.Duration
}

// Connect opens a pgx pool and waits until it answers a ping.
func Connect(ctx context.Context, dbURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	applyPoolOptions(config, opts)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	attempts := max(opts.ConnectAttempts, 1)
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return pool, nil
		}
		if attempt >= attempts {
			break
		}
		zap.L().Warn("database not reachable yet",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("unable to connect to database: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	pool.Close()
	return nil, fmt.Errorf("unable to connect to database after %d attempts: %w", attempts, err)
}

func applyPoolOptions(config *pgxpool.Config, opts PoolOptions) {
	config.MaxConns = defaultMaxConns
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	config.MinConns = min(defaultMinConns, config.MaxConns)
	if opts.MinConns > 0 && opts.MinConns <= config.MaxConns {
		config.MinConns = opts.MinConns
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	if _, ok := config.ConnConfig.RuntimeParams["application_name"]; !ok {
		config.ConnConfig.RuntimeParams["application_name"] = defaultApplication
	}
}
