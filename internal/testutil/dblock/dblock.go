// Package dblock serializes Postgres integration tests across test binaries
// and hands each test a pool on a freshly truncated schema.
package dblock

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/db"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultLockAddr = "127.0.0.1:45432"

// Acquire blocks until the process holds the lock and returns its release func.
// TEST_DB_LOCK_ADDR overrides the loopback address used as the lock.
func Acquire() func() {
	addr := os.Getenv("TEST_DB_LOCK_ADDR")
	if addr == "" {
		addr = defaultLockAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Postgres skips t unless DATABASE_URL is set. Otherwise it holds the lock for
// the rest of the test, ensures the schema and truncates tables.
func Postgres(t testing.TB, tables ...string) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	t.Cleanup(Acquire())

	ctx := context.Background()
	pool, err := db.Connect(ctx, url, db.PoolOptions{MaxConns: 4})
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if len(tables) > 0 {
		stmt := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY", strings.Join(tables, ", "))
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("truncate %v: %v", tables, err)
		}
	}
	return pool
}
