//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longregen/chattree/internal/adapters/postgres"
)

// TestDB manages a test database instance
type TestDB struct {
	Pool *pgxpool.Pool
	DSN  string
}

// SetupTestDB recreates the test database and applies the schema
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "chattree")
	password := getEnv("POSTGRES_PASSWORD", "chattree")
	dbName := getEnv("POSTGRES_DB", "chattree_test")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	adminDSN := fmt.Sprintf("postgres://%s:%s@%s:%s/postgres?sslmode=disable",
		user, password, host, port)
	admin, err := pgx.Connect(ctx, adminDSN)
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	defer admin.Close(ctx)

	ident := pgx.Identifier{dbName}.Sanitize()
	if _, err := admin.Exec(ctx, "DROP DATABASE IF EXISTS "+ident+" WITH (FORCE)"); err != nil {
		t.Fatalf("failed to drop test database: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+ident); err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		user, password, host, port, dbName)
	pool, err := postgres.Connect(ctx, postgres.ConnectConfig{URL: dsn, MaxConns: 8})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(pool.Close)
	return &TestDB{Pool: pool, DSN: dsn}
}

// Clear removes all data from tables while preserving schema
func (db *TestDB) Clear(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, "TRUNCATE TABLE chattree_messages, chattree_conversations CASCADE")
	if err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
