package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longregen/chattree/internal/adapters/postgres"
	"github.com/longregen/chattree/internal/adapters/retry"
	"github.com/longregen/chattree/internal/adapters/transport"
	"github.com/longregen/chattree/internal/config"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

// initDB opens the PostgreSQL pool for server-side commands
func initDB(ctx context.Context) (*pgxpool.Pool, error) {
	return postgres.Connect(ctx, postgres.ConnectConfig{
		URL:      cfg.Database.PostgresURL,
		MaxConns: int32(cfg.Database.MaxConns),
	})
}

// newTransport builds the chat API client used by the client-side commands
func newTransport() *transport.Client {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Client.MaxRetries

	return transport.NewClient(cfg.Client.ServerURL,
		transport.WithWorkspace(cfg.Client.WorkspaceID),
		transport.WithMsgpack(cfg.Client.UseMsgpack),
		transport.WithWebSocket(cfg.Client.UseWebSocket),
		transport.WithRetry(retryCfg),
		transport.WithStreamBuffer(cfg.Stream.SubscriberBuffer),
		transport.WithLogger(logger),
	)
}

// maskSecret masks a secret string for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
