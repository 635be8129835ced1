package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpserver "github.com/longregen/chattree/internal/adapters/http"
	"github.com/longregen/chattree/internal/adapters/id"
	"github.com/longregen/chattree/internal/adapters/postgres"
	"github.com/longregen/chattree/internal/adapters/tracing"
	"github.com/longregen/chattree/internal/application/streaming"
	"github.com/longregen/chattree/internal/application/usecases"
	"github.com/longregen/chattree/internal/llm"
)

// serveCmd starts the HTTP API server
func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the chattree HTTP API server.

The server stores conversations in PostgreSQL, streams completions from an
OpenAI-compatible endpoint and keeps running generations attachable after a
client reload.

Required configuration:
  - PostgreSQL database (CHATTREE_POSTGRES_URL)
  - LLM endpoint (CHATTREE_LLM_URL)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the database schema before serving")

	return cmd
}

// runServer wires the backend and blocks until ctx is cancelled or the
// listener fails.
func runServer(ctx context.Context, migrate bool) error {
	if cfg.Tracing.Enabled {
		tel, err := tracing.Init(ctx, tracing.Config{
			ServiceName:  cfg.Tracing.ServiceName,
			Environment:  cfg.Tracing.Environment,
			OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
			Level:        tracing.ParseLevel(cfg.Tracing.LogLevel),
		})
		if err != nil {
			logger.Warn("failed to initialize tracing", "error", err)
		} else {
			logger = tel.Logger
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					logger.Warn("failed to flush telemetry", "error", err)
				}
			}()
		}
	}

	logger.Info("starting chattree API server",
		"listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"llm", cfg.LLM.URL,
		"model", cfg.LLM.Model,
		"version", version)

	if cfg.Database.PostgresURL == "" {
		return errors.New("server mode requires PostgreSQL, set CHATTREE_POSTGRES_URL")
	}
	pool, err := initDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("database connection established")

	if migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("database schema applied")
	}

	conversationRepo := postgres.NewConversationRepository(pool)
	messageRepo := postgres.NewMessageRepository(pool)
	txManager := postgres.NewTransactionManager(pool)
	idGen := id.New()

	llmClient := llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey,
		llm.WithModel(cfg.LLM.Model),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithTimeout(cfg.LLM.Timeout.Std()),
	)
	llmService := llm.NewService(llmClient, idGen,
		llm.WithBreakerLimits(cfg.LLM.BreakerFailures, cfg.LLM.BreakerTimeout.Std()),
		llm.WithStreamTimeout(cfg.LLM.Timeout.Std()),
		llm.WithLogger(logger),
	)

	hub := streaming.NewHub(
		streaming.WithSubscriberBuffer(cfg.Stream.SubscriberBuffer),
		streaming.WithLogger(logger),
	)

	manageStream := usecases.NewManageStream(conversationRepo, messageRepo, hub, logger)
	if _, err := manageStream.RecoverInterrupted(ctx); err != nil {
		return err
	}
	manageConversation := usecases.NewManageConversation(conversationRepo, messageRepo, idGen, hub, logger)
	startCompletion := usecases.NewStartCompletion(conversationRepo, messageRepo, llmService, idGen, txManager, hub, cfg.LLM.Model, logger)

	server := httpserver.NewServer(cfg, manageConversation, startCompletion, manageStream, pool, version, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")

		if n := hub.CancelAll(); n > 0 {
			logger.Info("cancelled active generations", "count", n)
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
