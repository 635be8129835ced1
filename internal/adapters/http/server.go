package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/longregen/chattree/internal/adapters/http/handlers"
	"github.com/longregen/chattree/internal/adapters/http/middleware"
	"github.com/longregen/chattree/internal/adapters/tracing"
	"github.com/longregen/chattree/internal/config"
	"github.com/longregen/chattree/internal/ports"
)

type Server struct {
	config        *config.Config
	router        *chi.Mux
	httpServer    *http.Server
	conversations ports.ConversationUseCase
	completions   ports.StartCompletionUseCase
	streams       ports.StreamUseCase
	db            handlers.Pinger
	version       string
	logger        *slog.Logger
}

func NewServer(
	cfg *config.Config,
	conversations ports.ConversationUseCase,
	completions ports.StartCompletionUseCase,
	streams ports.StreamUseCase,
	db handlers.Pinger,
	version string,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:        cfg,
		conversations: conversations,
		completions:   completions,
		streams:       streams,
		db:            db,
		version:       version,
		logger:        logger,
	}

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.CORS(s.config.Server.CORSOrigins))
	r.Use(middleware.Metrics)
	if s.config.Tracing.Enabled {
		r.Use(tracing.Middleware(s.config.Tracing.ServiceName, middleware.WorkspaceHeader))
	}

	healthHandler := handlers.NewHealthHandler(s.db, s.version)
	r.Get("/health", healthHandler.Handle)
	r.Handle("/metrics", promhttp.Handler())

	heartbeat := s.config.Stream.Heartbeat.Std()

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Workspace)

		conversationsHandler := handlers.NewConversationsHandler(s.conversations)
		r.Post("/conversations", conversationsHandler.Create)
		r.Get("/conversations", conversationsHandler.List)
		r.Get("/conversations/{id}", conversationsHandler.Get)
		r.Patch("/conversations/{id}", conversationsHandler.Patch)
		r.Delete("/conversations/{id}", conversationsHandler.Delete)
		r.Get("/conversations/{id}/messages", conversationsHandler.Messages)
		r.Get("/messages/{id}/siblings", conversationsHandler.Siblings)

		completionsHandler := handlers.NewCompletionsHandler(s.completions, heartbeat, s.logger)
		r.Post("/conversations/{id}/completions", completionsHandler.Create)

		streamsHandler := handlers.NewStreamsHandler(s.streams, s.config.Server.CORSOrigins, heartbeat, s.logger)
		r.Post("/conversations/{id}/cancel", streamsHandler.Cancel)
		r.Get("/conversations/{id}/stream", streamsHandler.State)
		r.Get("/conversations/{id}/stream/continue", streamsHandler.Continue)
		r.Get("/conversations/{id}/stream/ws", streamsHandler.ContinueWS)
	})

	s.router = r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // streams stay open for the whole generation
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	return s.router
}
