//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	httpserver "github.com/longregen/chattree/internal/adapters/http"
	"github.com/longregen/chattree/internal/adapters/id"
	"github.com/longregen/chattree/internal/adapters/postgres"
	"github.com/longregen/chattree/internal/adapters/retry"
	"github.com/longregen/chattree/internal/adapters/transport"
	"github.com/longregen/chattree/internal/application/streaming"
	"github.com/longregen/chattree/internal/application/thread"
	"github.com/longregen/chattree/internal/application/usecases"
	"github.com/longregen/chattree/internal/config"
	"github.com/longregen/chattree/internal/domain/models"
	"github.com/longregen/chattree/internal/ports"
)

const testWorkspace = "ws-integration"

// scriptedLLM replays a fixed reply word by word. While held, it blocks
// after the first chunk until released or cancelled.
type scriptedLLM struct {
	mu      sync.Mutex
	reply   []string
	hold    bool
	release chan struct{}
	calls   int
	last    []models.InputMessage
}

func newScriptedLLM(reply ...string) *scriptedLLM {
	return &scriptedLLM{reply: reply, release: make(chan struct{})}
}

func (l *scriptedLLM) ChatStream(ctx context.Context, model string, messages []models.InputMessage) (<-chan models.StreamChunk, error) {
	l.mu.Lock()
	l.calls++
	l.last = messages
	reply, hold := l.reply, l.hold
	l.mu.Unlock()

	out := make(chan models.StreamChunk)
	go func() {
		defer close(out)
		for i, word := range reply {
			chunk := models.StreamChunk{Content: word}
			if i == 0 {
				chunk.Role = models.MessageRoleAssistant
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if i == 0 && hold {
				select {
				case <-l.release:
				case <-ctx.Done():
					return
				}
			}
		}
		select {
		case out <- models.StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (l *scriptedLLM) setHold(hold bool) {
	l.mu.Lock()
	l.hold = hold
	l.mu.Unlock()
}

func (l *scriptedLLM) lastMessages() []models.InputMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// stack is a full server backed by the test database, reached through the
// HTTP transport.
type stack struct {
	db     *TestDB
	llm    *scriptedLLM
	hub    *streaming.Hub
	server *httptest.Server
	logger *slog.Logger
}

func newStack(t *testing.T, llm *scriptedLLM) *stack {
	t.Helper()

	db := SetupTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	convRepo := postgres.NewConversationRepository(db.Pool)
	msgRepo := postgres.NewMessageRepository(db.Pool)
	txManager := postgres.NewTransactionManager(db.Pool)
	ids := id.New()

	hub := streaming.NewHub(streaming.WithLogger(logger))
	streams := usecases.NewManageStream(convRepo, msgRepo, hub, logger)
	conversations := usecases.NewManageConversation(convRepo, msgRepo, ids, hub, logger)
	completions := usecases.NewStartCompletion(convRepo, msgRepo, llm, ids, txManager, hub, "test-model", logger)

	cfg := config.DefaultConfig()
	cfg.Server.CORSOrigins = []string{"*"}
	srv := httpserver.NewServer(cfg, conversations, completions, streams, db.Pool, "integration", logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		hub.CancelAll()
		ts.Close()
	})

	return &stack{db: db, llm: llm, hub: hub, server: ts, logger: logger}
}

func (s *stack) client(opts ...transport.Option) *transport.Client {
	base := []transport.Option{
		transport.WithWorkspace(testWorkspace),
		transport.WithLogger(s.logger),
		transport.WithRetry(retry.BackoffConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			MaxRetries:      1,
			Multiplier:      2,
		}),
	}
	return transport.NewClient(s.server.URL, append(base, opts...)...)
}

func (s *stack) session(client *transport.Client) *thread.Session {
	return thread.NewSession(client, id.New(), thread.Options{
		WorkspaceID: testWorkspace,
		Model:       "test-model",
		Logger:      s.logger,
	})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func portsInput(title string) ports.CreateConversationInput {
	return ports.CreateConversationInput{WorkspaceID: testWorkspace, Title: title}
}
