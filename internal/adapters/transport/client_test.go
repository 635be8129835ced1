package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/chattree/internal/adapters/circuitbreaker"
	"github.com/longregen/chattree/internal/adapters/http/dto"
	"github.com/longregen/chattree/internal/adapters/http/encoding"
	"github.com/longregen/chattree/internal/adapters/retry"
	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
	"github.com/longregen/chattree/internal/ports"
)

func fastRetry() retry.BackoffConfig {
	return retry.BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxRetries:      2,
		Multiplier:      2,
	}
}

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts = append([]Option{WithRetry(fastRetry()), WithWorkspace("ws-test")}, opts...)
	return NewClient(server.URL, opts...)
}

func drain(t *testing.T, ch <-chan models.StreamChunk) []models.StreamChunk {
	t.Helper()
	var out []models.StreamChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("stream did not close")
			return nil
		}
	}
}

func writeError(w http.ResponseWriter, code string, status int) {
	_ = encoding.WriteJSON(w, status, dto.NewErrorResponse(code, code, status))
}

func TestClient_CreateConversation(t *testing.T) {
	var gotWorkspace string
	var gotBody dto.CreateConversationRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/conversations", r.URL.Path)
		gotWorkspace = r.Header.Get("X-Workspace-ID")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = encoding.WriteJSON(w, http.StatusCreated, models.NewConversation("conv_1", gotWorkspace, gotBody.Title, gotBody.ModelID))
	}))

	conv, err := client.CreateConversation(context.Background(), ports.CreateConversationInput{
		WorkspaceID: "team-a",
		Title:       "Hello",
		ModelID:     "qwen",
	})
	require.NoError(t, err)
	assert.Equal(t, "conv_1", conv.ID)
	assert.Equal(t, "team-a", gotWorkspace)
	assert.Equal(t, "Hello", gotBody.Title)
	assert.Equal(t, "qwen", gotBody.ModelID)
}

func TestClient_DefaultWorkspaceHeader(t *testing.T) {
	var gotWorkspace string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWorkspace = r.Header.Get("X-Workspace-ID")
		_ = encoding.WriteJSON(w, http.StatusOK, models.StreamState{})
	}))

	_, err := client.GetStreamState(context.Background(), "conv_1")
	require.NoError(t, err)
	assert.Equal(t, "ws-test", gotWorkspace)
}

func TestClient_GetMessagesMsgpack(t *testing.T) {
	parent := "m1"
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/conversations/conv_1/messages", r.URL.Path)
		assert.Contains(t, r.Header.Get("Accept"), encoding.ContentTypeMsgpack)
		_ = encoding.WriteMsgpack(w, http.StatusOK, dto.MessageListResponse{
			ConversationID: "conv_1",
			Messages: []*models.PersistedMessage{
				{ID: "m1", ConversationID: "conv_1", Role: models.MessageRoleUser, Parts: models.TextParts("q"), Status: models.PersistedStatusCompleted},
				{ID: "m2", ConversationID: "conv_1", ParentID: &parent, Role: models.MessageRoleAssistant, Parts: models.TextParts("a"), Status: models.PersistedStatusCompleted},
			},
		})
	}), WithMsgpack(true))

	msgs, err := client.GetMessages(context.Background(), "conv_1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", *msgs[1].ParentID)
	assert.Equal(t, "a", msgs[1].PlainText())
}

func TestClient_ErrorCodesMapToDomain(t *testing.T) {
	tests := []struct {
		code   string
		status int
		want   error
	}{
		{dto.ErrCodeStreamInProgress, http.StatusConflict, domain.ErrStreamInProgress},
		{dto.ErrCodeNoActiveStream, http.StatusNotFound, domain.ErrNoActiveStream},
		{dto.ErrCodeParentNotFound, http.StatusNotFound, domain.ErrParentNotFound},
		{dto.ErrCodeDuplicateMessage, http.StatusConflict, domain.ErrDuplicateMessage},
		{dto.ErrCodeNotFound, http.StatusNotFound, domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeError(w, tt.code, tt.status)
			}))

			err := client.CancelStream(context.Background(), "conv_1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, int32(1), calls.Load(), "client errors must not be retried")
		})
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeError(w, dto.ErrCodeInternal, http.StatusServiceUnavailable)
			return
		}
		_ = encoding.WriteJSON(w, http.StatusOK, dto.ConversationListResponse{
			Conversations: []*models.Conversation{models.NewConversation("c1", "ws", "t", "")},
		})
	}))

	convs, err := client.ListConversations(context.Background(), "ws")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_BreakerOpensOnServerFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeError(w, dto.ErrCodeInternal, http.StatusInternalServerError)
	}), WithRetry(retry.BackoffConfig{MaxRetries: 0}), WithBreaker(circuitbreaker.New(2, time.Minute)))

	for i := 0; i < 2; i++ {
		_, err := client.GetStreamState(context.Background(), "c1")
		require.Error(t, err)
	}
	_, err := client.GetStreamState(context.Background(), "c1")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_RejectionsDoNotOpenBreaker(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, dto.ErrCodeNotFound, http.StatusNotFound)
	}), WithBreaker(circuitbreaker.New(1, time.Minute)))

	for i := 0; i < 3; i++ {
		err := client.DeleteConversation(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
}

func sseHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Message-ID", "a1")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			_, _ = fmt.Fprint(w, f)
			w.(http.Flusher).Flush()
		}
	}
}

func TestClient_ChatCompletionStream(t *testing.T) {
	var got ports.CompletionRequest
	handler := sseHandler(
		": ping\n\n",
		"data: {\"role\":\"assistant\",\"content\":\"Hel\"}\n\n",
		"data: {\"reasoning\":\"thinking\"}\n\n",
		"data: {\"tool_calls\":[{\"id\":\"tc1\",\"name\":\"search\",\"arguments\":\"{}\"}]}\n\n",
		"data: [DONE]\n\n",
	)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/conversations/conv_1/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		handler(w, r)
	}))

	ch, err := client.ChatCompletionStream(context.Background(), ports.CompletionRequest{
		ConversationID:     "conv_1",
		Messages:           []models.InputMessage{{Role: models.MessageRoleUser, Content: "hi"}},
		UserMessageID:      "u1",
		AssistantMessageID: "a1",
	})
	require.NoError(t, err)

	chunks := drain(t, ch)
	require.Len(t, chunks, 4)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "thinking", chunks[1].Reasoning)
	require.Len(t, chunks[2].ToolCalls, 1)
	assert.Equal(t, "search", chunks[2].ToolCalls[0].Name)
	assert.True(t, chunks[3].Done)

	assert.Equal(t, "u1", got.UserMessageID)
	assert.Equal(t, "a1", got.AssistantMessageID)
}

func TestClient_StreamErrorEvent(t *testing.T) {
	client := newTestClient(t, sseHandler(
		"data: {\"content\":\"partial\"}\n\n",
		"event: error\ndata: {\"error\":\"upstream failed\"}\n\n",
	))

	ch, err := client.ContinueStream(context.Background(), "conv_1")
	require.NoError(t, err)

	chunks := drain(t, ch)
	require.Len(t, chunks, 2)
	require.Error(t, chunks[1].Error)
	assert.Equal(t, "upstream failed", chunks[1].Error.Error())
}

func TestClient_StreamTruncated(t *testing.T) {
	client := newTestClient(t, sseHandler("data: {\"content\":\"partial\"}\n\n"))

	ch, err := client.ContinueStream(context.Background(), "conv_1")
	require.NoError(t, err)

	chunks := drain(t, ch)
	require.Len(t, chunks, 2)
	assert.ErrorIs(t, chunks[1].Error, domain.ErrStreamClosed)
}

func TestClient_StreamRejected(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, dto.ErrCodeStreamInProgress, http.StatusConflict)
	}))

	_, err := client.ChatCompletionStream(context.Background(), ports.CompletionRequest{ConversationID: "conv_1"})
	assert.ErrorIs(t, err, domain.ErrStreamInProgress)
}

func TestClient_StreamStopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "data: {\"content\":\"a\"}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := client.ContinueStream(ctx, "conv_1")
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "a", first.Content)
	cancel()

	for c := range ch {
		assert.NoError(t, c.Error, "cancelled stream must close without an error chunk")
	}
}

func TestClient_ContinueStreamWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/stream/ws") {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "ws-test", r.Header.Get("X-Workspace-ID"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(dto.StreamFrame{Type: dto.FrameChunk, MessageID: "a1", Chunk: &models.StreamChunk{Content: "one"}})
		_ = conn.WriteJSON(dto.StreamFrame{Type: dto.FrameChunk, MessageID: "a1", Chunk: &models.StreamChunk{Content: "two"}})
		_ = conn.WriteJSON(dto.StreamFrame{Type: dto.FrameDone, MessageID: "a1"})
	}), WithWebSocket(true))

	ch, err := client.ContinueStream(context.Background(), "conv_1")
	require.NoError(t, err)

	chunks := drain(t, ch)
	require.Len(t, chunks, 3)
	assert.Equal(t, "one", chunks[0].Content)
	assert.Equal(t, "two", chunks[1].Content)
	assert.True(t, chunks[2].Done)
}

func TestClient_ContinueStreamWebSocketNoStream(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, dto.ErrCodeNoActiveStream, http.StatusNotFound)
	}), WithWebSocket(true))

	_, err := client.ContinueStream(context.Background(), "conv_1")
	assert.True(t, errors.Is(err, domain.ErrNoActiveStream), "got %v", err)
}
