package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/longregen/chattree/internal/adapters/circuitbreaker"
	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedIDs struct{ n int }

func (f *fixedIDs) GenerateConversationID() string { return "conv_x" }
func (f *fixedIDs) GenerateMessageID() string      { return "msg_x" }
func (f *fixedIDs) GenerateToolCallID() string {
	f.n++
	return fmt.Sprintf("tc_gen%d", f.n)
}

// sseServer replays the given OpenAI delta payloads and then [DONE].
func sseServer(t *testing.T, deltas []string, seen *[]map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			*seen = append(*seen, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, d := range deltas {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":%s}]}\n\n", d)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func collect(t *testing.T, ch <-chan models.StreamChunk) []models.StreamChunk {
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

func TestService_ChatStream_ConvertsDeltas(t *testing.T) {
	var seen []map[string]any
	srv := sseServer(t, []string{
		`{"role":"assistant"}`,
		`{"reasoning_content":"let me think"}`,
		`{"content":"Hel"}`,
		`{"content":"lo"}`,
		`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"calc","arguments":"{\"x\":"}}]}`,
		`{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]}`,
	}, &seen)
	defer srv.Close()

	svc := NewService(NewClient(srv.URL+"/v1", "key", WithModel("test-model")), &fixedIDs{})

	ch, err := svc.ChatStream(context.Background(), "", []models.InputMessage{{Role: models.MessageRoleUser, Content: "hi"}})
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 6)

	assert.Equal(t, "let me think", chunks[0].Reasoning)
	assert.Equal(t, "Hel", chunks[1].Content)
	assert.Equal(t, "lo", chunks[2].Content)
	require.Len(t, chunks[3].ToolCalls, 1)
	assert.Equal(t, "call_1", chunks[3].ToolCalls[0].ID)
	assert.Equal(t, "calc", chunks[3].ToolCalls[0].Name)
	assert.Equal(t, "call_1", chunks[4].ToolCalls[0].ID, "continuation keeps the id of its index")
	assert.True(t, chunks[5].Done)

	require.Len(t, seen, 1)
	assert.Equal(t, "test-model", seen[0]["model"])
	assert.Equal(t, true, seen[0]["stream"])
}

func TestService_ChatStream_GeneratesMissingToolIDs(t *testing.T) {
	srv := sseServer(t, []string{
		`{"tool_calls":[{"index":0,"function":{"name":"a"}},{"index":1,"function":{"name":"b"}}]}`,
		`{"tool_calls":[{"index":1,"function":{"arguments":"{}"}}]}`,
	}, nil)
	defer srv.Close()

	svc := NewService(NewClient(srv.URL, ""), &fixedIDs{})
	ch, err := svc.ChatStream(context.Background(), "m", nil)
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 3)
	assert.Equal(t, "tc_gen1", chunks[0].ToolCalls[0].ID)
	assert.Equal(t, "tc_gen2", chunks[0].ToolCalls[1].ID)
	assert.Equal(t, "tc_gen2", chunks[1].ToolCalls[0].ID)
}

func TestService_ChatStream_UpstreamErrorOpensBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
	}))
	defer srv.Close()

	svc := NewService(NewClient(srv.URL, ""), &fixedIDs{},
		WithBreaker(circuitbreaker.New(1, time.Minute)))

	_, err := svc.ChatStream(context.Background(), "m", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLLMRequestFailed))

	_, err = svc.ChatStream(context.Background(), "m", nil)
	assert.True(t, errors.Is(err, domain.ErrLLMUnavailable), "open breaker rejects: %v", err)
	assert.True(t, errors.Is(err, circuitbreaker.ErrCircuitOpen))
}

func TestService_ChatStream_CancelClosesChannel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"a\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	svc := NewService(NewClient(srv.URL, ""), &fixedIDs{})
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := svc.ChatStream(ctx, "m", nil)
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "a", first.Content)
	cancel()

	// the channel must close even if the terminal chunk is dropped
	for range collect(t, ch) {
	}
}
