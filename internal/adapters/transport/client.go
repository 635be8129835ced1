// Package transport is the HTTP client side of the chat API. It implements
// ports.ChatTransport so a thread.Session can run against a remote server.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/chattree/internal/adapters/circuitbreaker"
	"github.com/longregen/chattree/internal/adapters/http/dto"
	"github.com/longregen/chattree/internal/adapters/http/encoding"
	"github.com/longregen/chattree/internal/adapters/http/middleware"
	"github.com/longregen/chattree/internal/adapters/retry"
	"github.com/longregen/chattree/internal/domain/models"
	"github.com/longregen/chattree/internal/ports"
)

const (
	// RequestTimeout bounds every non-streaming call
	RequestTimeout = 30 * time.Second

	defaultStreamBuffer = 64
	apiPrefix           = "/api/v1"
)

var tracer = otel.GetTracerProvider().Tracer("chattree/transport")

// Client talks to a chattree server. Unary calls are retried with backoff
// and guarded by a circuit breaker; streams are opened once.
type Client struct {
	baseURL      string
	workspaceID  string
	httpClient   *http.Client
	streamClient *http.Client
	dialer       *websocket.Dialer
	retryConfig  retry.BackoffConfig
	breaker      *circuitbreaker.CircuitBreaker
	useMsgpack   bool
	useWebSocket bool
	streamBuffer int
	logger       *slog.Logger
}

var _ ports.ChatTransport = (*Client)(nil)

type Option func(*Client)

// WithWorkspace sets the workspace sent with calls that do not name one.
func WithWorkspace(workspaceID string) Option {
	return func(c *Client) {
		c.workspaceID = workspaceID
	}
}

// WithMsgpack requests message history as MessagePack.
func WithMsgpack(enabled bool) Option {
	return func(c *Client) {
		c.useMsgpack = enabled
	}
}

// WithWebSocket continues streams over WebSocket instead of SSE.
func WithWebSocket(enabled bool) Option {
	return func(c *Client) {
		c.useWebSocket = enabled
	}
}

func WithRetry(cfg retry.BackoffConfig) Option {
	return func(c *Client) {
		c.retryConfig = cfg
	}
}

func WithBreaker(b *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// WithHTTPClient replaces both the unary and the streaming HTTP clients.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.streamClient = hc
	}
}

func WithStreamBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.streamBuffer = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		workspaceID:  middleware.DefaultWorkspace,
		httpClient:   &http.Client{Timeout: RequestTimeout},
		streamClient: &http.Client{},
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		retryConfig:  retry.DefaultConfig(),
		streamBuffer: defaultStreamBuffer,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = circuitbreaker.New(5, 30*time.Second)
	}
	return c
}

func (c *Client) CreateConversation(ctx context.Context, in ports.CreateConversationInput) (*models.Conversation, error) {
	var conv models.Conversation
	body := dto.CreateConversationRequest{Title: in.Title, ModelID: in.ModelID}
	if err := c.call(ctx, "CreateConversation", in.WorkspaceID, http.MethodPost, "/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) ListConversations(ctx context.Context, workspaceID string) ([]*models.Conversation, error) {
	var resp dto.ConversationListResponse
	if err := c.call(ctx, "ListConversations", workspaceID, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// GetMessages returns every stored message of every branch.
func (c *Client) GetMessages(ctx context.Context, conversationID string) ([]*models.PersistedMessage, error) {
	var resp dto.MessageListResponse
	if err := c.call(ctx, "GetMessages", "", http.MethodGet, conversationPath(conversationID, "messages"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) UpdateConversation(ctx context.Context, conversationID string, patch models.ConversationPatch) (*models.Conversation, error) {
	var conv models.Conversation
	if err := c.call(ctx, "UpdateConversation", "", http.MethodPatch, conversationPath(conversationID, ""), patch, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.call(ctx, "DeleteConversation", "", http.MethodDelete, conversationPath(conversationID, ""), nil, nil)
}

func (c *Client) CancelStream(ctx context.Context, conversationID string) error {
	return c.call(ctx, "CancelStream", "", http.MethodPost, conversationPath(conversationID, "cancel"), nil, nil)
}

func (c *Client) GetStreamState(ctx context.Context, conversationID string) (*models.StreamState, error) {
	var state models.StreamState
	if err := c.call(ctx, "GetStreamState", "", http.MethodGet, conversationPath(conversationID, "stream"), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ChatCompletionStream starts a generation and returns its chunks. The
// request is not retried: the server rejects a replayed send as a
// duplicate.
func (c *Client) ChatCompletionStream(ctx context.Context, req ports.CompletionRequest) (<-chan models.StreamChunk, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion request: %w", err)
	}
	return c.openSSE(ctx, "ChatCompletionStream", req.ConversationID, http.MethodPost, conversationPath(req.ConversationID, "completions"), payload)
}

// ContinueStream replays the conversation's active generation from its
// first chunk and follows it to the end.
func (c *Client) ContinueStream(ctx context.Context, conversationID string) (<-chan models.StreamChunk, error) {
	if c.useWebSocket {
		return c.openWS(ctx, conversationID, conversationPath(conversationID, "stream/ws"))
	}
	return c.openSSE(ctx, "ContinueStream", conversationID, http.MethodGet, conversationPath(conversationID, "stream/continue"), nil)
}

// call performs one unary request with retry inside the circuit breaker.
// Rejections such as 404 or 409 do not count against the breaker.
func (c *Client) call(ctx context.Context, op, workspaceID, method, path string, body, out any) error {
	ctx, span := tracer.Start(ctx, "transport."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.route", path))

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	if err := c.breaker.Allow(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	err := retry.WithBackoff(ctx, c.retryConfig, func() error {
		return c.roundTrip(ctx, workspaceID, method, path, payload, out)
	})
	c.record(err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, workspaceID, method, path string, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, workspaceID, method, path, reader)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", encoding.ContentTypeJSON)
	}
	if c.useMsgpack {
		req.Header.Set("Accept", encoding.ContentTypeMsgpack+", "+encoding.ContentTypeJSON+";q=0.9")
	} else {
		req.Header.Set("Accept", encoding.ContentTypeJSON)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if encoding.IsMsgpack(resp.Header.Get("Content-Type")) {
		err = encoding.ReadMsgpack(resp.Body, out)
	} else {
		err = json.NewDecoder(resp.Body).Decode(out)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, workspaceID, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if workspaceID == "" {
		workspaceID = c.workspaceID
	}
	req.Header.Set(middleware.WorkspaceHeader, workspaceID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

func conversationPath(conversationID, suffix string) string {
	p := "/conversations/" + url.PathEscape(conversationID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// wsURL maps the client's http(s) base onto ws(s).
func (c *Client) wsURL(path string) string {
	u := c.baseURL + apiPrefix + path
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
