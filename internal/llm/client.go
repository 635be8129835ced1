// Package llm talks to an OpenAI-compatible chat completions endpoint.
package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.GetTracerProvider().Tracer("chattree/llm")

// Config holds the configuration for the LLM client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	HTTPClient  *http.Client
	Transport   http.RoundTripper
	// Timeout bounds the whole HTTP exchange, streaming included.
	Timeout time.Duration
}

// Option configures a Config.
type Option func(*Config)

func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

func WithMaxTokens(maxTokens int) Option {
	return func(c *Config) {
		c.MaxTokens = maxTokens
	}
}

func WithTemperature(t float64) Option {
	return func(c *Config) {
		c.Temperature = float32(t)
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithTransport sets a custom HTTP transport.
// This is ignored if WithHTTPClient is also used.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Config) {
		c.Transport = rt
	}
}

// WithTimeout sets the HTTP client timeout.
// This is ignored if WithHTTPClient is also used.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// Client wraps the OpenAI client with configuration metadata.
type Client struct {
	api         *openai.Client
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// NewClient creates an OpenAI-compatible client.
// BaseURL should be the full API base URL (e.g., "http://localhost:8000/v1").
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	cfg := &Config{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		APIKey:    apiKey,
		Model:     "gpt-4o-mini",
		MaxTokens: 4096,
		Timeout:   5 * time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	openaiCfg := openai.DefaultConfig(cfg.APIKey)
	openaiCfg.BaseURL = cfg.BaseURL

	if cfg.HTTPClient != nil {
		openaiCfg.HTTPClient = cfg.HTTPClient
	} else {
		transport := cfg.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		openaiCfg.HTTPClient = &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		}
	}

	return &Client{
		api:         openai.NewClientWithConfig(openaiCfg),
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}

// OpenStream starts a streaming chat completion inside an "llm.chat_stream"
// span. The span is returned open; the caller ends it when the stream does.
func (c *Client) OpenStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, trace.Span, error) {
	if req.Model == "" {
		req.Model = c.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = c.Temperature
	}
	req.Stream = true

	ctx, span := tracer.Start(ctx, "llm.chat_stream", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.request.max_tokens", req.MaxTokens),
		attribute.Int("llm.request.messages", len(req.Messages)),
	)
	if req.Temperature > 0 {
		span.SetAttributes(attribute.Float64("llm.request.temperature", float64(req.Temperature)))
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, nil, err
	}
	return stream, span, nil
}
