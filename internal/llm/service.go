package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/longregen/chattree/internal/adapters/circuitbreaker"
	"github.com/longregen/chattree/internal/adapters/metrics"
	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
	"github.com/longregen/chattree/internal/ports"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultTimeout is the maximum time a single generation may take
	DefaultTimeout = 5 * time.Minute
)

// Service implements ports.LLMService using the OpenAI-compatible client
type Service struct {
	client  *Client
	breaker *circuitbreaker.CircuitBreaker
	ids     ports.IDGenerator
	timeout time.Duration
	logger  *slog.Logger
}

type ServiceOption func(*Service)

func WithBreaker(b *circuitbreaker.CircuitBreaker) ServiceOption {
	return func(s *Service) {
		s.breaker = b
	}
}

// WithBreakerLimits opens the circuit after maxFailures consecutive
// failures and keeps it open for timeout.
func WithBreakerLimits(maxFailures int, timeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.breaker = circuitbreaker.New(maxFailures, timeout, circuitbreaker.WithStateChange(breakerGauge("llm")))
	}
}

func WithStreamTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.timeout = d
	}
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates a new LLM service. ids supplies tool-call ids for
// providers that omit them.
func NewService(client *Client, ids ports.IDGenerator, opts ...ServiceOption) *Service {
	s := &Service{
		client:  client,
		ids:     ids,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = circuitbreaker.New(5, 30*time.Second, circuitbreaker.WithStateChange(breakerGauge("llm")))
	}
	return s
}

func breakerGauge(name string) func(from, to circuitbreaker.State) {
	return func(_, to circuitbreaker.State) {
		metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	}
}

// ChatStream starts a streaming completion. The returned channel carries
// deltas and ends with exactly one Done or Error chunk before closing.
func (s *Service) ChatStream(parentCtx context.Context, model string, messages []models.InputMessage) (<-chan models.StreamChunk, error) {
	if err := s.breaker.Allow(); err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(s.modelLabel(model), "rejected").Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrLLMUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(parentCtx, s.timeout)
	start := time.Now()

	stream, span, err := s.client.OpenStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
	})
	if err != nil {
		cancel()
		s.breaker.Record(err)
		metrics.LLMRequestsTotal.WithLabelValues(s.modelLabel(model), "error").Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrLLMRequestFailed, err)
	}

	out := make(chan models.StreamChunk, 16)
	go func() {
		defer close(out)
		defer cancel()
		defer stream.Close()

		chunks, err := s.pump(ctx, stream, out)

		label := s.modelLabel(model)
		metrics.LLMRequestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		span.SetAttributes(attribute.Int("llm.response.chunks", chunks))

		switch {
		case err == nil:
			s.breaker.Record(nil)
			metrics.LLMRequestsTotal.WithLabelValues(label, "success").Inc()
			send(ctx, out, models.StreamChunk{Done: true})
		case errors.Is(err, context.Canceled):
			// caller went away; not the upstream's fault
			metrics.LLMRequestsTotal.WithLabelValues(label, "cancelled").Inc()
			send(ctx, out, models.StreamChunk{Error: err})
		default:
			s.breaker.Record(err)
			metrics.LLMRequestsTotal.WithLabelValues(label, "error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.WarnContext(ctx, "llm stream failed", "model", label, "error", err)
			send(ctx, out, models.StreamChunk{Error: fmt.Errorf("%w: %w", domain.ErrLLMRequestFailed, err)})
		}
		span.End()
	}()

	return out, nil
}

// pump forwards converted deltas until the upstream ends. A clean end
// returns nil.
func (s *Service) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- models.StreamChunk) (int, error) {
	conv := newDeltaConverter(s.ids)
	count := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return count, ctxErr
			}
			return count, err
		}

		chunk, ok := conv.convert(resp)
		if !ok {
			continue
		}
		if !send(ctx, out, chunk) {
			return count, ctx.Err()
		}
		count++
	}
}

// send delivers a chunk unless ctx ends first. Terminal chunks use a
// cancelled ctx too, so they may be dropped when nobody is listening.
func send(ctx context.Context, out chan<- models.StreamChunk, chunk models.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		select {
		case out <- chunk:
			return true
		default:
			return false
		}
	}
}

func (s *Service) modelLabel(model string) string {
	if model == "" {
		return s.client.Model
	}
	return model
}

func toOpenAIMessages(messages []models.InputMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}

// deltaConverter maps OpenAI stream deltas onto StreamChunks. OpenAI only
// sends a tool call's id on its first delta; later ones carry the index.
type deltaConverter struct {
	ids      ports.IDGenerator
	toolByIx map[int]string
}

func newDeltaConverter(ids ports.IDGenerator) *deltaConverter {
	return &deltaConverter{ids: ids, toolByIx: make(map[int]string)}
}

func (d *deltaConverter) convert(resp openai.ChatCompletionStreamResponse) (models.StreamChunk, bool) {
	if len(resp.Choices) == 0 {
		return models.StreamChunk{}, false
	}
	delta := resp.Choices[0].Delta

	chunk := models.StreamChunk{
		Role:      models.MessageRoleAssistant,
		Content:   delta.Content,
		Reasoning: delta.ReasoningContent,
	}

	for _, tc := range delta.ToolCalls {
		ix := 0
		if tc.Index != nil {
			ix = *tc.Index
		}
		if tc.ID != "" {
			d.toolByIx[ix] = tc.ID
		}
		id, ok := d.toolByIx[ix]
		if !ok {
			id = d.ids.GenerateToolCallID()
			d.toolByIx[ix] = id
		}
		chunk.ToolCalls = append(chunk.ToolCalls, models.ToolCallDelta{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	if chunk.Content == "" && chunk.Reasoning == "" && len(chunk.ToolCalls) == 0 {
		return models.StreamChunk{}, false
	}
	return chunk, true
}
