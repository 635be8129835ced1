package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/chattree/internal/adapters/http/dto"
	"github.com/longregen/chattree/internal/adapters/http/encoding"
	"github.com/longregen/chattree/internal/adapters/http/middleware"
	"github.com/longregen/chattree/internal/adapters/tracing"
	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
)

const maxSSELine = 4 << 20

// openSSE issues a streaming request and parses the event stream on its
// own goroutine. The span ends with the stream.
func (c *Client) openSSE(ctx context.Context, op, conversationID, method, path string, payload []byte) (<-chan models.StreamChunk, error) {
	ctx, span := tracer.Start(ctx, "transport."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.ConversationID(conversationID)))

	if err := c.breaker.Allow(); err != nil {
		endSpan(span, err)
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, "", method, path, body)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", encoding.ContentTypeJSON)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	c.record(err)
	if err != nil {
		endSpan(span, err)
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := readAPIError(resp)
		resp.Body.Close()
		endSpan(span, apiErr)
		return nil, apiErr
	}
	if messageID := resp.Header.Get("X-Message-ID"); messageID != "" {
		span.SetAttributes(tracing.MessageID(messageID))
	}

	out := make(chan models.StreamChunk, c.streamBuffer)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		n, err := readSSE(ctx, resp.Body, out)
		span.SetAttributes(tracing.ChunkCount(n))
		if err != nil && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "stream ended abnormally",
				"conversation_id", conversationID,
				"error", err)
			send(ctx, out, models.StreamChunk{Error: err})
		}
		endSpan(span, err)
	}()
	return out, nil
}

func (c *Client) record(err error) {
	if countsAsFailure(err) {
		c.breaker.Record(err)
		return
	}
	c.breaker.Record(nil)
}

// readSSE forwards every chunk event to out until a terminal event. It
// returns the number of chunks forwarded and an error when the stream
// ended without [DONE] or an error event.
func readSSE(ctx context.Context, body io.Reader, out chan<- models.StreamChunk) (int, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxSSELine)

	var (
		event string
		data  strings.Builder
		count int
	)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				event = ""
				continue
			}
			chunk, terminal, err := decodeEvent(event, data.String())
			event = ""
			data.Reset()
			if err != nil {
				return count, err
			}
			if !send(ctx, out, chunk) {
				return count, ctx.Err()
			}
			if terminal {
				return count, nil
			}
			count++
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("failed to read stream: %w", err)
	}
	return count, domain.ErrStreamClosed
}

func decodeEvent(event, data string) (models.StreamChunk, bool, error) {
	if event == dto.SSEEventError {
		var payload dto.StreamErrorEvent
		if err := json.Unmarshal([]byte(data), &payload); err != nil || payload.Error == "" {
			return models.StreamChunk{Error: errors.New(data)}, true, nil
		}
		return models.StreamChunk{Error: errors.New(payload.Error)}, true, nil
	}
	if data == dto.SSEDone {
		return models.StreamChunk{Done: true}, true, nil
	}

	var chunk models.StreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return chunk, false, fmt.Errorf("malformed stream chunk: %w", err)
	}
	return chunk, false, nil
}

// openWS continues a stream over WebSocket. Closing ctx closes the
// connection.
func (c *Client) openWS(ctx context.Context, conversationID, path string) (<-chan models.StreamChunk, error) {
	ctx, span := tracer.Start(ctx, "transport.ContinueStream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.ConversationID(conversationID), attribute.String("transport.protocol", "websocket")))

	if err := c.breaker.Allow(); err != nil {
		endSpan(span, err)
		return nil, err
	}

	header := http.Header{}
	header.Set(middleware.WorkspaceHeader, c.workspaceID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))

	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL(path), header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			apiErr := readAPIError(resp)
			c.record(apiErr)
			endSpan(span, apiErr)
			return nil, apiErr
		}
		c.record(err)
		endSpan(span, err)
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}
	c.record(nil)

	out := make(chan models.StreamChunk, c.streamBuffer)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	go func() {
		defer close(out)
		defer conn.Close()
		defer close(stop)

		n, err := readWS(ctx, conn, out)
		span.SetAttributes(tracing.ChunkCount(n))
		if err != nil && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "websocket stream ended abnormally",
				"conversation_id", conversationID,
				"error", err)
			send(ctx, out, models.StreamChunk{Error: err})
		}
		endSpan(span, err)
	}()
	return out, nil
}

func readWS(ctx context.Context, conn *websocket.Conn, out chan<- models.StreamChunk) (int, error) {
	count := 0
	for {
		var frame dto.StreamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return count, domain.ErrStreamClosed
			}
			return count, fmt.Errorf("failed to read frame: %w", err)
		}

		var chunk models.StreamChunk
		terminal := false
		switch frame.Type {
		case dto.FrameChunk:
			if frame.Chunk == nil {
				continue
			}
			chunk = *frame.Chunk
		case dto.FrameDone:
			chunk, terminal = models.StreamChunk{Done: true}, true
		case dto.FrameError:
			chunk, terminal = models.StreamChunk{Error: errors.New(frame.Error)}, true
		default:
			continue
		}

		if !send(ctx, out, chunk) {
			return count, ctx.Err()
		}
		if terminal {
			return count, nil
		}
		count++
	}
}

func send(ctx context.Context, out chan<- models.StreamChunk, chunk models.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
