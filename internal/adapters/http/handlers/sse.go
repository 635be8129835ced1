package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/longregen/chattree/internal/adapters/http/dto"
	"github.com/longregen/chattree/internal/domain/models"
)

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sends the event-stream headers. It fails when the
// connection cannot be flushed incrementally.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) chunk(c models.StreamChunk) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.write("", data)
}

func (s *sseWriter) done() error {
	return s.write("", []byte(dto.SSEDone))
}

func (s *sseWriter) fail(cause error) error {
	data, err := json.Marshal(dto.StreamErrorEvent{Error: cause.Error()})
	if err != nil {
		return err
	}
	return s.write(dto.SSEEventError, data)
}

func (s *sseWriter) ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) write(event string, data []byte) error {
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// pipeSSE copies chunks to the client until the terminal chunk, a closed
// channel or a gone client. A keep-alive comment is sent every heartbeat.
func pipeSSE(ctx context.Context, sse *sseWriter, chunks <-chan models.StreamChunk, heartbeat time.Duration) error {
	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if err := sse.ping(); err != nil {
				return err
			}
		case c, ok := <-chunks:
			switch {
			case !ok:
				return sse.done()
			case c.Error != nil:
				return sse.fail(c.Error)
			case c.Done:
				return sse.done()
			default:
				if err := sse.chunk(c); err != nil {
					return err
				}
			}
		}
	}
}
