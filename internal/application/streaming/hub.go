// Package streaming tracks in-flight generations so clients that reload can
// reattach to them.
package streaming

import (
	"context"
	"log/slog"
	"sync"

	"github.com/longregen/chattree/internal/adapters/metrics"
	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
)

const defaultSubscriberBuffer = 64

// Hub holds at most one active Stream per conversation.
type Hub struct {
	mu               sync.Mutex
	streams          map[string]*Stream
	subscriberBuffer int
	logger           *slog.Logger
}

type HubOption func(*Hub)

func WithSubscriberBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.subscriberBuffer = n
		}
	}
}

func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		streams:          make(map[string]*Stream),
		subscriberBuffer: defaultSubscriberBuffer,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start registers a generation for conversationID. cancel is invoked by
// Hub.Cancel to stop the producer.
func (h *Hub) Start(conversationID, messageID string, cancel context.CancelFunc) (*Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.streams[conversationID]; ok {
		return nil, domain.ErrStreamInProgress
	}

	s := &Stream{
		hub:            h,
		ConversationID: conversationID,
		MessageID:      messageID,
		cancel:         cancel,
		notify:         make(chan struct{}),
	}
	h.streams[conversationID] = s
	metrics.StreamsActive.Inc()
	h.logger.Debug("stream started", "conversation_id", conversationID, "message_id", messageID)
	return s, nil
}

// State reports whether conversationID has a generation in flight.
func (h *Hub) State(conversationID string) models.StreamState {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.streams[conversationID]; ok {
		return models.StreamState{IsStreaming: true, MessageID: s.MessageID}
	}
	return models.StreamState{}
}

// Subscribe replays every chunk of the active stream from the start and then
// follows it live. The channel closes after the terminal chunk or when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, conversationID string) (<-chan models.StreamChunk, string, error) {
	h.mu.Lock()
	s, ok := h.streams[conversationID]
	h.mu.Unlock()
	if !ok {
		return nil, "", domain.ErrNoActiveStream
	}
	return s.subscribe(ctx, h.subscriberBuffer), s.MessageID, nil
}

// Cancel stops the active generation of conversationID.
func (h *Hub) Cancel(conversationID string) error {
	h.mu.Lock()
	s, ok := h.streams[conversationID]
	h.mu.Unlock()
	if !ok {
		return domain.ErrNoActiveStream
	}
	s.cancel()
	return nil
}

// CancelAll stops every active generation. Used on shutdown.
func (h *Hub) CancelAll() int {
	h.mu.Lock()
	active := make([]*Stream, 0, len(h.streams))
	for _, s := range h.streams {
		active = append(active, s)
	}
	h.mu.Unlock()

	for _, s := range active {
		s.cancel()
	}
	return len(active)
}

func (h *Hub) remove(s *Stream) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.streams[s.ConversationID]; ok && cur == s {
		delete(h.streams, s.ConversationID)
		metrics.StreamsActive.Dec()
	}
}

// Stream is one generation. Its chunk log only grows; subscribers keep
// their own cursor into it.
type Stream struct {
	hub            *Hub
	ConversationID string
	MessageID      string
	cancel         context.CancelFunc

	mu     sync.Mutex
	chunks []models.StreamChunk
	done   bool
	notify chan struct{}
}

// Publish appends a chunk and wakes subscribers. Publishing after Finish is a no-op.
func (s *Stream) Publish(chunk models.StreamChunk) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.chunks = append(s.chunks, chunk)
	s.wakeLocked()
	s.mu.Unlock()
	metrics.StreamChunksTotal.Inc()
}

// Finish closes the log and unregisters the stream from its hub.
func (s *Stream) Finish() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.wakeLocked()
	s.mu.Unlock()

	s.hub.remove(s)
	s.hub.logger.Debug("stream finished", "conversation_id", s.ConversationID, "message_id", s.MessageID)
}

func (s *Stream) wakeLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *Stream) subscribe(ctx context.Context, buffer int) <-chan models.StreamChunk {
	out := make(chan models.StreamChunk, buffer)
	metrics.StreamSubscribers.Inc()

	go func() {
		defer close(out)
		defer metrics.StreamSubscribers.Dec()

		cursor := 0
		for {
			s.mu.Lock()
			pending := s.chunks[cursor:len(s.chunks):len(s.chunks)]
			done := s.done
			wait := s.notify
			s.mu.Unlock()

			for _, chunk := range pending {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
			cursor += len(pending)

			if len(pending) > 0 {
				continue
			}
			if done {
				return
			}
			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
