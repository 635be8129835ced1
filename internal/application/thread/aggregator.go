package thread

import (
	"context"
	"log/slog"
	"sync"

	"github.com/longregen/chattree/internal/domain/models"
)

// State is the lifecycle of one aggregation.
type State int

const (
	StateAccumulating State = iota
	StateComplete
	StateError
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Aggregator folds stream chunks into one target message. The target's
// Content is replaced with the visible parts after every chunk; the working
// list, which may hold still-empty parts, stays private.
type Aggregator struct {
	mu     sync.Locker
	msg    *models.Message
	parts  []models.ContentPart
	state  State
	logger *slog.Logger

	// tool results that arrived before their tool-call part
	pending map[string]string
}

type AggregatorOption func(*Aggregator)

// WithLocker makes the aggregator take l around every write to the target.
func WithLocker(l sync.Locker) AggregatorOption {
	return func(a *Aggregator) {
		a.mu = l
	}
}

func WithLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

func NewAggregator(msg *models.Message, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		mu:      &sync.Mutex{},
		msg:     msg,
		logger:  slog.Default(),
		pending: make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Message returns the target message.
func (a *Aggregator) Message() *models.Message {
	return a.msg
}

func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Apply reduces one chunk into the target. Chunks received after a
// terminal state are ignored.
func (a *Aggregator) Apply(chunk models.StreamChunk) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apply(chunk)
}

func (a *Aggregator) apply(chunk models.StreamChunk) {
	if a.state != StateAccumulating {
		return
	}

	switch {
	case chunk.IsRoundMarker(), isEmptyChunk(chunk):
		return
	case chunk.IsToolResult():
		a.attachResult(chunk.ToolCallID, chunk.Content)
	default:
		if chunk.Reasoning != "" {
			a.appendReasoning(chunk.Reasoning)
		}
		if chunk.Content != "" && chunk.Role != models.MessageRoleTool {
			a.appendText(chunk.Content)
		}
		for _, tc := range chunk.ToolCalls {
			a.mergeToolCall(tc)
		}
	}

	a.msg.Content = models.VisibleParts(a.parts)
}

func isEmptyChunk(c models.StreamChunk) bool {
	return c.Content == "" && c.Reasoning == "" && len(c.ToolCalls) == 0 && c.ToolCallID == ""
}

func (a *Aggregator) appendReasoning(text string) {
	if n := len(a.parts); n > 0 {
		if last, ok := a.parts[n-1].(*models.ReasoningPart); ok {
			last.Text += text
			return
		}
	}
	a.parts = append(a.parts, &models.ReasoningPart{Text: text})
}

func (a *Aggregator) appendText(text string) {
	if n := len(a.parts); n > 0 {
		if last, ok := a.parts[n-1].(*models.TextPart); ok {
			last.Text += text
			return
		}
	}
	a.parts = append(a.parts, &models.TextPart{Text: text})
}

func (a *Aggregator) mergeToolCall(delta models.ToolCallDelta) {
	part := a.findToolCall(delta.ID)
	if part == nil {
		part = &models.ToolCallPart{ToolCallID: delta.ID}
		a.parts = append(a.parts, part)
		if result, ok := a.pending[delta.ID]; ok && delta.ID != "" {
			part.SetResult(result)
			delete(a.pending, delta.ID)
		}
	}
	if delta.Name != "" && part.ToolName == "" {
		part.ToolName = delta.Name
	}
	part.ArgsText += delta.Arguments
}

// findToolCall searches newest first. An empty id continues the most
// recent tool call.
func (a *Aggregator) findToolCall(id string) *models.ToolCallPart {
	for i := len(a.parts) - 1; i >= 0; i-- {
		tc, ok := a.parts[i].(*models.ToolCallPart)
		if !ok {
			continue
		}
		if id == "" || tc.ToolCallID == id {
			return tc
		}
	}
	return nil
}

func (a *Aggregator) attachResult(toolCallID, result string) {
	if tc := a.findToolCall(toolCallID); tc != nil {
		tc.SetResult(result)
		return
	}
	a.logger.Warn("tool result arrived before its tool call, buffering",
		"message_id", a.msg.ID,
		"tool_call_id", toolCallID)
	a.pending[toolCallID] = result
}

// Complete freezes the target with status complete.
func (a *Aggregator) Complete() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateAccumulating {
		return
	}
	a.state = StateComplete
	a.msg.Status = models.MessageStatusComplete
	if len(a.pending) > 0 {
		a.logger.Warn("dropping tool results with no matching tool call",
			"message_id", a.msg.ID,
			"count", len(a.pending))
	}
}

// Fail replaces the content with a single error text part.
func (a *Aggregator) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateAccumulating {
		return
	}
	a.state = StateError
	a.msg.Content = []models.ContentPart{&models.TextPart{Text: ErrorText(err)}}
	a.msg.Status = models.MessageStatusError
}

// Cancel stops accumulation and leaves the status as it was.
func (a *Aggregator) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateAccumulating {
		a.state = StateCancelled
	}
}

// Consume drains ch into the target until the stream ends, fails or ctx is
// cancelled. onUpdate, if set, receives a copy of the target after each
// applied chunk and is called without the lock held.
func (a *Aggregator) Consume(ctx context.Context, ch <-chan models.StreamChunk, onUpdate func(*models.Message)) error {
	for {
		select {
		case <-ctx.Done():
			a.Cancel()
			return ctx.Err()
		case chunk, ok := <-ch:
			// a close after cancellation is not a completion
			if ctx.Err() != nil {
				a.Cancel()
				return ctx.Err()
			}
			if !ok {
				a.Complete()
				a.notify(onUpdate)
				return nil
			}
			if chunk.Error != nil {
				a.Fail(chunk.Error)
				a.notify(onUpdate)
				return chunk.Error
			}
			a.Apply(chunk)
			if chunk.Done {
				a.Complete()
			}
			a.notify(onUpdate)
			if chunk.Done {
				return nil
			}
		}
	}
}

func (a *Aggregator) notify(onUpdate func(*models.Message)) {
	if onUpdate == nil {
		return
	}
	a.mu.Lock()
	snapshot := a.msg.Clone()
	a.mu.Unlock()
	onUpdate(snapshot)
}

// ErrorText is the text shown in place of a failed message's content.
func ErrorText(err error) string {
	return "Error: " + err.Error()
}
