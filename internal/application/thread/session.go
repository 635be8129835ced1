package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
	"github.com/longregen/chattree/internal/ports"
)

const maxTitleLength = 60

// Options configures a Session.
type Options struct {
	WorkspaceID string
	Model       string
	Logger      *slog.Logger
	// OnUpdate receives a copy of the streaming message after every change.
	// It runs on the stream goroutine.
	OnUpdate func(*models.Message)
}

// Session owns one conversation's message tree and at most one active
// stream into it. All methods are safe for concurrent use.
type Session struct {
	transport   ports.ChatTransport
	ids         ports.IDGenerator
	logger      *slog.Logger
	workspaceID string
	model       string
	onUpdate    func(*models.Message)

	mu             sync.Mutex
	tree           *Tree
	conversationID string
	running        bool
	streamingID    string
	cancel         context.CancelFunc
	done           chan struct{}
}

func NewSession(transport ports.ChatTransport, ids ports.IDGenerator, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		transport:   transport,
		ids:         ids,
		logger:      logger,
		workspaceID: opts.WorkspaceID,
		model:       opts.Model,
		onUpdate:    opts.OnUpdate,
		tree:        NewTree(),
	}
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// IsRunning reports whether a stream is being aggregated.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Messages returns copies of every message in insertion order.
func (s *Session) Messages() []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.tree.Messages())
}

// Message returns a copy of one message.
func (s *Session) Message(id string) (*models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tree.Get(id)
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// ActivePath returns copies of the displayed branch, root first.
func (s *Session) ActivePath() []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.tree.ActivePath())
}

func (s *Session) Head() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Head()
}

// Siblings returns copies of the alternatives to id, id included.
func (s *Session) Siblings(id string) []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.tree.Siblings(id))
}

// SwitchBranch displays the branch through id, descending to its most
// recent leaf.
func (s *Session) SwitchBranch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	leaf := s.tree.LatestLeafUnder(id)
	if leaf == "" {
		return fmt.Errorf("%w: %s", domain.ErrMessageNotFound, id)
	}
	return s.tree.SetHead(leaf)
}

// Append sends text as a new turn after the displayed branch.
func (s *Session) Append(ctx context.Context, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyContent
	}
	if err := s.reserve(); err != nil {
		return nil, err
	}
	convID, err := s.ensureConversation(ctx, text)
	if err != nil {
		s.release()
		return nil, err
	}

	s.mu.Lock()
	path := s.tree.ActivePath()
	var parentID *string
	if n := len(path); n > 0 {
		last := path[n-1].ID
		parentID = &last
	}
	user := models.NewUserMessage(s.ids.GenerateMessageID(), parentID, text)
	assistant := models.NewAssistantPlaceholder(s.ids.GenerateMessageID(), &user.ID)
	if err := s.insertPair(user, assistant); err != nil {
		s.mu.Unlock()
		s.release()
		return nil, err
	}
	req := ports.CompletionRequest{
		ConversationID:     convID,
		Model:              s.model,
		Messages:           InputMessages(append(path, user)),
		ParentID:           parentID,
		UserMessageID:      user.ID,
		AssistantMessageID: assistant.ID,
	}
	s.mu.Unlock()

	s.startStream(ctx, assistant, func(ctx context.Context) (<-chan models.StreamChunk, error) {
		return s.transport.ChatCompletionStream(ctx, req)
	})
	return s.snapshot(assistant.ID), nil
}

// Edit adds a revised user message as a sibling of messageID and streams
// a reply to it. The original message is left untouched.
func (s *Session) Edit(ctx context.Context, messageID, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyContent
	}

	s.mu.Lock()
	original, ok := s.tree.Get(messageID)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMessageNotFound, messageID)
	}
	if original.Role != models.MessageRoleUser {
		return nil, domain.ErrNotEditable
	}

	if err := s.reserve(); err != nil {
		return nil, err
	}
	convID, err := s.ensureConversation(ctx, text)
	if err != nil {
		s.release()
		return nil, err
	}

	s.mu.Lock()
	parentID := copyID(original.ParentID)
	var history []*models.Message
	if parentID != nil {
		history = s.tree.PathTo(*parentID)
	}
	user := models.NewUserMessage(s.ids.GenerateMessageID(), parentID, text)
	assistant := models.NewAssistantPlaceholder(s.ids.GenerateMessageID(), &user.ID)
	if err := s.insertPair(user, assistant); err != nil {
		s.mu.Unlock()
		s.release()
		return nil, err
	}
	req := ports.CompletionRequest{
		ConversationID:     convID,
		Model:              s.model,
		Messages:           InputMessages(append(history, user)),
		Action:             models.ActionEdit,
		SourceMessageID:    messageID,
		ParentID:           parentID,
		UserMessageID:      user.ID,
		AssistantMessageID: assistant.ID,
	}
	s.mu.Unlock()

	s.startStream(ctx, assistant, func(ctx context.Context) (<-chan models.StreamChunk, error) {
		return s.transport.ChatCompletionStream(ctx, req)
	})
	return s.snapshot(assistant.ID), nil
}

// Regenerate streams a new assistant reply as a sibling of messageID. An
// empty messageID targets the last assistant message on the displayed branch.
func (s *Session) Regenerate(ctx context.Context, messageID string) (*models.Message, error) {
	s.mu.Lock()
	if messageID == "" {
		messageID = lastAssistant(s.tree.ActivePath())
	}
	original, ok := s.tree.Get(messageID)
	convID := s.conversationID
	s.mu.Unlock()

	if messageID == "" {
		return nil, domain.ErrNoMessageToReplace
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMessageNotFound, messageID)
	}
	if original.Role != models.MessageRoleAssistant {
		return nil, domain.ErrNotRegenerable
	}
	if convID == "" {
		return nil, domain.ErrConversationNotFound
	}
	if err := s.reserve(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	parentID := copyID(original.ParentID)
	var history []*models.Message
	if parentID != nil {
		history = s.tree.PathTo(*parentID)
	}
	assistant := models.NewAssistantPlaceholder(s.ids.GenerateMessageID(), parentID)
	if err := s.tree.Insert(assistant); err != nil {
		s.mu.Unlock()
		s.release()
		return nil, err
	}
	s.tree.ClearHead()
	req := ports.CompletionRequest{
		ConversationID:     convID,
		Model:              s.model,
		Messages:           InputMessages(history),
		Action:             models.ActionRegenerate,
		SourceMessageID:    messageID,
		ParentID:           parentID,
		AssistantMessageID: assistant.ID,
	}
	s.mu.Unlock()

	s.startStream(ctx, assistant, func(ctx context.Context) (<-chan models.StreamChunk, error) {
		return s.transport.ChatCompletionStream(ctx, req)
	})
	return s.snapshot(assistant.ID), nil
}

// Cancel aborts the active stream locally and asks the transport to stop
// generating. Transport failures are logged, not returned.
func (s *Session) Cancel(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	convID := s.conversationID
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	if convID == "" {
		return
	}
	if err := s.transport.CancelStream(ctx, convID); err != nil {
		s.logger.WarnContext(ctx, "failed to cancel stream on transport",
			"conversation_id", convID,
			"error", err)
	}
}

// Wait blocks until the active stream, if any, has finished.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Load replaces the tree with conversationID's stored history and, if the
// transport still has a generation in flight, re-attaches to it.
func (s *Session) Load(ctx context.Context, conversationID string) error {
	if err := s.reserve(); err != nil {
		return err
	}

	state, err := s.transport.GetStreamState(ctx, conversationID)
	if err != nil {
		s.logger.WarnContext(ctx, "stream state unavailable, assuming no active stream",
			"conversation_id", conversationID,
			"error", err)
		state = nil
	}

	persisted, err := s.transport.GetMessages(ctx, conversationID)
	if err != nil {
		s.release()
		return fmt.Errorf("failed to load messages: %w", err)
	}
	tree, err := NewTreeFrom(FromPersistedList(persisted))
	if err != nil {
		s.release()
		return fmt.Errorf("failed to build message tree: %w", err)
	}

	s.mu.Lock()
	s.tree = tree
	s.conversationID = conversationID

	if state == nil || !state.IsStreaming {
		s.mu.Unlock()
		s.release()
		return nil
	}

	target := s.resumeTarget(state.MessageID)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "resuming active stream",
		"conversation_id", conversationID,
		"message_id", target.ID)
	s.startStream(ctx, target, func(ctx context.Context) (<-chan models.StreamChunk, error) {
		return s.transport.ContinueStream(ctx, conversationID)
	})
	return nil
}

// resumeTarget finds the assistant message a resumed stream writes into, or
// inserts a placeholder for it after the displayed branch. Caller holds mu.
func (s *Session) resumeTarget(messageID string) *models.Message {
	if m, ok := s.tree.Get(messageID); ok && m.Role == models.MessageRoleAssistant {
		m.Status = models.MessageStatusRunning
		return m
	}
	if _, exists := s.tree.Get(messageID); messageID == "" || exists {
		messageID = s.ids.GenerateMessageID()
	}
	var parentID *string
	if path := s.tree.ActivePath(); len(path) > 0 {
		last := path[len(path)-1].ID
		parentID = &last
	}
	placeholder := models.NewAssistantPlaceholder(messageID, parentID)
	_ = s.tree.Insert(placeholder)
	return placeholder
}

func (s *Session) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return domain.ErrStreamInProgress
	}
	s.running = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// ensureConversation lazily creates the conversation on first send.
func (s *Session) ensureConversation(ctx context.Context, firstText string) (string, error) {
	s.mu.Lock()
	convID := s.conversationID
	s.mu.Unlock()
	if convID != "" {
		return convID, nil
	}

	conv, err := s.transport.CreateConversation(ctx, ports.CreateConversationInput{
		WorkspaceID: s.workspaceID,
		Title:       titleFromText(firstText),
		ModelID:     s.model,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create conversation", "error", err)
		return "", fmt.Errorf("%w: %w", domain.ErrConversationCreate, err)
	}
	if conv == nil || conv.ID == "" {
		return "", fmt.Errorf("%w: transport returned no conversation id", domain.ErrConversationCreate)
	}

	s.mu.Lock()
	s.conversationID = conv.ID
	s.mu.Unlock()
	return conv.ID, nil
}

// insertPair adds a user message and its assistant placeholder and lets
// auto-detection display them. Caller holds mu.
func (s *Session) insertPair(user, assistant *models.Message) error {
	if err := s.tree.Insert(user); err != nil {
		return err
	}
	if err := s.tree.Insert(assistant); err != nil {
		return err
	}
	s.tree.ClearHead()
	return nil
}

type openFunc func(ctx context.Context) (<-chan models.StreamChunk, error)

// startStream runs one aggregation on its own goroutine. The stream
// outlives the caller's ctx and ends only through Cancel, completion or a
// transport error.
func (s *Session) startStream(ctx context.Context, target *models.Message, open openFunc) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.streamingID = target.ID
	s.done = done
	s.mu.Unlock()

	agg := NewAggregator(target, WithLocker(&s.mu), WithLogger(s.logger))

	go func() {
		defer close(done)
		defer s.finishStream(cancel)

		ch, err := open(streamCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				agg.Cancel()
				return
			}
			s.logger.ErrorContext(streamCtx, "failed to start stream",
				"message_id", target.ID,
				"error", err)
			agg.Fail(err)
			agg.notify(s.onUpdate)
			return
		}

		if err := agg.Consume(streamCtx, ch, s.onUpdate); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.ErrorContext(streamCtx, "stream failed",
				"message_id", target.ID,
				"error", err)
		}
	}()
}

func (s *Session) finishStream(cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.cancel = nil
	s.streamingID = ""
}

// StreamingMessageID returns the id of the message being streamed into, or "".
func (s *Session) StreamingMessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamingID
}

func (s *Session) snapshot(id string) *models.Message {
	m, _ := s.Message(id)
	return m
}

func lastAssistant(path []*models.Message) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Role == models.MessageRoleAssistant {
			return path[i].ID
		}
	}
	return ""
}

func copyID(id *string) *string {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func cloneAll(msgs []*models.Message) []*models.Message {
	out := make([]*models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func titleFromText(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(title) <= maxTitleLength {
		return title
	}
	runes := []rune(title)
	return string(runes[:maxTitleLength]) + "..."
}
