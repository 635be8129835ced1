package usecases

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
)

// ============================================================================
// Common mock implementations shared across tests
// ============================================================================

type mockConversationRepo struct {
	mu    sync.Mutex
	store map[string]*models.Conversation
}

func newMockConversationRepo() *mockConversationRepo {
	return &mockConversationRepo{store: make(map[string]*models.Conversation)}
}

func copyConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	if c.TipMessageID != nil {
		tip := *c.TipMessageID
		cp.TipMessageID = &tip
	}
	return &cp
}

func (m *mockConversationRepo) Create(ctx context.Context, c *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[c.ID] = copyConversation(c)
	return nil
}

func (m *mockConversationRepo) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return copyConversation(c), nil
}

func (m *mockConversationRepo) Update(ctx context.Context, c *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[c.ID]; !ok {
		return domain.ErrConversationNotFound
	}
	m.store[c.ID] = copyConversation(c)
	return nil
}

func (m *mockConversationRepo) UpdateTip(ctx context.Context, conversationID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[conversationID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	c.SetTip(messageID)
	return nil
}

func (m *mockConversationRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok {
		return domain.ErrConversationNotFound
	}
	return c.MarkAsDeleted()
}

func (m *mockConversationRepo) ListByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Conversation
	for _, c := range m.store {
		if c.WorkspaceID == workspaceID && c.Status != models.ConversationStatusDeleted {
			out = append(out, copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockMessageRepo struct {
	mu    sync.Mutex
	store map[string]*models.PersistedMessage
	order []string

	// updated is signalled after each UpdateParts call
	updated chan string
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{
		store:   make(map[string]*models.PersistedMessage),
		updated: make(chan string, 16),
	}
}

func copyPersisted(msg *models.PersistedMessage) *models.PersistedMessage {
	cp := *msg
	cp.Parts = append([]models.PersistedPart(nil), msg.Parts...)
	if msg.ParentID != nil {
		parent := *msg.ParentID
		cp.ParentID = &parent
	}
	return &cp
}

func (m *mockMessageRepo) put(msg *models.PersistedMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[msg.ID] = copyPersisted(msg)
	m.order = append(m.order, msg.ID)
}

func (m *mockMessageRepo) get(id string) *models.PersistedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.store[id]; ok {
		return copyPersisted(msg)
	}
	return nil
}

func (m *mockMessageRepo) Create(ctx context.Context, msg *models.PersistedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[msg.ID]; ok {
		return fmt.Errorf("duplicate key %s", msg.ID)
	}
	m.store[msg.ID] = copyPersisted(msg)
	m.order = append(m.order, msg.ID)
	return nil
}

func (m *mockMessageRepo) GetByID(ctx context.Context, id string) (*models.PersistedMessage, error) {
	if msg := m.get(id); msg != nil {
		return msg, nil
	}
	return nil, domain.ErrMessageNotFound
}

func (m *mockMessageRepo) GetByConversation(ctx context.Context, conversationID string) ([]*models.PersistedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PersistedMessage
	for _, id := range m.order {
		if msg := m.store[id]; msg.ConversationID == conversationID {
			out = append(out, copyPersisted(msg))
		}
	}
	return out, nil
}

func (m *mockMessageRepo) GetChain(ctx context.Context, messageID string) ([]*models.PersistedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var chain []*models.PersistedMessage
	cur, ok := m.store[messageID]
	for ok {
		chain = append([]*models.PersistedMessage{copyPersisted(cur)}, chain...)
		if cur.ParentID == nil {
			break
		}
		cur, ok = m.store[*cur.ParentID]
	}
	return chain, nil
}

func (m *mockMessageRepo) GetSiblings(ctx context.Context, messageID string) ([]*models.PersistedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.store[messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	var out []*models.PersistedMessage
	for _, id := range m.order {
		msg := m.store[id]
		if msg.ConversationID == target.ConversationID && sameParent(msg.ParentID, target.ParentID) {
			out = append(out, copyPersisted(msg))
		}
	}
	return out, nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *mockMessageRepo) UpdateParts(ctx context.Context, id string, parts []models.PersistedPart, status models.PersistedStatus) error {
	m.mu.Lock()
	msg, ok := m.store[id]
	if ok {
		msg.Parts = append([]models.PersistedPart(nil), parts...)
		msg.Status = status
		msg.UpdatedAt = time.Now().UTC()
	}
	m.mu.Unlock()
	if !ok {
		return domain.ErrMessageNotFound
	}
	select {
	case m.updated <- id:
	default:
	}
	return nil
}

func (m *mockMessageRepo) MarkStreamingAsError(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.store {
		if msg.Status == models.PersistedStatusStreaming {
			msg.Status = models.PersistedStatusError
			n++
		}
	}
	return n, nil
}

// waitUpdated blocks until UpdateParts has been called for id.
func (m *mockMessageRepo) waitUpdated(id string) bool {
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-m.updated:
			if got == id {
				return true
			}
		case <-timeout:
			return false
		}
	}
}

type mockTxManager struct {
	calls int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

type mockIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func (m *mockIDGenerator) next(prefix string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return fmt.Sprintf("%s_%d", prefix, m.counter)
}

func (m *mockIDGenerator) GenerateConversationID() string { return m.next("conv") }
func (m *mockIDGenerator) GenerateMessageID() string      { return m.next("msg") }
func (m *mockIDGenerator) GenerateToolCallID() string     { return m.next("tc") }

// mockLLMService replays scripted chunks. When hold is set it blocks after
// the scripted chunks until the context ends.
type mockLLMService struct {
	mu       sync.Mutex
	chunks   []models.StreamChunk
	err      error
	hold     bool
	started  chan struct{}
	model    string
	messages []models.InputMessage
}

func newMockLLMService(chunks ...models.StreamChunk) *mockLLMService {
	return &mockLLMService{chunks: chunks, started: make(chan struct{}, 1)}
}

func (m *mockLLMService) ChatStream(ctx context.Context, model string, messages []models.InputMessage) (<-chan models.StreamChunk, error) {
	m.mu.Lock()
	m.model = model
	m.messages = messages
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	out := make(chan models.StreamChunk)
	go func() {
		defer close(out)
		for _, c := range m.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		select {
		case m.started <- struct{}{}:
		default:
		}
		if m.hold {
			<-ctx.Done()
			out <- models.StreamChunk{Error: ctx.Err()}
			return
		}
		out <- models.StreamChunk{Done: true}
	}()
	return out, nil
}

func (m *mockLLMService) lastRequest() (string, []models.InputMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model, m.messages
}
