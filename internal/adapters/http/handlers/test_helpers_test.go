package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/longregen/chattree/internal/adapters/http/middleware"
	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
	"github.com/longregen/chattree/internal/ports"
)

// setURLParam adds a URL parameter to the request context (chi router style)
func setURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func withWorkspace(req *http.Request, workspaceID string) *http.Request {
	return req.WithContext(middleware.WithWorkspaceID(req.Context(), workspaceID))
}

type fakeConversations struct {
	convs    map[string]*models.Conversation
	messages map[string][]*models.PersistedMessage
	created  ports.CreateConversationInput
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		convs:    make(map[string]*models.Conversation),
		messages: make(map[string][]*models.PersistedMessage),
	}
}

func (f *fakeConversations) lookup(workspaceID, id string) (*models.Conversation, error) {
	c, ok := f.convs[id]
	if !ok || c.WorkspaceID != workspaceID {
		return nil, domain.ErrConversationNotFound
	}
	return c, nil
}

func (f *fakeConversations) Create(ctx context.Context, in ports.CreateConversationInput) (*models.Conversation, error) {
	f.created = in
	c := models.NewConversation("conv_new", in.WorkspaceID, in.Title, in.ModelID)
	f.convs[c.ID] = c
	return c, nil
}

func (f *fakeConversations) List(ctx context.Context, workspaceID string, limit, offset int) ([]*models.Conversation, error) {
	var out []*models.Conversation
	for _, c := range f.convs {
		if c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeConversations) Get(ctx context.Context, workspaceID, id string) (*models.Conversation, error) {
	return f.lookup(workspaceID, id)
}

func (f *fakeConversations) Update(ctx context.Context, workspaceID, id string, patch models.ConversationPatch) (*models.Conversation, error) {
	c, err := f.lookup(workspaceID, id)
	if err != nil {
		return nil, err
	}
	if err := c.Apply(patch); err != nil {
		return nil, domain.ErrInvalidInput
	}
	return c, nil
}

func (f *fakeConversations) Delete(ctx context.Context, workspaceID, id string) error {
	if _, err := f.lookup(workspaceID, id); err != nil {
		return err
	}
	delete(f.convs, id)
	return nil
}

func (f *fakeConversations) ListMessages(ctx context.Context, workspaceID, id string) ([]*models.PersistedMessage, error) {
	if _, err := f.lookup(workspaceID, id); err != nil {
		return nil, err
	}
	return f.messages[id], nil
}

func (f *fakeConversations) Siblings(ctx context.Context, workspaceID, messageID string) ([]*models.PersistedMessage, error) {
	for _, msgs := range f.messages {
		for _, m := range msgs {
			if m.ID == messageID {
				return []*models.PersistedMessage{m}, nil
			}
		}
	}
	return nil, domain.ErrMessageNotFound
}

type fakeCompletions struct {
	chunks []models.StreamChunk
	err    error
	got    ports.CompletionRequest
}

func (f *fakeCompletions) Execute(ctx context.Context, workspaceID string, req ports.CompletionRequest) (*ports.CompletionStream, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &ports.CompletionStream{
		UserMessage:      &models.PersistedMessage{ID: req.UserMessageID},
		AssistantMessage: &models.PersistedMessage{ID: req.AssistantMessageID},
		Chunks:           feed(f.chunks),
	}, nil
}

type fakeStreams struct {
	state     models.StreamState
	chunks    []models.StreamChunk
	err       error
	cancelled string
}

func (f *fakeStreams) State(ctx context.Context, workspaceID, id string) (*models.StreamState, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.state
	return &s, nil
}

func (f *fakeStreams) Continue(ctx context.Context, workspaceID, id string) (<-chan models.StreamChunk, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return feed(f.chunks), f.state.MessageID, nil
}

func (f *fakeStreams) Cancel(ctx context.Context, workspaceID, id string) error {
	f.cancelled = id
	return f.err
}

func feed(chunks []models.StreamChunk) <-chan models.StreamChunk {
	ch := make(chan models.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }
