package handlers

import (
	"net/http"

	"github.com/longregen/chattree/internal/adapters/http/dto"
	"github.com/longregen/chattree/internal/adapters/http/middleware"
	"github.com/longregen/chattree/internal/domain/models"
	"github.com/longregen/chattree/internal/ports"
)

type ConversationsHandler struct {
	conversations ports.ConversationUseCase
}

func NewConversationsHandler(conversations ports.ConversationUseCase) *ConversationsHandler {
	return &ConversationsHandler{conversations: conversations}
}

// Create handles POST /api/v1/conversations
func (h *ConversationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[dto.CreateConversationRequest](r, w)
	if !ok {
		return
	}

	conv, err := h.conversations.Create(r.Context(), ports.CreateConversationInput{
		WorkspaceID: middleware.GetWorkspaceID(r.Context()),
		Title:       req.Title,
		ModelID:     req.ModelID,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, conv, http.StatusCreated)
}

// List handles GET /api/v1/conversations
func (h *ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 50)
	offset := parseIntQuery(r, "offset", 0)

	convs, err := h.conversations.List(r.Context(), middleware.GetWorkspaceID(r.Context()), limit, offset)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}
	respond(w, r, dto.ConversationListResponse{Conversations: convs, Limit: limit, Offset: offset}, http.StatusOK)
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Conversation ID")
	if !ok {
		return
	}

	conv, err := h.conversations.Get(r.Context(), middleware.GetWorkspaceID(r.Context()), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, conv, http.StatusOK)
}

// Patch handles PATCH /api/v1/conversations/{id}
func (h *ConversationsHandler) Patch(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Conversation ID")
	if !ok {
		return
	}
	patch, ok := decodeBody[models.ConversationPatch](r, w)
	if !ok {
		return
	}

	conv, err := h.conversations.Update(r.Context(), middleware.GetWorkspaceID(r.Context()), id, *patch)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, conv, http.StatusOK)
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Conversation ID")
	if !ok {
		return
	}

	if err := h.conversations.Delete(r.Context(), middleware.GetWorkspaceID(r.Context()), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /api/v1/conversations/{id}/messages. Every branch
// is returned; the client picks the head.
func (h *ConversationsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Conversation ID")
	if !ok {
		return
	}
	workspaceID := middleware.GetWorkspaceID(r.Context())

	conv, err := h.conversations.Get(r.Context(), workspaceID, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	msgs, err := h.conversations.ListMessages(r.Context(), workspaceID, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*models.PersistedMessage{}
	}

	respond(w, r, dto.MessageListResponse{
		ConversationID: conv.ID,
		TipMessageID:   conv.TipMessageID,
		Messages:       msgs,
	}, http.StatusOK)
}

// Siblings handles GET /api/v1/messages/{id}/siblings
func (h *ConversationsHandler) Siblings(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Message ID")
	if !ok {
		return
	}

	siblings, err := h.conversations.Siblings(r.Context(), middleware.GetWorkspaceID(r.Context()), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, siblings, http.StatusOK)
}
