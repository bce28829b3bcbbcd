package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/roomly/connect/internal/api/respond"
	"github.com/roomly/connect/internal/model"
	"github.com/roomly/connect/internal/services"
)

// ConversationHandler is the HTTP transport over ConversationService. The
// {userId} path segment is the authenticated identity injected by the
// upstream auth layer; this service only authorizes, never authenticates.
type ConversationHandler struct {
	svc *services.ConversationService
}

func NewConversationHandler(svc *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// ListConversations GET /api/users/{userId}/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	convs, err := h.svc.ListConversations(r.Context(), userID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"count":         len(convs),
	})
}

// StartConversation POST /api/users/{userId}/conversations
func (h *ConversationHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	var req struct {
		OtherUserID string  `json:"otherUserId"`
		ListingID   *string `json:"listingId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid JSON")
		return
	}
	conv, err := h.svc.GetOrCreateConversation(r.Context(), userID, req.OtherUserID, req.ListingID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, conv)
}

// ListMessages GET /api/users/{userId}/conversations/{conversationId}/messages
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	msgs, err := h.svc.ListMessages(r.Context(), vars["conversationId"], vars["userId"])
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// SendMessage POST /api/users/{userId}/conversations/{conversationId}/messages
func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req struct {
		Body           string             `json:"body"`
		Attachments    []model.Attachment `json:"attachments,omitempty"`
		IdempotencyKey *string            `json:"idempotencyKey,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid JSON")
		return
	}
	msg, err := h.svc.SendMessage(r.Context(), vars["conversationId"], vars["userId"], req.Body, req.Attachments, req.IdempotencyKey)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, msg)
}

// MarkRead POST /api/users/{userId}/conversations/{conversationId}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.svc.MarkRead(r.Context(), vars["conversationId"], vars["userId"]); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetArchived PUT /api/users/{userId}/conversations/{conversationId}/archive
func (h *ConversationHandler) SetArchived(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req struct {
		Archived bool `json:"archived"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid JSON")
		return
	}
	if err := h.svc.SetArchived(r.Context(), vars["conversationId"], vars["userId"], req.Archived); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetMuted PUT /api/users/{userId}/conversations/{conversationId}/mute
func (h *ConversationHandler) SetMuted(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req struct {
		Muted bool `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid JSON")
		return
	}
	if err := h.svc.SetMuted(r.Context(), vars["conversationId"], vars["userId"], req.Muted); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
