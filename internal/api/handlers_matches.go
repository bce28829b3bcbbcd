package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/roomly/connect/internal/api/respond"
	"github.com/roomly/connect/internal/services"
)

// MatchHandler is the HTTP transport over MatchService.
type MatchHandler struct {
	svc *services.MatchService
}

func NewMatchHandler(svc *services.MatchService) *MatchHandler {
	return &MatchHandler{svc: svc}
}

// Like POST /api/users/{userId}/likes/{likedId}
func (h *MatchHandler) Like(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := h.svc.Like(r.Context(), vars["userId"], vars["likedId"])
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, res)
}

// Unlike DELETE /api/users/{userId}/likes/{likedId}
func (h *MatchHandler) Unlike(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.svc.Unlike(r.Context(), vars["userId"], vars["likedId"]); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListLikes GET /api/users/{userId}/likes
func (h *MatchHandler) ListLikes(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	likes, err := h.svc.ListLikes(r.Context(), userID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"likes": likes,
		"count": len(likes),
	})
}

// ListMatches GET /api/users/{userId}/matches
func (h *MatchHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	matches, err := h.svc.ListMatches(r.Context(), userID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"matches": matches,
		"count":   len(matches),
	})
}

// IsMatch GET /api/users/{userId}/matches/{otherId}
func (h *MatchHandler) IsMatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	matched, err := h.svc.IsMatch(r.Context(), vars["userId"], vars["otherId"])
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"matched": matched})
}
