package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/roomly/connect/internal/api/recovery"
	"github.com/roomly/connect/internal/services"
	"github.com/roomly/connect/internal/store"
)

// NewRouter wires the REST routes. The realtime websocket endpoint is
// registered separately by the caller because it owns connection lifecycle
// concerns the REST layer does not.
func NewRouter(st store.Store, convs *services.ConversationService, matches *services.MatchService, ws http.Handler) *mux.Router {
	router := mux.NewRouter()
	router.Use(recovery.Middleware)

	healthHandler := NewHealthHandler(st)
	convHandler := NewConversationHandler(convs)
	matchHandler := NewMatchHandler(matches)

	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")

	router.HandleFunc("/api/users/{userId}/conversations", convHandler.ListConversations).Methods("GET")
	router.HandleFunc("/api/users/{userId}/conversations", convHandler.StartConversation).Methods("POST")
	router.HandleFunc("/api/users/{userId}/conversations/{conversationId}/messages", convHandler.ListMessages).Methods("GET")
	router.HandleFunc("/api/users/{userId}/conversations/{conversationId}/messages", convHandler.SendMessage).Methods("POST")
	router.HandleFunc("/api/users/{userId}/conversations/{conversationId}/read", convHandler.MarkRead).Methods("POST")
	router.HandleFunc("/api/users/{userId}/conversations/{conversationId}/archive", convHandler.SetArchived).Methods("PUT")
	router.HandleFunc("/api/users/{userId}/conversations/{conversationId}/mute", convHandler.SetMuted).Methods("PUT")

	router.HandleFunc("/api/users/{userId}/likes", matchHandler.ListLikes).Methods("GET")
	router.HandleFunc("/api/users/{userId}/likes/{likedId}", matchHandler.Like).Methods("POST")
	router.HandleFunc("/api/users/{userId}/likes/{likedId}", matchHandler.Unlike).Methods("DELETE")
	router.HandleFunc("/api/users/{userId}/matches", matchHandler.ListMatches).Methods("GET")
	router.HandleFunc("/api/users/{userId}/matches/{otherId}", matchHandler.IsMatch).Methods("GET")

	if ws != nil {
		router.Handle("/ws", ws).Methods("GET")
	}

	return router
}
