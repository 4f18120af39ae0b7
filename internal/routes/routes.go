package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"chiba-chatbot/internal/handlers"
)

// Handlers groups everything the router needs
type Handlers struct {
	Health  http.HandlerFunc
	Home    http.HandlerFunc
	Chat    *handlers.ChatHandler
	History *handlers.HistoryHandler
}

// RegisterRoutes sets up all application routes
func RegisterRoutes(router *mux.Router, h *Handlers) {
	// Health endpoints
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	// Chat endpoints
	router.HandleFunc("/api/chat/respond_to_question", h.Chat.RespondToQuestion).Methods(http.MethodPost)
	router.HandleFunc("/api/chat/get_suggest_question", h.Chat.SuggestQuestions).Methods(http.MethodPost)

	// History endpoints
	router.HandleFunc("/api/chat/add_message", h.History.AddMessage).Methods(http.MethodPost)
	router.HandleFunc("/api/user/get_chat_history", h.History.GetChatHistory).Methods(http.MethodGet)

	// Home
	router.HandleFunc("/", h.Home).Methods(http.MethodGet)
}
