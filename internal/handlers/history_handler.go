package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"chiba-chatbot/internal/models"
	"chiba-chatbot/internal/repositories"
)

// HistoryHandler handles direct chat history reads and writes
type HistoryHandler struct {
	history repositories.ChatHistoryRepository // nil when the history store is unavailable
	logger  *log.Logger
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(history repositories.ChatHistoryRepository, logger *log.Logger) *HistoryHandler {
	return &HistoryHandler{
		history: history,
		logger:  logger,
	}
}

// AddMessageRequest is the payload for appending a chat message
type AddMessageRequest struct {
	Email       string  `json:"email"`
	Role        string  `json:"role"`
	MessageType string  `json:"message_type"`
	Content     string  `json:"content"`
	AudioPath   *string `json:"audio_path,omitempty"`
}

// AddMessage godoc
// @Summary Append a chat message
// @Description Stores one chat turn in the user's history
// @Tags history
// @Accept json
// @Produce json
// @Param request body AddMessageRequest true "Message to store"
// @Success 201 {object} models.BasicResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /api/chat/add_message [post]
func (h *HistoryHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.sendError(w, http.StatusServiceUnavailable, "チャット履歴ストアが利用できません。")
		return
	}

	var req AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエストです。メールアドレス、メッセージタイプ、メッセージを提供してください。")
		return
	}

	if req.MessageType == "" {
		req.MessageType = "text"
	}

	msg := &models.StoredMessage{
		Email:       req.Email,
		Role:        models.NormalizeRole(req.Role),
		MessageType: req.MessageType,
		Content:     req.Content,
		AudioPath:   req.AudioPath,
	}

	if err := msg.Validate(); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエストです。"+err.Error())
		return
	}

	if err := h.history.Append(r.Context(), msg); err != nil {
		h.logger.Printf("Failed to append message for %s: %v", req.Email, err)
		h.sendError(w, http.StatusInternalServerError, "メッセージの保存に失敗しました。")
		return
	}

	h.sendJSON(w, http.StatusCreated, models.BasicResponse{
		Message: "メッセージが正常に追加されました。",
		Status:  "success",
	})
}

// GetChatHistory godoc
// @Summary Get chat history
// @Description Returns the ordered conversation for a user
// @Tags history
// @Produce json
// @Param email query string true "User identity"
// @Success 200 {array} models.ChatMessage
// @Failure 400 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /api/user/get_chat_history [get]
func (h *HistoryHandler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.sendError(w, http.StatusServiceUnavailable, "チャット履歴ストアが利用できません。")
		return
	}

	email := r.URL.Query().Get("email")
	if email == "" {
		h.sendError(w, http.StatusBadRequest, "無効なリクエストです。メールアドレスを提供してください。")
		return
	}

	history, err := h.history.History(r.Context(), email)
	if err != nil {
		h.logger.Printf("Failed to read history for %s: %v", email, err)
		h.sendError(w, http.StatusInternalServerError, "チャット履歴の取得に失敗しました。")
		return
	}

	h.sendJSON(w, http.StatusOK, history)
}

func (h *HistoryHandler) sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Printf("Failed to encode response: %v", err)
	}
}

func (h *HistoryHandler) sendError(w http.ResponseWriter, status int, message string) {
	h.sendJSON(w, status, models.ErrorResponse{Error: message})
}
