package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"

	"chiba-chatbot/internal/models"
	"chiba-chatbot/internal/repositories"
	"chiba-chatbot/internal/services"
)

// ChatHandler handles question answering and follow-up suggestion requests
type ChatHandler struct {
	rag     *services.RAGService
	history repositories.ChatHistoryRepository // nil when the history store is unavailable
	logger  *log.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(rag *services.RAGService, history repositories.ChatHistoryRepository, logger *log.Logger) *ChatHandler {
	return &ChatHandler{
		rag:     rag,
		history: history,
		logger:  logger,
	}
}

// RespondToQuestion godoc
// @Summary Answer a question
// @Description Runs the RAG pipeline for a question and streams the answer as plain text
// @Tags chat
// @Accept json
// @Produce text/plain
// @Param request body models.QuestionRequest true "Question request"
// @Success 200 {string} string "Streamed answer text"
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/chat/respond_to_question [post]
func (h *ChatHandler) RespondToQuestion(w http.ResponseWriter, r *http.Request) {
	var req models.QuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエストです。質問を提供してください。")
		return
	}

	if err := req.Validate(); err != nil {
		h.logger.Printf("Invalid question request: %v", err)
		h.sendError(w, http.StatusBadRequest, "無効なリクエストです。"+err.Error())
		return
	}

	chatHistory := h.resolveHistory(r, req.Email, req.ChatHistory)

	stream, err := h.rag.GenerateAnswer(r.Context(), req.Question, chatHistory, h.persistTurn(req))
	if err != nil {
		h.logger.Printf("Failed to start answer generation: %v", err)
		var validationErr *models.ValidationError
		if errors.As(err, &validationErr) {
			h.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.sendError(w, http.StatusInternalServerError, "回答の生成に失敗しました。")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	for fragment := range stream.Fragments() {
		if _, err := io.WriteString(w, fragment); err != nil {
			h.logger.Printf("Client went away mid-stream: %v", err)
			// Keep draining so the producer goroutine can finish
			continue
		}
		if canFlush {
			flusher.Flush()
		}
	}

	if err := stream.Err(); err != nil {
		// The status line is already written; all we can do is log the
		// truncation and close the connection
		h.logger.Printf("Answer stream failed mid-flight: %v", err)
	}
}

// SuggestQuestions godoc
// @Summary Suggest follow-up questions
// @Description Generates 2-4 follow-up questions related to the current one
// @Tags chat
// @Accept json
// @Produce json
// @Param request body models.FollowUpRequest true "Follow-up request"
// @Success 200 {object} models.FollowUpResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/chat/get_suggest_question [post]
func (h *ChatHandler) SuggestQuestions(w http.ResponseWriter, r *http.Request) {
	var req models.FollowUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエストです。質問を提供してください。")
		return
	}

	if err := req.Validate(); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエストです。"+err.Error())
		return
	}

	chatHistory := h.resolveHistory(r, req.Email, req.ChatHistory)

	raw, err := h.rag.GenerateFollowUps(r.Context(), req.Question, chatHistory)
	if err != nil {
		h.logger.Printf("Follow-up generation failed: %v", err)
		h.sendError(w, http.StatusInternalServerError, "フォローアップ質問の生成に失敗しました。")
		return
	}

	h.sendJSON(w, http.StatusOK, models.FollowUpResponse{
		FollowUpQuestions: ParseFollowUpQuestions(raw),
	})
}

// resolveHistory prefers the stored conversation for the identity over the
// history supplied in the request, matching the original backend's behavior
func (h *ChatHandler) resolveHistory(r *http.Request, email string, fromRequest []models.ChatMessage) []models.ChatMessage {
	if h.history == nil || email == "" {
		return fromRequest
	}

	has, err := h.history.HasHistory(r.Context(), email)
	if err != nil {
		h.logger.Printf("History lookup failed for %s: %v", email, err)
		return fromRequest
	}
	if !has {
		return fromRequest
	}

	stored, err := h.history.History(r.Context(), email)
	if err != nil {
		h.logger.Printf("History read failed for %s: %v", email, err)
		return fromRequest
	}
	return stored
}

// persistTurn returns the completion callback that stores the question and
// the fully accumulated answer. It runs only after the whole answer has
// been delivered; a truncated stream never reaches it.
func (h *ChatHandler) persistTurn(req models.QuestionRequest) services.CompletionFunc {
	if h.history == nil {
		return nil
	}

	messageType := req.QuestionType
	if messageType == "" {
		messageType = "text"
	}

	return func(question, answer string) {
		// The request context may already be canceled once streaming ends
		ctx := context.Background()

		userMsg := &models.StoredMessage{
			Email:       req.Email,
			Role:        models.RoleUser,
			MessageType: messageType,
			Content:     question,
		}
		if err := h.history.Append(ctx, userMsg); err != nil {
			h.logger.Printf("Failed to persist user message for %s: %v", req.Email, err)
			return
		}

		aiMsg := &models.StoredMessage{
			Email:       req.Email,
			Role:        models.RoleAssistant,
			MessageType: messageType,
			Content:     answer,
		}
		if err := h.history.Append(ctx, aiMsg); err != nil {
			h.logger.Printf("Failed to persist assistant message for %s: %v", req.Email, err)
		}
	}
}

var quotedQuestionPattern = regexp.MustCompile(`"([^"]+)"|「([^」]+)」`)

// ParseFollowUpQuestions extracts a question list from the LLM's free-form
// output. The bracketed-list format is only a prompted convention, so this
// is best-effort: a JSON array if the output is one, quoted strings
// otherwise, and the raw text as a single entry when nothing else works.
func ParseFollowUpQuestions(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return []string{}
	}

	// The model usually honors the bracketed template, sometimes with
	// leading prose around it
	if start, end := strings.Index(trimmed, "["), strings.LastIndex(trimmed, "]"); start >= 0 && end > start {
		var questions []string
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &questions); err == nil {
			return dedupeNonEmpty(questions)
		}
	}

	var questions []string
	for _, match := range quotedQuestionPattern.FindAllStringSubmatch(trimmed, -1) {
		if match[1] != "" {
			questions = append(questions, match[1])
		} else if match[2] != "" {
			questions = append(questions, match[2])
		}
	}
	if len(questions) > 0 {
		return dedupeNonEmpty(questions)
	}

	return []string{trimmed}
}

func dedupeNonEmpty(items []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		result = append(result, item)
	}
	return result
}

func (h *ChatHandler) sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Printf("Failed to encode response: %v", err)
	}
}

func (h *ChatHandler) sendError(w http.ResponseWriter, status int, message string) {
	h.sendJSON(w, status, models.ErrorResponse{Error: message})
}
