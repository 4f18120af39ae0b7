package models

import (
	"time"
)

// Chat roles. Histories written by the old backend may still contain "ai"
// entries; NormalizeRole maps those onto the canonical set on read.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage represents a single turn in a conversation
type ChatMessage struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// NormalizeRole maps legacy role names onto the canonical set
func NormalizeRole(role string) string {
	if role == "ai" {
		return RoleAssistant
	}
	return role
}

// QuestionRequest represents the incoming question-answering request
type QuestionRequest struct {
	Email        string        `json:"email"`
	Question     string        `json:"question"`
	QuestionType string        `json:"question_type"`
	ChatHistory  []ChatMessage `json:"chat_history,omitempty"`
}

// Validate checks that the request carries everything the pipeline needs
func (r *QuestionRequest) Validate() error {
	if r.Question == "" {
		return &ValidationError{Field: "question", Message: "question is required"}
	}
	if r.Email == "" {
		return &ValidationError{Field: "email", Message: "email is required"}
	}
	if r.QuestionType != "" && r.QuestionType != "text" {
		return &ValidationError{Field: "question_type", Message: "unsupported question type: " + r.QuestionType}
	}
	return nil
}

// FollowUpRequest represents a follow-up question suggestion request
type FollowUpRequest struct {
	Email       string        `json:"email"`
	Question    string        `json:"question"`
	ChatHistory []ChatMessage `json:"chat_history,omitempty"`
}

// Validate checks required fields
func (r *FollowUpRequest) Validate() error {
	if r.Question == "" {
		return &ValidationError{Field: "question", Message: "question is required"}
	}
	return nil
}

// FollowUpResponse carries the follow-up question list
type FollowUpResponse struct {
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// StoredMessage is the persisted form of a chat turn, keyed by user identity
type StoredMessage struct {
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	MessageType string    `json:"message_type"`
	Content     string    `json:"content"`
	AudioPath   *string   `json:"audio_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks that the message can be persisted
func (m *StoredMessage) Validate() error {
	if m.Email == "" {
		return &ValidationError{Field: "email", Message: "email is required"}
	}
	if m.Role == "" {
		return &ValidationError{Field: "role", Message: "role is required"}
	}
	if m.Content == "" {
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	if m.MessageType == "audio" && m.AudioPath == nil {
		return &ValidationError{Field: "audio_path", Message: "audio messages require an audio path"}
	}
	return nil
}

// ToChatMessage converts a stored message into its conversational form
func (m *StoredMessage) ToChatMessage() ChatMessage {
	return ChatMessage{
		Role:    NormalizeRole(m.Role),
		Content: m.Content,
	}
}

// BasicResponse is a generic status payload
type BasicResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ErrorResponse is the structured error body returned on request failures
type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
