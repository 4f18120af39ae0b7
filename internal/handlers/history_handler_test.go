package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"chiba-chatbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Setup
// ============================================================================

func setupTestHistoryHandler(withStore bool) (*HistoryHandler, *MockHistoryRepository) {
	logger := log.New(os.Stdout, "[TEST] ", log.LstdFlags)

	if !withStore {
		return NewHistoryHandler(nil, logger), nil
	}

	mockHistory := new(MockHistoryRepository)
	return NewHistoryHandler(mockHistory, logger), mockHistory
}

// ============================================================================
// AddMessage
// ============================================================================

func TestAddMessage_Success(t *testing.T) {
	handler, mockHistory := setupTestHistoryHandler(true)

	mockHistory.On("Append", mock.Anything, mock.MatchedBy(func(msg *models.StoredMessage) bool {
		return msg.Email == "user@example.com" &&
			msg.Role == models.RoleUser &&
			msg.MessageType == "text" &&
			msg.Content == "千葉市の人口は？"
	})).Return(nil)

	recorder := postJSON(t, handler.AddMessage, "/api/chat/add_message", AddMessageRequest{
		Email:   "user@example.com",
		Role:    "user",
		Content: "千葉市の人口は？",
	})

	assert.Equal(t, http.StatusCreated, recorder.Code)

	var resp models.BasicResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	mockHistory.AssertExpectations(t)
}

func TestAddMessage_NormalizesLegacyRole(t *testing.T) {
	handler, mockHistory := setupTestHistoryHandler(true)

	mockHistory.On("Append", mock.Anything, mock.MatchedBy(func(msg *models.StoredMessage) bool {
		return msg.Role == models.RoleAssistant
	})).Return(nil)

	recorder := postJSON(t, handler.AddMessage, "/api/chat/add_message", AddMessageRequest{
		Email:   "user@example.com",
		Role:    "ai",
		Content: "約97万人です。",
	})

	assert.Equal(t, http.StatusCreated, recorder.Code)
	mockHistory.AssertExpectations(t)
}

func TestAddMessage_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		req  AddMessageRequest
	}{
		{
			name: "Missing email",
			req:  AddMessageRequest{Role: "user", Content: "質問"},
		},
		{
			name: "Missing content",
			req:  AddMessageRequest{Email: "user@example.com", Role: "user"},
		},
		{
			name: "Audio message without path",
			req: AddMessageRequest{
				Email:       "user@example.com",
				Role:        "user",
				MessageType: "audio",
				Content:     "質問",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, mockHistory := setupTestHistoryHandler(true)

			recorder := postJSON(t, handler.AddMessage, "/api/chat/add_message", tt.req)

			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			mockHistory.AssertNotCalled(t, "Append")
		})
	}
}

func TestAddMessage_StoreUnavailable(t *testing.T) {
	handler, _ := setupTestHistoryHandler(false)

	recorder := postJSON(t, handler.AddMessage, "/api/chat/add_message", AddMessageRequest{
		Email:   "user@example.com",
		Role:    "user",
		Content: "質問",
	})

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestAddMessage_InvalidJSON(t *testing.T) {
	handler, _ := setupTestHistoryHandler(true)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/add_message", bytes.NewReader([]byte("not json")))
	recorder := httptest.NewRecorder()
	handler.AddMessage(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestAddMessage_StoreError(t *testing.T) {
	handler, mockHistory := setupTestHistoryHandler(true)

	mockHistory.On("Append", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	recorder := postJSON(t, handler.AddMessage, "/api/chat/add_message", AddMessageRequest{
		Email:   "user@example.com",
		Role:    "user",
		Content: "質問",
	})

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}

// ============================================================================
// GetChatHistory
// ============================================================================

func TestGetChatHistory_ReturnsConversation(t *testing.T) {
	handler, mockHistory := setupTestHistoryHandler(true)

	stored := []models.ChatMessage{
		{Role: models.RoleUser, Content: "千葉市の人口は？"},
		{Role: models.RoleAssistant, Content: "約97万人です。"},
	}
	mockHistory.On("History", mock.Anything, "user@example.com").Return(stored, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/user/get_chat_history?email=user@example.com", nil)
	recorder := httptest.NewRecorder()
	handler.GetChatHistory(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var history []models.ChatMessage
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &history))
	assert.Equal(t, stored, history)
}

func TestGetChatHistory_MissingEmail(t *testing.T) {
	handler, mockHistory := setupTestHistoryHandler(true)

	req := httptest.NewRequest(http.MethodGet, "/api/user/get_chat_history", nil)
	recorder := httptest.NewRecorder()
	handler.GetChatHistory(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	mockHistory.AssertNotCalled(t, "History")
}

func TestGetChatHistory_StoreUnavailable(t *testing.T) {
	handler, _ := setupTestHistoryHandler(false)

	req := httptest.NewRequest(http.MethodGet, "/api/user/get_chat_history?email=user@example.com", nil)
	recorder := httptest.NewRecorder()
	handler.GetChatHistory(recorder, req)

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestGetChatHistory_StoreError(t *testing.T) {
	handler, mockHistory := setupTestHistoryHandler(true)

	mockHistory.On("History", mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))

	req := httptest.NewRequest(http.MethodGet, "/api/user/get_chat_history?email=user@example.com", nil)
	recorder := httptest.NewRecorder()
	handler.GetChatHistory(recorder, req)

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}
