package services

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"testing"

	"chiba-chatbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Mocks
// ============================================================================

type MockChatCompleter struct {
	mock.Mock
}

func (m *MockChatCompleter) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

func (m *MockChatCompleter) StreamChat(ctx context.Context, messages []models.ChatMessage) (*ChatStream, error) {
	args := m.Called(ctx, messages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChatStream), args.Error(1)
}

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Query(ctx context.Context, text string) ([]*models.Chunk, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Chunk), args.Error(1)
}

// ============================================================================
// Test Setup
// ============================================================================

func setupTestRAGService(t *testing.T) (*RAGService, *MockChatCompleter, *MockRetriever) {
	mockLLM := new(MockChatCompleter)
	mockRetriever := new(MockRetriever)

	logger := log.New(os.Stdout, "[TEST] ", log.LstdFlags)
	service := NewRAGService(mockLLM, mockRetriever, logger)

	return service, mockLLM, mockRetriever
}

func makeChunks(texts ...string) []*models.Chunk {
	chunks := make([]*models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &models.Chunk{
			ID:         text,
			SourceURL:  "https://www.pref.chiba.lg.jp/index.html",
			Text:       text,
			ChunkIndex: i,
		}
	}
	return chunks
}

// makeProviderStream builds a closed stream that yields the given fragments
func makeProviderStream(err error, fragments ...string) *ChatStream {
	stream := NewChatStream(len(fragments))
	for _, fragment := range fragments {
		stream.Send(fragment)
	}
	stream.Close(err)
	return stream
}

func chunkIDs(chunks []*models.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	return ids
}

// ============================================================================
// Contextualize
// ============================================================================

func TestContextualize_EmptyHistoryPassesThrough(t *testing.T) {
	service, mockLLM, _ := setupTestRAGService(t)
	ctx := context.Background()

	standalone, err := service.Contextualize(ctx, "千葉市の人口は？", nil)

	assert.NoError(t, err)
	assert.Equal(t, "千葉市の人口は？", standalone)
	mockLLM.AssertNotCalled(t, "Complete")
}

func TestContextualize_WithHistoryRewritesQuestion(t *testing.T) {
	service, mockLLM, _ := setupTestRAGService(t)
	ctx := context.Background()

	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: "千葉市の人口は？"},
		{Role: "ai", Content: "千葉市の人口は約97万人です。"},
	}

	mockLLM.On("Complete", ctx, mock.MatchedBy(func(messages []models.ChatMessage) bool {
		// system prompt + two history turns + the question
		if len(messages) != 4 {
			return false
		}
		// legacy "ai" role is normalized before reaching the provider
		return messages[0].Role == models.RoleSystem &&
			messages[2].Role == models.RoleAssistant &&
			messages[3].Content == "船橋市は？"
	})).Return("船橋市の人口は？", nil)

	standalone, err := service.Contextualize(ctx, "船橋市は？", history)

	assert.NoError(t, err)
	assert.Equal(t, "船橋市の人口は？", standalone)
	mockLLM.AssertExpectations(t)
}

func TestContextualize_LLMError(t *testing.T) {
	service, mockLLM, _ := setupTestRAGService(t)
	ctx := context.Background()

	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: "千葉市の人口は？"},
	}
	mockLLM.On("Complete", ctx, mock.Anything).Return("", errors.New("provider unavailable"))

	_, err := service.Contextualize(ctx, "船橋市は？", history)

	assert.Error(t, err)
}

// ============================================================================
// Long-Context Reordering
// ============================================================================

func TestReorderLongContext(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "Empty",
			input:    []string{},
			expected: []string{},
		},
		{
			name:     "Single chunk unchanged",
			input:    []string{"a"},
			expected: []string{"a"},
		},
		{
			name:     "Two chunks reversed",
			input:    []string{"a", "b"},
			expected: []string{"b", "a"},
		},
		{
			name:     "Six chunks alternate to both ends",
			input:    []string{"1", "2", "3", "4", "5", "6"},
			expected: []string{"2", "4", "6", "5", "3", "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ReorderLongContext(makeChunks(tt.input...))
			assert.Equal(t, tt.expected, chunkIDs(result))
		})
	}
}

func TestReorderLongContext_IsPermutation(t *testing.T) {
	input := makeChunks("1", "2", "3", "4", "5", "6", "7")

	result := ReorderLongContext(input)

	assert.Len(t, result, len(input))
	assert.ElementsMatch(t, chunkIDs(input), chunkIDs(result))
	// most relevant chunk ends up last, second most relevant first
	assert.Equal(t, "1", result[len(result)-1].ID)
	assert.Equal(t, "2", result[0].ID)
}

func TestRetrieve_AppliesReordering(t *testing.T) {
	service, _, mockRetriever := setupTestRAGService(t)
	ctx := context.Background()

	mockRetriever.On("Query", ctx, "千葉市の人口は？").
		Return(makeChunks("1", "2", "3", "4", "5", "6"), nil)

	chunks, err := service.Retrieve(ctx, "千葉市の人口は？")

	assert.NoError(t, err)
	assert.Equal(t, []string{"2", "4", "6", "5", "3", "1"}, chunkIDs(chunks))
}

func TestRetrieve_RetrieverError(t *testing.T) {
	service, _, mockRetriever := setupTestRAGService(t)
	ctx := context.Background()

	mockRetriever.On("Query", ctx, mock.Anything).Return(nil, errors.New("search failed"))

	_, err := service.Retrieve(ctx, "千葉市の人口は？")

	assert.Error(t, err)
}

// ============================================================================
// GenerateAnswer
// ============================================================================

func TestGenerateAnswer_StreamsCompleteAnswer(t *testing.T) {
	service, mockLLM, mockRetriever := setupTestRAGService(t)
	ctx := context.Background()

	mockRetriever.On("Query", ctx, "千葉市の人口は？").
		Return(makeChunks("千葉市の人口は約97万人です。"), nil)
	mockLLM.On("StreamChat", ctx, mock.MatchedBy(func(messages []models.ChatMessage) bool {
		last := messages[len(messages)-1]
		return strings.Contains(messages[0].Content, "千葉市の人口は約97万人です。") &&
			strings.HasSuffix(last.Content, ",Reply with japanese language")
	})).Return(makeProviderStream(nil, "千葉市の人口は", "約97万人です。"), nil)

	var mu sync.Mutex
	var completedQuestion, completedAnswer string
	completions := 0
	onComplete := func(question, answer string) {
		mu.Lock()
		defer mu.Unlock()
		completedQuestion = question
		completedAnswer = answer
		completions++
	}

	stream, err := service.GenerateAnswer(ctx, "千葉市の人口は？", nil, onComplete)
	require.NoError(t, err)

	var full strings.Builder
	for fragment := range stream.Fragments() {
		full.WriteString(fragment)
	}

	assert.NoError(t, stream.Err())
	assert.Equal(t, "千葉市の人口は約97万人です。", full.String())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, completions)
	assert.Equal(t, "千葉市の人口は？", completedQuestion)
	assert.Equal(t, "千葉市の人口は約97万人です。", completedAnswer)
	// no history, so the contextualize step is skipped entirely
	mockLLM.AssertNotCalled(t, "Complete")
}

func TestGenerateAnswer_TruncatedStreamSkipsCompletion(t *testing.T) {
	service, mockLLM, mockRetriever := setupTestRAGService(t)
	ctx := context.Background()

	providerErr := &LLMProviderError{Op: "stream_chat", Err: errors.New("connection reset")}
	mockRetriever.On("Query", ctx, mock.Anything).Return(makeChunks("context"), nil)
	mockLLM.On("StreamChat", ctx, mock.Anything).
		Return(makeProviderStream(providerErr, "部分的な"), nil)

	completed := false
	stream, err := service.GenerateAnswer(ctx, "千葉市の人口は？", nil, func(question, answer string) {
		completed = true
	})
	require.NoError(t, err)

	var full strings.Builder
	for fragment := range stream.Fragments() {
		full.WriteString(fragment)
	}

	assert.Equal(t, "部分的な", full.String())
	assert.ErrorIs(t, stream.Err(), providerErr)
	assert.False(t, completed, "truncated answers must not be persisted")
}

func TestGenerateAnswer_RetrievalErrorBeforeStreaming(t *testing.T) {
	service, mockLLM, mockRetriever := setupTestRAGService(t)
	ctx := context.Background()

	mockRetriever.On("Query", ctx, mock.Anything).Return(nil, errors.New("index unavailable"))

	_, err := service.GenerateAnswer(ctx, "千葉市の人口は？", nil, nil)

	assert.Error(t, err)
	mockLLM.AssertNotCalled(t, "StreamChat")
}

func TestGenerateAnswer_NilCompletionCallback(t *testing.T) {
	service, mockLLM, mockRetriever := setupTestRAGService(t)
	ctx := context.Background()

	mockRetriever.On("Query", ctx, mock.Anything).Return(makeChunks("context"), nil)
	mockLLM.On("StreamChat", ctx, mock.Anything).
		Return(makeProviderStream(nil, "回答"), nil)

	stream, err := service.GenerateAnswer(ctx, "千葉市の人口は？", nil, nil)
	require.NoError(t, err)

	var full strings.Builder
	for fragment := range stream.Fragments() {
		full.WriteString(fragment)
	}

	assert.NoError(t, stream.Err())
	assert.Equal(t, "回答", full.String())
}

// ============================================================================
// GenerateFollowUps
// ============================================================================

func TestGenerateFollowUps_ReturnsRawText(t *testing.T) {
	service, mockLLM, _ := setupTestRAGService(t)
	ctx := context.Background()

	raw := "[\n\"千葉市の観光名所は？\",\n\"千葉市へのアクセス方法は？\"\n]"
	mockLLM.On("Complete", ctx, mock.MatchedBy(func(messages []models.ChatMessage) bool {
		return messages[0].Role == models.RoleSystem &&
			strings.Contains(messages[len(messages)-1].Content, "千葉市の人口は？")
	})).Return(raw, nil)

	result, err := service.GenerateFollowUps(ctx, "千葉市の人口は？", nil)

	assert.NoError(t, err)
	assert.Equal(t, raw, result)
}

func TestGenerateFollowUps_LLMError(t *testing.T) {
	service, mockLLM, _ := setupTestRAGService(t)
	ctx := context.Background()

	mockLLM.On("Complete", ctx, mock.Anything).Return("", errors.New("provider unavailable"))

	_, err := service.GenerateFollowUps(ctx, "千葉市の人口は？", nil)

	assert.Error(t, err)
}
