package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"chiba-chatbot/internal/models"
)

const (
	DefaultOpenAIBaseURL  = "https://api.openai.com/v1"
	DefaultChatModel      = "gpt-4o"
	DefaultEmbeddingModel = "text-embedding-ada-002"
	DefaultTemperature    = 0.3
)

// OpenAIConfig holds configuration for the OpenAI API client
type OpenAIConfig struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Temperature    float64
	Timeout        time.Duration
}

// OpenAIClient handles communication with an OpenAI-compatible API.
// It serves both provider roles of the pipeline: embeddings for the vector
// index and chat completions (synchronous and streamed) for generation.
type OpenAIClient struct {
	config       OpenAIConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewOpenAIClient creates a new OpenAI API client
func NewOpenAIClient(config OpenAIConfig) *OpenAIClient {
	if config.BaseURL == "" {
		config.BaseURL = DefaultOpenAIBaseURL
	}
	if config.ChatModel == "" {
		config.ChatModel = DefaultChatModel
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = DefaultEmbeddingModel
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultTemperature
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second // LLMs can be slow
	}

	return &OpenAIClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		// A client Timeout covers the whole response body, which would cut
		// off long streams; streaming relies on the request context instead
		streamClient: &http.Client{},
	}
}

type chatCompletionRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	Stream      bool                 `json:"stream"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed generates an embedding vector for a single text
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embedding vectors for multiple texts in one call.
// Vectors are returned in input order.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := c.post(ctx, "/embeddings", embeddingRequest{
		Model: c.config.EmbeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, &EmbeddingProviderError{Op: "embed", Err: err}
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &EmbeddingProviderError{Op: "decode response", Err: err}
	}

	if len(resp.Data) != len(texts) {
		return nil, &EmbeddingProviderError{
			Op:  "embed",
			Err: fmt.Errorf("expected %d vectors, got %d", len(texts), len(resp.Data)),
		}
	}

	// The API is not required to preserve input order; sort by index
	sort.Slice(resp.Data, func(i, j int) bool {
		return resp.Data[i].Index < resp.Data[j].Index
	})

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, &EmbeddingProviderError{
				Op:  "embed",
				Err: fmt.Errorf("empty vector at index %d", d.Index),
			}
		}
		vectors[i] = d.Embedding
	}

	return vectors, nil
}

// Complete sends a chat completion request and returns the full response text
func (c *OpenAIClient) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	body, err := c.post(ctx, "/chat/completions", chatCompletionRequest{
		Model:       c.config.ChatModel,
		Messages:    messages,
		Temperature: c.config.Temperature,
		Stream:      false,
	})
	if err != nil {
		return "", &LLMProviderError{Op: "complete", Err: err}
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &LLMProviderError{Op: "decode response", Err: err}
	}

	if len(resp.Choices) == 0 {
		return "", &LLMProviderError{Op: "complete", Err: fmt.Errorf("no choices in response")}
	}

	return resp.Choices[0].Message.Content, nil
}

// StreamChat sends a chat completion request and streams the response
// token-by-token. Fragments arrive on the returned stream in generation
// order; after the channel closes, Err reports whether the stream ended
// cleanly.
func (c *OpenAIClient) StreamChat(ctx context.Context, messages []models.ChatMessage) (*ChatStream, error) {
	payload, err := json.Marshal(chatCompletionRequest{
		Model:       c.config.ChatModel,
		Messages:    messages,
		Temperature: c.config.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, &LLMProviderError{Op: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &LLMProviderError{Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &LLMProviderError{Op: "stream", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &LLMProviderError{
			Op:  "stream",
			Err: fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	stream := NewChatStream(64)
	go func() {
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}

			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				stream.Close(nil)
				return
			}

			var chunk chatCompletionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				stream.Close(&LLMProviderError{Op: "decode stream chunk", Err: err})
				return
			}

			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				stream.Send(chunk.Choices[0].Delta.Content)
			}
		}

		if err := scanner.Err(); err != nil {
			stream.Close(&LLMProviderError{Op: "read stream", Err: err})
			return
		}

		// Stream ended without the [DONE] terminator
		stream.Close(&LLMProviderError{Op: "stream", Err: fmt.Errorf("stream ended unexpectedly")})
	}()

	return stream, nil
}

// post is a helper for synchronous POST requests to the API
func (c *OpenAIClient) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// ChatStream carries streamed completion fragments from a provider to a
// single consumer. The producer calls Send for each fragment then Close
// exactly once; consumers range over Fragments and check Err afterwards.
type ChatStream struct {
	fragments chan string
	err       error
}

// NewChatStream creates a stream with the given channel buffer size
func NewChatStream(buffer int) *ChatStream {
	return &ChatStream{
		fragments: make(chan string, buffer),
	}
}

// Send delivers one fragment to the consumer
func (s *ChatStream) Send(fragment string) {
	s.fragments <- fragment
}

// Close ends the stream. A non-nil err marks the stream as truncated.
func (s *ChatStream) Close(err error) {
	s.err = err
	close(s.fragments)
}

// Fragments returns the channel of streamed text fragments
func (s *ChatStream) Fragments() <-chan string {
	return s.fragments
}

// Err reports the stream failure, if any. Only valid after Fragments closes;
// the channel close orders the write to err before this read.
func (s *ChatStream) Err() error {
	return s.err
}
