package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"chiba-chatbot/internal/models"
)

// ChatCompleter is the LLM side of the pipeline. Satisfied by OpenAIClient.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (string, error)
	StreamChat(ctx context.Context, messages []models.ChatMessage) (*ChatStream, error)
}

// Retriever returns the chunks most relevant to a query, ordered from most
// to least similar. Satisfied by IndexService.
type Retriever interface {
	Query(ctx context.Context, text string) ([]*models.Chunk, error)
}

// CompletionFunc is invoked with the original question and the fully
// accumulated answer, strictly after the last streamed fragment has been
// delivered to the caller. It is never invoked for a truncated stream.
type CompletionFunc func(question, answer string)

// RAGService composes the retrieval-augmented generation pipeline:
// contextualize the question against chat history, retrieve and reorder
// relevant chunks, then stream a grounded answer.
type RAGService struct {
	llm       ChatCompleter
	retriever Retriever
	logger    *log.Logger
	now       func() time.Time
}

// NewRAGService creates a new RAG service
func NewRAGService(llm ChatCompleter, retriever Retriever, logger *log.Logger) *RAGService {
	return &RAGService{
		llm:       llm,
		retriever: retriever,
		logger:    logger,
		now:       time.Now,
	}
}

const contextualizeSystemPrompt = `今日の日付は%d年%d月%d日です。
千葉県に関する行政情報や旅行情報に詳しいアシスタントです。
ステップバイステップで考えてみましょう。ユーザーの質問を独立した形で再構築し、明確に理解できるようにしてください。
簡潔で情報量のあるスタイルを保ち、読みやすいようにMarkdown形式で回答をフォーマットしてください。`

const qaSystemPrompt = `今日の日付が%d年%d月%d日であることを覚えておいてください。
最後の質問に答えるために、以下のすべての文脈を文書で使用する。
チャット履歴からユーザーの質問に答えることができる場合は、提供された文書を参照する必要はありません。
提供された文書に答えがない場合は、あなたの既存の知識を活用しても大丈夫です。
ウェブサイトへのリンクを参照するように返信しないでください。
回答はMarkdownでフォーマットしてください。
%s`

const followUpSystemPrompt = `ユーザーの質問に基づいて、千葉県に関連する適切なフォローアップ質問を2-4つ提案します。
これらの質問を回答を提供せずに、ユーザーの興味に合わせてリスト形式で提示してください。重複や些細な質問を避けてください。
以下のフォーマットに従ってください:
--- フォーマットテンプレート ---
[
"質問1",
"質問2",
"質問3",
"質問4"
]`

const followUpHumanPrompt = `与えられた質問 %s に基づいて、元の質問の文脈に沿った千葉県に関する2～4個のフォローアップ質問を生成してください。質問はリスト形式で回答を含めずに提示してください。フォローアップ質問は元の質問で言及されたトピックに関連するものであり、重複や些細な質問は避けてください。日本語で返信してください。`

// Contextualize rewrites a follow-up question into a standalone one using
// the chat history. With no history there is nothing to resolve: the
// question is returned unchanged and no LLM call is made.
func (s *RAGService) Contextualize(ctx context.Context, question string, history []models.ChatMessage) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	today := s.now()
	messages := make([]models.ChatMessage, 0, len(history)+2)
	messages = append(messages, models.ChatMessage{
		Role:    models.RoleSystem,
		Content: fmt.Sprintf(contextualizeSystemPrompt, today.Year(), int(today.Month()), today.Day()),
	})
	messages = append(messages, normalizeHistory(history)...)
	messages = append(messages, models.ChatMessage{
		Role:    models.RoleUser,
		Content: question,
	})

	standalone, err := s.llm.Complete(ctx, messages)
	if err != nil {
		return "", err
	}

	s.logger.Printf("Contextualized question: %q -> %q", question, standalone)
	return standalone, nil
}

// Retrieve fetches the nearest chunks for the standalone question and
// applies the long-context reordering so the most relevant chunks sit at
// both ends of the sequence.
func (s *RAGService) Retrieve(ctx context.Context, standaloneQuestion string) ([]*models.Chunk, error) {
	chunks, err := s.retriever.Query(ctx, standaloneQuestion)
	if err != nil {
		return nil, err
	}
	return ReorderLongContext(chunks), nil
}

// ReorderLongContext permutes chunks ordered by descending relevance so
// that the most relevant land at the beginning and end of the sequence and
// the least relevant in the middle. Long prompts get degraded model
// attention in the middle; this pushes the important context out of it.
// The result is always a permutation of the input.
func ReorderLongContext(chunks []*models.Chunk) []*models.Chunk {
	if len(chunks) < 2 {
		return chunks
	}

	reordered := make([]*models.Chunk, 0, len(chunks))
	for i := len(chunks) - 1; i >= 0; i-- {
		chunk := chunks[i]
		if (len(chunks)-1-i)%2 == 1 {
			reordered = append(reordered, chunk)
		} else {
			reordered = append([]*models.Chunk{chunk}, reordered...)
		}
	}

	return reordered
}

// GenerateAnswer runs the full pipeline for one question and streams the
// answer. The returned stream is single-consumer: fragments arrive in
// generation order and, once the channel closes with a nil Err, their
// concatenation is the complete answer. onComplete (optional) receives the
// question and full answer only after clean completion; a mid-stream
// provider failure leaves the stream truncated with Err set and never
// invokes onComplete.
func (s *RAGService) GenerateAnswer(ctx context.Context, question string, history []models.ChatMessage, onComplete CompletionFunc) (*ChatStream, error) {
	standalone, err := s.Contextualize(ctx, question, history)
	if err != nil {
		return nil, err
	}

	chunks, err := s.Retrieve(ctx, standalone)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("Retrieved %d context chunks for question %q", len(chunks), standalone)

	today := s.now()
	messages := make([]models.ChatMessage, 0, len(history)+2)
	messages = append(messages, models.ChatMessage{
		Role:    models.RoleSystem,
		Content: fmt.Sprintf(qaSystemPrompt, today.Year(), int(today.Month()), today.Day(), joinChunks(chunks)),
	})
	messages = append(messages, normalizeHistory(history)...)
	messages = append(messages, models.ChatMessage{
		Role:    models.RoleUser,
		Content: question + ",Reply with japanese language",
	})

	providerStream, err := s.llm.StreamChat(ctx, messages)
	if err != nil {
		return nil, err
	}

	// Unbuffered: Send returns only once the caller has received the
	// fragment, so after the loop the full answer has been delivered and
	// onComplete cannot race ahead of it
	answer := NewChatStream(0)
	go func() {
		var full strings.Builder
		for fragment := range providerStream.Fragments() {
			full.WriteString(fragment)
			answer.Send(fragment)
		}

		if err := providerStream.Err(); err != nil {
			s.logger.Printf("Answer stream truncated: %v", err)
			answer.Close(err)
			return
		}

		if onComplete != nil {
			onComplete(question, full.String())
		}
		answer.Close(nil)
	}()

	return answer, nil
}

// GenerateFollowUps proposes 2-4 follow-up questions related to the current
// one. The LLM's raw text output is returned verbatim; the bracketed-list
// format is a prompted convention, not a guarantee, so parsing is left to
// the interface layer.
func (s *RAGService) GenerateFollowUps(ctx context.Context, question string, history []models.ChatMessage) (string, error) {
	messages := make([]models.ChatMessage, 0, len(history)+2)
	messages = append(messages, models.ChatMessage{
		Role:    models.RoleSystem,
		Content: followUpSystemPrompt,
	})
	messages = append(messages, normalizeHistory(history)...)
	messages = append(messages, models.ChatMessage{
		Role:    models.RoleUser,
		Content: fmt.Sprintf(followUpHumanPrompt, question),
	})

	return s.llm.Complete(ctx, messages)
}

// joinChunks renders the retrieved context for prompt inclusion
func joinChunks(chunks []*models.Chunk) string {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	return strings.Join(texts, "\n\n")
}

// normalizeHistory maps legacy role names in caller-supplied history
func normalizeHistory(history []models.ChatMessage) []models.ChatMessage {
	normalized := make([]models.ChatMessage, len(history))
	for i, msg := range history {
		normalized[i] = models.ChatMessage{
			Role:    models.NormalizeRole(msg.Role),
			Content: msg.Content,
		}
	}
	return normalized
}
