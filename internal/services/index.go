package services

import (
	"context"
	"fmt"
	"log"

	"chiba-chatbot/internal/models"
	"chiba-chatbot/internal/repositories"
)

const (
	DefaultCollection     = "openai_collection"
	DefaultTopK           = 6
	DefaultEmbedBatchSize = 100
)

// Embedder computes embedding vectors for text. Satisfied by OpenAIClient.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexConfig holds configuration for the vector index
type IndexConfig struct {
	Collection     string
	TopK           int
	EmbedBatchSize int
}

// IndexService owns the persistent vector index: built once from ingested
// chunks, loaded read-only at serve time, queried by similarity.
type IndexService struct {
	embedder   Embedder
	vectorRepo repositories.VectorRepository
	config     IndexConfig
	logger     *log.Logger
}

// NewIndexService creates a new index service
func NewIndexService(embedder Embedder, vectorRepo repositories.VectorRepository, config IndexConfig, logger *log.Logger) *IndexService {
	if config.Collection == "" {
		config.Collection = DefaultCollection
	}
	if config.TopK == 0 {
		config.TopK = DefaultTopK
	}
	if config.EmbedBatchSize == 0 {
		config.EmbedBatchSize = DefaultEmbedBatchSize
	}

	return &IndexService{
		embedder:   embedder,
		vectorRepo: vectorRepo,
		config:     config,
		logger:     logger,
	}
}

// Collection returns the configured collection name
func (s *IndexService) Collection() string {
	return s.config.Collection
}

// Build embeds every chunk and persists the index under the configured
// collection, replacing any previous build. All embeddings are computed
// before anything is written: an embedding failure aborts the build with no
// partially-populated index left behind.
func (s *IndexService) Build(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks to index")
	}

	s.logger.Printf("Embedding %d chunks (batch size: %d)", len(chunks), s.config.EmbedBatchSize)

	entries := make([]*repositories.Chunk, 0, len(chunks))
	dimension := 0
	for start := 0; start < len(chunks); start += s.config.EmbedBatchSize {
		end := start + s.config.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}

		for i, chunk := range batch {
			if dimension == 0 {
				dimension = len(vectors[i])
			} else if len(vectors[i]) != dimension {
				return &EmbeddingProviderError{
					Op:  "embed",
					Err: fmt.Errorf("inconsistent vector dimension: got %d, expected %d", len(vectors[i]), dimension),
				}
			}

			entries = append(entries, &repositories.Chunk{
				ID:         chunk.ID,
				SourceURL:  chunk.SourceURL,
				Text:       chunk.Text,
				Embedding:  vectors[i],
				Metadata:   chunk.Metadata,
				ChunkIndex: chunk.ChunkIndex,
			})
		}
	}

	// Replace any previous build of this collection
	exists, err := s.vectorRepo.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		s.logger.Printf("Replacing existing collection %q", s.config.Collection)
		if err := s.vectorRepo.DeleteCollection(ctx, s.config.Collection); err != nil {
			return fmt.Errorf("failed to delete previous collection: %w", err)
		}
	}

	if err := s.vectorRepo.CreateCollection(ctx, s.config.Collection, nil); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if err := s.vectorRepo.StoreChunks(ctx, s.config.Collection, entries); err != nil {
		// Don't leave a half-written index behind
		if delErr := s.vectorRepo.DeleteCollection(ctx, s.config.Collection); delErr != nil {
			s.logger.Printf("Failed to clean up collection after store error: %v", delErr)
		}
		return fmt.Errorf("failed to store index entries: %w", err)
	}

	s.logger.Printf("Index built: %d entries (dimension: %d) in collection %q", len(entries), dimension, s.config.Collection)
	return nil
}

// Load verifies that a previously persisted index exists without
// recomputing anything. Returns IndexNotFoundError if it is absent.
func (s *IndexService) Load(ctx context.Context) error {
	exists, err := s.vectorRepo.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return &IndexNotFoundError{Collection: s.config.Collection}
	}

	count, err := s.vectorRepo.CountChunks(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("failed to count index entries: %w", err)
	}
	if count == 0 {
		return &IndexNotFoundError{Collection: s.config.Collection}
	}

	s.logger.Printf("Loaded index: collection %q with %d entries", s.config.Collection, count)
	return nil
}

// Query embeds the text and returns the topK nearest chunks, ordered from
// most to least similar
func (s *IndexService) Query(ctx context.Context, text string) ([]*models.Chunk, error) {
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	results, err := s.vectorRepo.SearchChunks(ctx, s.config.Collection, vector, s.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	chunks := make([]*models.Chunk, len(results))
	for i, res := range results {
		chunks[i] = &models.Chunk{
			ID:         res.ChunkID,
			SourceURL:  res.SourceURL,
			Text:       res.Text,
			Metadata:   res.Metadata,
			ChunkIndex: res.ChunkIndex,
		}
	}

	return chunks, nil
}

// Count returns the number of entries in the persisted index
func (s *IndexService) Count(ctx context.Context) (int, error) {
	return s.vectorRepo.CountChunks(ctx, s.config.Collection)
}
