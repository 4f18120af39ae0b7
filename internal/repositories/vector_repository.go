package repositories

import (
	"context"
)

// VectorRepository defines the interface for vector index storage.
// This abstracts ChromaDB operations and allows for easy testing.
type VectorRepository interface {
	// Collection Management
	CreateCollection(ctx context.Context, name string, metadata map[string]interface{}) error
	DeleteCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	CountChunks(ctx context.Context, name string) (int, error)

	// Index Entries
	StoreChunks(ctx context.Context, collectionName string, chunks []*Chunk) error
	SearchChunks(ctx context.Context, collectionName string, queryEmbedding []float32, topK int) ([]*SearchResult, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// Chunk represents an index entry: chunk text plus its embedding and metadata
type Chunk struct {
	ID         string                 `json:"id"`
	SourceURL  string                 `json:"source_url"`
	Text       string                 `json:"text"`
	Embedding  []float32              `json:"embedding"`
	Metadata   map[string]interface{} `json:"metadata"`
	ChunkIndex int                    `json:"chunk_index"`
}

// SearchResult represents a single result from vector similarity search
type SearchResult struct {
	ChunkID    string                 `json:"chunk_id"`
	SourceURL  string                 `json:"source_url"`
	Text       string                 `json:"text"`
	Score      float32                `json:"score"` // Similarity score (0-1, higher is better)
	Distance   float32                `json:"distance"`
	Metadata   map[string]interface{} `json:"metadata"`
	ChunkIndex int                    `json:"chunk_index"`
}

// VectorRepositoryError represents errors from the vector repository
type VectorRepositoryError struct {
	Operation string
	Err       error
	Message   string
}

func (e *VectorRepositoryError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Operation + ": " + e.Err.Error()
	}
	return e.Operation + ": unknown error"
}

func (e *VectorRepositoryError) Unwrap() error {
	return e.Err
}

// NewVectorRepositoryError creates a new vector repository error
func NewVectorRepositoryError(operation string, err error, message string) *VectorRepositoryError {
	return &VectorRepositoryError{
		Operation: operation,
		Err:       err,
		Message:   message,
	}
}

// Common error constructors
func CollectionNotFoundError(name string) error {
	return NewVectorRepositoryError(
		"get_collection",
		nil,
		"collection not found: "+name,
	)
}

func CollectionAlreadyExistsError(name string) error {
	return NewVectorRepositoryError(
		"create_collection",
		nil,
		"collection already exists: "+name,
	)
}
