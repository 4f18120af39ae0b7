package models

// Chunk represents a bounded slice of a source document's plain text.
// Chunks are the unit stored in and returned from the vector index.
type Chunk struct {
	ID         string                 `json:"id"`
	SourceURL  string                 `json:"source_url"`
	Text       string                 `json:"text"`
	Embedding  []float32              `json:"embedding,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	ChunkIndex int                    `json:"chunk_index"`
}

// Validate checks if the chunk is valid
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return &ValidationError{Field: "id", Message: "chunk ID is required"}
	}
	if c.SourceURL == "" {
		return &ValidationError{Field: "source_url", Message: "source URL is required"}
	}
	if c.Text == "" {
		return &ValidationError{Field: "text", Message: "text is required"}
	}
	if c.ChunkIndex < 0 {
		return &ValidationError{Field: "chunk_index", Message: "chunk index cannot be negative"}
	}
	return nil
}
