package services

// EmbeddingProviderError indicates the embedding provider was unreachable or
// returned malformed vectors. During an index build this aborts the whole
// build; nothing is persisted.
type EmbeddingProviderError struct {
	Op  string
	Err error
}

func (e *EmbeddingProviderError) Error() string {
	if e.Err != nil {
		return "embedding provider: " + e.Op + ": " + e.Err.Error()
	}
	return "embedding provider: " + e.Op
}

func (e *EmbeddingProviderError) Unwrap() error {
	return e.Err
}

// LLMProviderError indicates a completion or streaming call failed. A
// mid-stream failure leaves the caller with a truncated stream; the partial
// answer is never persisted.
type LLMProviderError struct {
	Op  string
	Err error
}

func (e *LLMProviderError) Error() string {
	if e.Err != nil {
		return "llm provider: " + e.Op + ": " + e.Err.Error()
	}
	return "llm provider: " + e.Op
}

func (e *LLMProviderError) Unwrap() error {
	return e.Err
}

// IndexNotFoundError indicates that no persisted vector index exists at the
// configured location. Fatal at startup, before any traffic is accepted.
type IndexNotFoundError struct {
	Collection string
}

func (e *IndexNotFoundError) Error() string {
	return "vector index not found: collection " + e.Collection
}
