package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Rechecker asks a chat model whether two risks describe the same scenario.
// Implementations must be thread-safe for concurrent use.
type Rechecker interface {
	// Compare issues one scoring request for the pair. A response that cannot
	// be parsed is not an error; transport failures are.
	Compare(ctx context.Context, a, b Subject) (*Assessment, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Rechecker returns the semantic re-check service.
	Rechecker() Rechecker

	// Close releases resources held by the provider and its services.
	Close() error
}
