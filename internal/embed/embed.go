// Package embed generates vector embeddings for chunk text through any
// OpenAI-compatible embeddings endpoint.
package embed

import "context"

// Embedder turns text into vectors. Implementations must return one vector
// per input, in input order.
type Embedder interface {
	// EmbedBatch embeds inputs and returns vectors aligned with the input
	// slice. Empty inputs produce zero vectors without an API call.
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)

	// Dimensions is the vector width this embedder produces.
	Dimensions() int

	// ModelName identifies the embedding model.
	ModelName() string

	// Close releases any held resources.
	Close() error
}

// zeroVector returns an all-zero vector of the given width. Embedding APIs
// reject empty strings, so blank inputs are mapped to zeros instead.
func zeroVector(dims int) []float32 {
	return make([]float32, dims)
}
