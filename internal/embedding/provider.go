// Package embedding turns text into fixed-dimension vectors for similarity
// search. The same provider must be used at build time and at query time.
package embedding

import "context"

// Provider embeds text into a fixed-length float vector.
//
// Implementations must be deterministic for the same input text and model;
// similarity between vectors from different providers is meaningless.
type Provider interface {
	// ModelID identifies the embedding function, recorded in the index
	// manifest and checked on load.
	ModelID() string

	// Dimension returns the vector length, 0 if not yet known.
	Dimension() int

	// Embed returns the vector for text. The result is L2-normalized.
	Embed(ctx context.Context, text string) ([]float32, error)
}
