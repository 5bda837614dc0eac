package embeddings

import "errors"

// Embedder defines the interface for converting text into vector representations.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// ErrEmptyEmbedding is returned when a provider answers without a vector.
var ErrEmptyEmbedding = errors.New("provider returned an empty embedding")

// EmbedderFunc adapts a plain function to the Embedder interface.
type EmbedderFunc func(text string) ([]float32, error)

func (f EmbedderFunc) Embed(text string) ([]float32, error) { return f(text) }
