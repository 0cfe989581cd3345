package memory

import "context"

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	// Embed returns nil with no error for text that carries nothing to embed.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summariser folds evicted queue messages into the rolling queue summary.
type Summariser interface {
	// Summarise returns a new summary that preserves the facts of previous
	// and adds those of evicted.
	Summarise(ctx context.Context, previous string, evicted []Message) (string, error)
}
