package memory

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// DefaultHashDimensions is the vector width of HashEmbedder.
const DefaultHashDimensions = 512

// HashEmbedder is a deterministic, offline embedder based on signed feature
// hashing of lower-cased word unigrams and bigrams. Vectors are
// L2-normalised, so identical texts have cosine similarity 1.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a HashEmbedder; dims <= 0 selects
// DefaultHashDimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Embed never fails. Text without any word characters yields nil.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	words := embedWords(text)
	if len(words) == 0 {
		return nil, nil
	}

	vec := make([]float64, h.dims)
	add := func(feature string, weight float64) {
		sum := xxhash.Sum64String(feature)
		idx := sum % uint64(h.dims)
		if sum>>63 == 1 {
			weight = -weight
		}
		vec[idx] += weight
	}
	for i, w := range words {
		add(w, 1)
		if i > 0 {
			add(words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return nil, nil
	}
	norm = math.Sqrt(norm)

	out := make([]float32, h.dims)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// embedWords splits text into lower-cased runs of letters and digits. Text
// with no words carries nothing to embed.
func embedWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var _ Embedder = (*HashEmbedder)(nil)
