// File path: internal/llm/providers/local.go
package providers

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const localVectorDim = 64

// LocalProvider is an offline stand-in used when no API key is configured.
// Embeddings are deterministic token-hash vectors, so similarity search is
// stable even without a real model.
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

func (l *LocalProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	last := strings.TrimSpace(messages[len(messages)-1].Content)
	return "[local] " + last, nil
}

func (l *LocalProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	vectors := make([][]float32, len(input))
	for i, text := range input {
		vectors[i] = hashEmbedding(text)
	}
	return vectors, nil
}

func (l *LocalProvider) Classify(ctx context.Context, message, reply string) ([]CandidatePreference, error) {
	return nil, nil
}

func (l *LocalProvider) Name() string { return "local" }

func hashEmbedding(text string) []float32 {
	vec := make([]float32, localVectorDim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%localVectorDim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
