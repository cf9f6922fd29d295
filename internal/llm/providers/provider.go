// File path: internal/llm/providers/provider.go
package providers

import "context"

// Message is a single chat turn exchanged with a completion provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatProvider produces a completion for an ordered message sequence.
type ChatProvider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// EmbeddingProvider turns texts into dense vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
	Name() string
}

// CandidatePreference is a user preference proposed by the classifier from
// one conversation turn.
type CandidatePreference struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Context    string  `json:"context"`
	Confidence float64 `json:"confidence"`
}

// ClassificationProvider inspects a turn and proposes candidate preferences.
type ClassificationProvider interface {
	Classify(ctx context.Context, message, reply string) ([]CandidatePreference, error)
	Name() string
}
