// File path: internal/embedding/gateway.go
package embedding

import (
	"context"
	"strings"
	"time"

	"github.com/crawlchat/crawlchat/internal/common"
	"github.com/crawlchat/crawlchat/internal/fault"
	"github.com/crawlchat/crawlchat/internal/llm/providers"
)

const (
	defaultAttempts    = 3
	defaultBaseBackoff = 500 * time.Millisecond
	defaultCallTimeout = 30 * time.Second
)

// Gateway wraps an embedding provider with the resilience policy the rest of
// the system relies on: bounded retries with exponential backoff for
// transient failures, a per-call timeout, and typed errors. It carries no
// business logic.
type Gateway struct {
	provider    providers.EmbeddingProvider
	attempts    int
	baseBackoff time.Duration
	callTimeout time.Duration
}

type Option func(*Gateway)

// WithAttempts bounds the total number of tries per call.
func WithAttempts(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.attempts = n
		}
	}
}

// WithBackoff sets the base delay doubled between retries.
func WithBackoff(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.baseBackoff = d
		}
	}
}

// WithCallTimeout bounds a single provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.callTimeout = d
		}
	}
}

func NewGateway(provider providers.EmbeddingProvider, opts ...Option) *Gateway {
	g := &Gateway{
		provider:    provider,
		attempts:    defaultAttempts,
		baseBackoff: defaultBaseBackoff,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Embed returns the vector for a single text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fault.New(fault.KindValidation, "cannot embed empty text")
	}
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fault.New(fault.KindFatal, "provider returned no vector")
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input text, in order.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fault.New(fault.KindValidation, "cannot embed empty text")
		}
	}
	logger := common.Logger()
	var lastErr error
	backoff := g.baseBackoff
	for attempt := 1; attempt <= g.attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		vectors, err := g.provider.Embed(callCtx, texts)
		cancel()
		if err == nil {
			if len(vectors) != len(texts) {
				return nil, fault.New(fault.KindFatal, "provider returned %d vectors for %d inputs", len(vectors), len(texts))
			}
			return vectors, nil
		}
		lastErr = err
		if !fault.IsTransient(err) {
			return nil, err
		}
		if attempt == g.attempts {
			break
		}
		logger.Warn("embedding: transient failure, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return nil, fault.Wrap(fault.KindTransient, ctx.Err(), "embedding cancelled")
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}
