// File path: internal/llm/llm.go
package llm

import (
	"os"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/crawlchat/crawlchat/internal/common"
	"github.com/crawlchat/crawlchat/internal/llm/providers"
)

type Message = providers.Message

type CandidatePreference = providers.CandidatePreference

// Providers bundles the external capabilities the core depends on. One
// concrete provider usually backs all three, but callers only see the
// capability they need.
type Providers struct {
	Chat     providers.ChatProvider
	Embed    providers.EmbeddingProvider
	Classify providers.ClassificationProvider
}

// NewProviders selects the OpenAI adapter when OPENAI_API_KEY is set and the
// offline local provider otherwise.
func NewProviders() Providers {
	logger := common.Logger()
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		logger.Warn("llm: OPENAI_API_KEY not set; using local provider")
		local := providers.NewLocalProvider()
		return Providers{Chat: local, Embed: local, Classify: local}
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if endpoint := strings.TrimSpace(os.Getenv("OPENAI_ENDPOINT")); endpoint != "" {
		logger.Info("llm: using custom OpenAI endpoint", "endpoint", endpoint)
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	if raw := strings.TrimSpace(os.Getenv("OPENAI_HTTP_TIMEOUT")); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			logger.Warn("llm: invalid OPENAI_HTTP_TIMEOUT, using default", "value", raw, "error", err)
		} else {
			opts = append(opts, option.WithRequestTimeout(timeout))
		}
	}
	client := openai.NewClient(opts...)
	provider := providers.NewOpenAIProvider(client)
	logger.Info("llm: OpenAI provider selected")
	return Providers{Chat: provider, Embed: provider, Classify: provider}
}
