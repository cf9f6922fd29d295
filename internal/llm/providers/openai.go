// File path: internal/llm/providers/openai.go
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	openai "github.com/openai/openai-go/v2"

	"github.com/crawlchat/crawlchat/internal/common"
	"github.com/crawlchat/crawlchat/internal/fault"
)

// OpenAIProvider adapts the OpenAI API to the chat, embedding and
// classification capabilities.
type OpenAIProvider struct {
	client     openai.Client
	chatModel  string
	embedModel string
}

func NewOpenAIProvider(client openai.Client) *OpenAIProvider {
	chatModel := os.Getenv("OPENAI_CHAT_MODEL")
	if chatModel == "" {
		chatModel = "gpt-4o"
	}
	embedModel := os.Getenv("OPENAI_EMBED_MODEL")
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	common.Logger().Info("llm: OpenAI provider configured", "chat_model", chatModel, "embed_model", embedModel)
	return &OpenAIProvider{client: client, chatModel: chatModel, embedModel: embedModel}
}

func (o *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	logger := common.Logger()
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.chatModel),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, msg := range messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		logger.Error("llm: chat completion failed", "error", err)
		return "", classifyProviderError(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", fault.New(fault.KindFatal, "chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	logger := common.Logger()
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: input},
	})
	if err != nil {
		logger.Error("llm: embedding request failed", "error", err)
		return nil, classifyProviderError(err, "embedding")
	}
	vectors := make([][]float32, len(resp.Data))
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= len(vectors) {
			continue
		}
		vec := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vec[i] = float32(v)
		}
		vectors[idx] = vec
	}
	return vectors, nil
}

const classifySystemPrompt = `You analyze one exchange between a user and an assistant and extract durable user preferences.
Return a JSON array of objects with keys "type", "value", "context" and "confidence".
Valid types are "like", "dislike" and "expertise". Confidence is a number between 0 and 1.
Return an empty array when the exchange reveals no durable preference.`

func (o *OpenAIProvider) Classify(ctx context.Context, message, reply string) ([]CandidatePreference, error) {
	prompt := fmt.Sprintf("User message:\n%s\n\nAssistant reply:\n%s", message, reply)
	text, err := o.Chat(ctx, []Message{
		{Role: "system", Content: classifySystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, err
	}
	candidates, err := parseCandidates(text)
	if err != nil {
		return nil, fault.Wrap(fault.KindFatal, err, "parse classification output")
	}
	return candidates, nil
}

func (o *OpenAIProvider) Name() string { return "openai" }

// parseCandidates tolerates markdown code fences around the JSON payload.
func parseCandidates(text string) ([]CandidatePreference, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	if text == "" || text == "[]" {
		return nil, nil
	}
	var candidates []CandidatePreference
	if err := json.Unmarshal([]byte(text), &candidates); err != nil {
		return nil, err
	}
	valid := candidates[:0]
	for _, cand := range candidates {
		cand.Type = strings.ToLower(strings.TrimSpace(cand.Type))
		cand.Value = strings.TrimSpace(cand.Value)
		if cand.Type == "" || cand.Value == "" {
			continue
		}
		if cand.Confidence < 0 {
			cand.Confidence = 0
		}
		if cand.Confidence > 1 {
			cand.Confidence = 1
		}
		valid = append(valid, cand)
	}
	return valid, nil
}

// classifyProviderError maps upstream failures onto transient/fatal kinds so
// the embedding gateway's retry policy can act on them.
func classifyProviderError(err error, op string) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 408 || apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return fault.Wrap(fault.KindTransient, err, "%s", op)
		default:
			return fault.Wrap(fault.KindFatal, err, "%s", op)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fault.Wrap(fault.KindTransient, err, "%s timed out", op)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindTransient, err, "%s timed out", op)
	}
	return fault.Wrap(fault.KindTransient, err, "%s", op)
}
