package llm

import (
	"context"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ChatResult carries the assistant reply plus token accounting.
// Backends that do not report usage fill it with EstimateUsage.
type ChatResult struct {
	Content string               `json:"content"`
	Usage   datatypes.TokenUsage `json:"usage"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*ChatResult, error)
}

// EmbeddingClient produces dense vectors for text batches.
// The returned slice is index-aligned with the input texts.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EstimateTokens approximates the token count of a text using the
// 4-bytes-per-token heuristic. Good enough for budget accounting;
// never used for billing.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateUsage builds a TokenUsage from raw prompt and completion text
// for backends that do not report token counts.
func EstimateUsage(promptText, completionText string) datatypes.TokenUsage {
	prompt := EstimateTokens(promptText)
	completion := EstimateTokens(completionText)
	return datatypes.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// flattenMessages joins chat messages into a single prompt string for
// backends that only expose a completion endpoint.
func flattenMessages(messages []datatypes.Message) string {
	var out string
	for _, msg := range messages {
		out += msg.Role + ": " + msg.Content + "\n"
	}
	return out
}
