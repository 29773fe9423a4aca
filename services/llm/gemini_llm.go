package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

// GeminiClient talks to the Google Gemini API through the official SDK.
// It implements both LLMClient and EmbeddingClient since Gemini exposes
// generation and embedding models behind the same credentials.
type GeminiClient struct {
	client     *genai.Client
	model      string
	embedModel string
}

func NewGeminiClient(ctx context.Context) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	model := os.Getenv("GEMINI_MODEL")
	embedModel := os.Getenv("GEMINI_EMBED_MODEL")

	// 1. Robust Secret Loading
	if apiKey == "" {
		secretPath := "/run/secrets/gemini_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Gemini API Key from Podman Secrets")
		}
	}

	// 2. Graceful Failure
	if apiKey == "" {
		slog.Warn("Gemini API Key is missing.")
		return nil, fmt.Errorf("GEMINI_API_KEY is missing")
	}

	if model == "" {
		model = "gemini-1.5-flash"
		slog.Info("GEMINI_MODEL not set, defaulting to", "model", model)
	}
	if embedModel == "" {
		embedModel = "text-embedding-004"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:     client,
		model:      model,
		embedModel: embedModel,
	}, nil
}

// Close releases the underlying API connection. Call it when the process
// shuts down, not between requests.
func (g *GeminiClient) Close() error {
	return g.client.Close()
}

// configureModel applies generation parameters onto a fresh model handle.
// The SDK mutates the handle, so each request configures its own.
func (g *GeminiClient) configureModel(params GenerationParams) *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.model)

	if params.Temperature != nil {
		model.SetTemperature(*params.Temperature)
	}
	if params.TopK != nil {
		model.SetTopK(int32(*params.TopK))
	}
	if params.TopP != nil {
		model.SetTopP(*params.TopP)
	}
	if params.MaxTokens != nil {
		model.SetMaxOutputTokens(int32(*params.MaxTokens))
	}
	if len(params.Stop) > 0 {
		model.StopSequences = params.Stop
	}

	return model
}

// Generate implements the LLMClient interface
func (g *GeminiClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	model := g.configureModel(params)

	slog.Debug("Sending request to Gemini", "model", g.model)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyGeminiError(err)
	}

	text, err := extractGeminiText(resp)
	if err != nil {
		return "", err
	}
	return text, nil
}

// Chat implements the LLMClient interface
func (g *GeminiClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*ChatResult, error) {
	model := g.configureModel(params)

	// Gemini carries the system prompt on the model, not in the turn list.
	var turns []datatypes.Message
	for _, msg := range messages {
		if strings.ToLower(msg.Role) == "system" {
			model.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(msg.Content)},
			}
			continue
		}
		turns = append(turns, msg)
	}

	if len(turns) == 0 {
		return nil, fmt.Errorf("no user messages to send to Gemini")
	}

	session := model.StartChat()
	for _, msg := range turns[:len(turns)-1] {
		role := "user"
		if strings.ToLower(msg.Role) == "assistant" {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	last := turns[len(turns)-1]
	resp, err := session.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	text, err := extractGeminiText(resp)
	if err != nil {
		return nil, err
	}

	result := &ChatResult{Content: text}
	if resp.UsageMetadata != nil {
		result.Usage = datatypes.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	} else {
		result.Usage = EstimateUsage(flattenMessages(messages), text)
	}
	return result, nil
}

// Embed implements the EmbeddingClient interface
func (g *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.embedModel)

	batch := em.NewBatch()
	for _, text := range texts {
		batch = batch.AddContent(genai.Text(text))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// extractGeminiText concatenates the text parts of the first candidate.
func extractGeminiText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("received empty response from Gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("received candidates but no text part found")
	}
	return sb.String(), nil
}

func classifyGeminiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return providerStatusError("gemini", gerr.Code, gerr.Message)
	}
	return &datatypes.ProviderError{
		Kind:      datatypes.KindProviderUnavailable,
		Provider:  "gemini",
		Message:   err.Error(),
		Retryable: true,
	}
}
