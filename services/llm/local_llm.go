package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

type LocalLlamaCppClient struct {
	httpClient *http.Client
	baseURL    string
}

type localCompletionPayload struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type localCompletionResp struct {
	Content string `json:"content"`
}

// llama.cpp server exposes an OpenAI-compatible chat endpoint alongside
// its native /completion endpoint. Chat goes through the former so the
// server applies the model's chat template.
type localChatPayload struct {
	Messages    []localChatMessage `json:"messages"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopK        *int               `json:"top_k,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	MaxTokens   *int               `json:"max_tokens,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
}

type localChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type localChatResp struct {
	Choices []struct {
		Message localChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func NewLocalLlamaCppClient() (*LocalLlamaCppClient, error) {
	baseURL := os.Getenv("LLM_SERVICE_URL_BASE")
	if baseURL == "" {
		return nil, fmt.Errorf("LLM_SERVICE_URL_BASE environment variable not set")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &LocalLlamaCppClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
	}, nil
}

// Generate implements the LLMClient interface
func (l *LocalLlamaCppClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {

	completionURL := l.baseURL + "/completion"
	payload := localCompletionPayload{Prompt: prompt}
	if params.MaxTokens != nil {
		payload.NPredict = *params.MaxTokens
	} else {
		payload.NPredict = 512
	}
	if params.Temperature != nil {
		payload.Temperature = params.Temperature
	} else {
		var defaultTemperature float32 = 0.2
		payload.Temperature = &defaultTemperature
	}
	if params.TopK != nil {
		payload.TopK = params.TopK
	} else {
		defaultTopK := 20
		payload.TopK = &defaultTopK
	}
	if params.TopP != nil {
		payload.TopP = params.TopP
	} else {
		var defaultTopP float32 = 0.9
		payload.TopP = &defaultTopP
	}
	if params.Stop != nil {
		payload.Stop = params.Stop
	}

	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal the payload: %w", err)
	}
	slog.Debug("Calling llama.cpp completion", "url", completionURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, completionURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request to llama.cpp: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", &datatypes.ProviderError{
			Kind:      datatypes.KindProviderUnavailable,
			Provider:  "llama.cpp",
			Message:   err.Error(),
			Retryable: true,
		}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read the llm's response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", providerStatusError("llama.cpp", resp.StatusCode, string(body))
	}
	var llmResponseBody localCompletionResp
	if err := json.Unmarshal(body, &llmResponseBody); err != nil {
		return "", fmt.Errorf("failed to parse the llm response: %w", err)
	}
	return llmResponseBody.Content, nil
}

// Chat implements the LLMClient interface
func (l *LocalLlamaCppClient) Chat(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (*ChatResult, error) {

	chatURL := l.baseURL + "/v1/chat/completions"
	payload := localChatPayload{
		Temperature: params.Temperature,
		TopK:        params.TopK,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
		Stop:        params.Stop,
	}
	for _, msg := range messages {
		payload.Messages = append(payload.Messages, localChatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat payload: %w", err)
	}
	slog.Debug("Calling llama.cpp chat", "url", chatURL, "num_messages", len(messages))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request to llama.cpp: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, &datatypes.ProviderError{
			Kind:      datatypes.KindProviderUnavailable,
			Provider:  "llama.cpp",
			Message:   err.Error(),
			Retryable: true,
		}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat response from llama.cpp: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, providerStatusError("llama.cpp", resp.StatusCode, string(body))
	}

	var chatResp localChatResp
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse chat response from llama.cpp: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("llama.cpp returned no choices")
	}

	result := &ChatResult{
		Content: chatResp.Choices[0].Message.Content,
		Usage: datatypes.TokenUsage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}
	if result.Usage.TotalTokens == 0 {
		result.Usage = EstimateUsage(flattenMessages(messages), result.Content)
	}
	return result, nil
}

// providerStatusError classifies an HTTP status from a provider into
// the shared error taxonomy. 5xx and 429 are retryable.
func providerStatusError(provider string, statusCode int, body string) error {
	kind := datatypes.KindProviderUnavailable
	retryable := statusCode >= 500
	if statusCode == http.StatusTooManyRequests {
		kind = datatypes.KindProviderRateLimited
		retryable = true
	} else if statusCode >= 400 && statusCode < 500 {
		kind = datatypes.KindInvalidResponse
	}
	return &datatypes.ProviderError{
		Kind:       kind,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    body,
		Retryable:  retryable,
	}
}
