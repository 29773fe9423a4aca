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

// BatchEmbeddingRequest is the wire contract of the embedding sidecar's
// /batch_embed endpoint.
type BatchEmbeddingRequest struct {
	Texts []string `json:"texts"`
}

type BatchEmbeddingResponse struct {
	Id        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Vectors   [][]float32 `json:"vectors"`
	Model     string      `json:"model"`
	Dim       int         `json:"dim"`
}

// SidecarEmbeddingClient calls the local embedding sidecar. The sidecar
// serves /embed for single texts and /batch_embed for batches; this client
// always uses the batch endpoint.
type SidecarEmbeddingClient struct {
	httpClient *http.Client
	batchURL   string
}

func NewSidecarEmbeddingClient() (*SidecarEmbeddingClient, error) {
	embedURL := os.Getenv("EMBEDDING_SERVICE_URL")
	if embedURL == "" {
		slog.Warn("EMBEDDING_SERVICE_URL is missing.")
		return nil, fmt.Errorf("EMBEDDING_SERVICE_URL is missing")
	}

	// The env var points at the single-text endpoint. Derive the batch URL.
	batchURL := strings.TrimSuffix(embedURL, "/embed") + "/batch_embed"

	return &SidecarEmbeddingClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		batchURL:   batchURL,
	}, nil
}

// Embed implements the EmbeddingClient interface
func (s *SidecarEmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.batchURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("Calling embedding sidecar", "url", s.batchURL, "batch_size", len(texts))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &datatypes.ProviderError{
			Kind:      datatypes.KindProviderUnavailable,
			Provider:  "embedding-sidecar",
			Message:   err.Error(),
			Retryable: true,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, providerStatusError("embedding-sidecar", resp.StatusCode, string(bodyBytes))
	}

	var embedResp BatchEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}

	if len(embedResp.Vectors) != len(texts) {
		return nil, fmt.Errorf("sidecar returned %d vectors for %d texts", len(embedResp.Vectors), len(texts))
	}

	return embedResp.Vectors, nil
}
