// Package embedding provides a client for the external embedding service.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"aibot-go/internal/config"
	"aibot-go/pkg/log"

	"github.com/cenkalti/backoff/v4"
)

// ErrEmbeddingUnavailable is returned when the provider fails or times out
// after retries are exhausted.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// Client converts text to a fixed-length vector.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewClient creates an embedding client for an OpenAI-compatible API.
func NewClient(cfg config.EmbeddingConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// CreateEmbedding calls the embedding API with bounded retries and exponential
// backoff on transient failures. Non-retryable provider responses fail fast.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var vector []float32

	operation := func() error {
		v, err := c.createOnce(ctx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		log.Errorf("[EmbeddingClient] embedding call failed after retries: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	return vector, nil
}

func (c *openAICompatibleClient) createOnce(ctx context.Context, text string) ([]float32, error) {
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      []string{text},
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to marshal embedding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create embedding request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// network error or timeout: retryable
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("embedding api returned status %s", resp.Status)
		if retryableStatus(resp.StatusCode) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode embedding response: %w", err))
	}

	if len(embeddingResp.Data) == 0 || len(embeddingResp.Data[0].Embedding) == 0 {
		return nil, backoff.Permanent(errors.New("received empty embedding from api"))
	}

	return embeddingResp.Data[0].Embedding, nil
}

// retryableStatus reports whether an HTTP status is a transient failure.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
