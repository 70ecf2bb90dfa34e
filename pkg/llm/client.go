// Package llm provides a client for the chat completion service.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aibot-go/internal/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// ErrCompletionUnavailable is returned when the provider fails or times out
// after retries are exhausted.
var ErrCompletionUnavailable = errors.New("completion service unavailable")

// FinishLength is the finish reason reported when generation was truncated by
// the token limit.
const FinishLength = "length"

// MessageWriter is the sink for streamed response chunks. Both a
// websocket.Conn and test interceptors satisfy it.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams overrides generation behavior per call.
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Completion is a full (non-streamed) model response.
type Completion struct {
	Content      string
	FinishReason string
}

// Client is the chat completion interface.
type Client interface {
	// Complete performs a full completion and reports the finish reason, so
	// callers can detect truncation.
	Complete(ctx context.Context, messages []Message, gen *GenerationParams) (*Completion, error)
	// StreamChatMessages streams response chunks into writer.
	StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a completion client for an OpenAI-compatible API.
func NewClient(cfg config.LLMConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *openAICompatibleClient) buildRequest(messages []Message, gen *GenerationParams, stream bool) chatRequest {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   stream,
	}
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
	} else {
		if c.cfg.Generation.Temperature != 0 {
			t := c.cfg.Generation.Temperature
			reqBody.Temperature = &t
		}
		if c.cfg.Generation.TopP != 0 {
			p := c.cfg.Generation.TopP
			reqBody.TopP = &p
		}
		if c.cfg.Generation.MaxTokens != 0 {
			m := c.cfg.Generation.MaxTokens
			reqBody.MaxTokens = &m
		}
	}
	return reqBody
}

// Complete calls the chat API once per attempt, retrying transient failures
// with exponential backoff. A well-formed low-quality answer is a valid
// outcome, never retried.
func (c *openAICompatibleClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (*Completion, error) {
	var result *Completion

	operation := func() error {
		r, err := c.completeOnce(ctx, messages, gen)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompletionUnavailable, err)
	}
	return result, nil
}

func (c *openAICompatibleClient) completeOnce(ctx context.Context, messages []Message, gen *GenerationParams) (*Completion, error) {
	resp, err := c.send(ctx, c.buildRequest(messages, gen, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode chat response: %w", err))
	}
	if len(completion.Choices) == 0 {
		return nil, backoff.Permanent(errors.New("chat api returned no choices"))
	}

	choice := completion.Choices[0]
	return &Completion{Content: choice.Message.Content, FinishReason: choice.FinishReason}, nil
}

// StreamChatMessages streams response chunks into writer. Streaming is not
// retried; a broken stream surfaces to the caller.
func (c *openAICompatibleClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error {
	resp, err := c.send(ctx, c.buildRequest(messages, gen, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read from stream: %w", err)
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")
			if strings.TrimSpace(data) == "[DONE]" {
				break
			}

			var chunk chatStreamResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			if len(chunk.Choices) > 0 {
				content := chunk.Choices[0].Delta.Content
				if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
					return fmt.Errorf("failed to write message to websocket: %w", err)
				}
			}
		}
	}
	return nil
}

func (c *openAICompatibleClient) send(ctx context.Context, reqBody chatRequest) (*http.Response, error) {
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to marshal chat request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create chat request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if reqBody.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		err := fmt.Errorf("chat api returned status %s, body: %s", resp.Status, string(bodyBytes))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	return resp, nil
}
