// Package nimclient holds the thin HTTP clients for the upstream NVIDIA
// NIM / OpenAI-compatible inference endpoints.
package nimclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prana-labs/wellness-backend/internal/errs"
)

// Message is one chat turn sent to the completions endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMClient calls an OpenAI-compatible chat-completions API. Safe for
// concurrent use; created once at startup.
type LLMClient struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
}

// NewLLMClient creates an LLMClient. The apiURL must point at the
// chat-completions endpoint itself.
func NewLLMClient(apiKey, apiURL, model string) (*LLMClient, error) {
	if apiKey == "" {
		return nil, errs.New(errs.ErrConfiguration, "LLM API key is required")
	}
	if apiURL == "" {
		apiURL = "https://integrate.api.nvidia.com/v1/chat/completions"
	}
	return &LLMClient{
		apiKey: apiKey,
		apiURL: strings.TrimRight(apiURL, "/"),
		model:  model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// Model returns the configured model identifier.
func (c *LLMClient) Model() string { return c.model }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate performs one non-streaming chat completion and returns the
// assistant message content.
func (c *LLMClient) Generate(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("llm: request cancelled: %w", ctx.Err())
		}
		return "", errs.New(errs.ErrResponseGeneration, "llm: request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", errs.New(errs.ErrResponseGeneration, "llm: auth failed: %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", errs.New(errs.ErrResponseGeneration, "llm: rate limited")
	case resp.StatusCode >= 500:
		return "", errs.New(errs.ErrResponseGeneration, "llm: server error: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", errs.New(errs.ErrResponseGeneration, "llm: unexpected status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", errs.New(errs.ErrResponseGeneration, "llm: decode response: %v", err)
	}
	if parsed.Error != nil {
		return "", errs.New(errs.ErrResponseGeneration, "llm: API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", errs.New(errs.ErrResponseGeneration, "llm: empty response")
	}

	return parsed.Choices[0].Message.Content, nil
}
