package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/foker/tgflats-sub000/internal/app/config"
)

// Provider is one inference backend in the fallback chain.
type Provider interface {
	Name() string
	Model() string
	// Complete sends the prompt pair and returns the raw model output.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// chatProvider talks to an OpenAI-compatible chat completions endpoint.
type chatProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewChatProvider returns nil when the provider is not configured, so the
// analyzer's chain can skip it without special cases.
func NewChatProvider(cfg config.AIProviderConfig) Provider {
	if cfg.APIKey == "" || cfg.BaseURL == "" {
		return nil
	}
	return &chatProvider{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *chatProvider) Name() string  { return p.name }
func (p *chatProvider) Model() string { return p.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *chatProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider %s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("provider %s returned status %d: %s", p.name, resp.StatusCode, string(data))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("provider %s response decode failed: %w", p.name, err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("provider %s returned no choices", p.name)
	}
	return cr.Choices[0].Message.Content, nil
}
