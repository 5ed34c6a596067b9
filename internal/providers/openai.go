package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chainpulse/chainpulse/internal/models"
)

// ErrMissingAPIKey means the OpenAI key is not configured; the caller
// falls back to canned commentary.
var ErrMissingAPIKey = errors.New("API key not configured")

// OpenAI proxies chat completions for the AI market-insight endpoint.
type OpenAI struct {
	client
	apiKey string
	model  string
}

// NewOpenAI creates an OpenAI client.
func NewOpenAI(opts Options, apiKey string) *OpenAI {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		client: newClient("openai", opts),
		apiKey: apiKey,
		model:  "gpt-4o-mini",
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// ChatInsight requests a short market commentary for the given prompt.
func (o *OpenAI) ChatInsight(ctx context.Context, prompt string) (models.Insight, error) {
	if o.apiKey == "" {
		return models.Insight{}, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}

	payload, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a concise crypto market analyst. Answer in at most three sentences."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return models.Insight{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return models.Insight{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	var resp chatResponse
	if err := o.doJSON(ctx, req, &resp); err != nil {
		return models.Insight{}, err
	}
	if len(resp.Choices) == 0 {
		return models.Insight{}, fmt.Errorf("openai: empty completion")
	}

	return models.Insight{
		Prompt:    prompt,
		Text:      resp.Choices[0].Message.Content,
		Model:     resp.Model,
		CreatedAt: time.Now().UTC(),
	}, nil
}
