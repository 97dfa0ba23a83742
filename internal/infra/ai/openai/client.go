package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/Bevor-Protocol/certaik-api/internal/domain/ai"
)

const defaultModel = "gpt-4o-mini"

// Client adapts go-openai chat completions to ai.Client
type Client struct {
	api   *openai.Client
	Model string
}

// NewClient builds a client for apiKey. An empty baseURL keeps the public endpoint.
func NewClient(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{api: openai.NewClientWithConfig(cfg), Model: model}
}

func (c *Client) Complete(ctx context.Context, r ai.Request) (ai.Response, error) {
	model := r.Model
	if model == "" {
		model = c.Model
	}
	if model == "" {
		model = defaultModel
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(r.Messages)),
	}
	for _, m := range r.Messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	if r.Schema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   r.Schema.Name,
				Schema: r.Schema.Definition,
				Strict: true,
			},
		}
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(model) {
		req.MaxCompletionTokens = r.MaxOutputTokens
	} else {
		req.MaxTokens = r.MaxOutputTokens
		req.Temperature = r.Temperature
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return ai.Response{}, translate(err)
	}
	if len(resp.Choices) == 0 {
		return ai.Response{}, ai.ErrEmptyResponse
	}

	return ai.Response{
		Text: resp.Choices[0].Message.Content,
		Usage: ai.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// translate keeps go-openai error types out of callers
func translate(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ai.ErrQuotaExceeded, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ai.ErrProviderFailure, err)
	}
	return fmt.Errorf("%w: %v", ai.ErrProviderFailure, err)
}
