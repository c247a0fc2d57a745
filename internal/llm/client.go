// Package llm holds the collaborator interfaces research workflows call out
// to, plus their default adapters. The scheduler never sees these types;
// provider errors surface as ordinary work errors subject to retry policy.
package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyCompletion is returned when the provider answers with no choices.
var ErrEmptyCompletion = errors.New("provider returned empty completion")

// Client generates text completions.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OpenAI implements Client over the OpenAI chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI-backed client. An empty baseURL uses the
// default API endpoint; model defaults to gpt-4o-mini.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	if model == "" {
		model = openai.GPT4oMini
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Complete sends prompt as a single user message and returns the first
// choice.
func (c *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
