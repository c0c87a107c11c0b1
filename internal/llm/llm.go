// Package llm corrects essays with an OpenAI-compatible chat model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/gabarito/internal/llm/prompts"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("LLM returned an empty reply")

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
	prompts *prompts.Set
}

// New creates a new LLM client that builds its prompts from set with the
// given variant.
func New(baseURL, apiKey, modelName string, set *prompts.Set, variant prompts.PromptVariant) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if variant == "" {
		variant = prompts.PromptStandard
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variant,
		prompts: set,
	}
}

// CorrectEssay asks the model to correct text according to criterion and
// returns the reply verbatim.
func (c *Client) CorrectEssay(ctx context.Context, text, criterion string) (string, error) {
	systemPrompt, err := c.prompts.BuildEssayPrompt(c.variant, criterion)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompts.EssayMessage(text)},
		},
		Temperature: temperature(c.variant),
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("LLM response", "variant", c.variant, "tokens", resp.Usage.TotalTokens, "chars", len(reply))
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// Ping checks that the endpoint answers and offers the configured model.
func (c *Client) Ping(ctx context.Context) error {
	models, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range models.Models {
		if m.ID == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %q not offered by the endpoint", c.model)
}

func temperature(v prompts.PromptVariant) float32 {
	switch v {
	case prompts.PromptStrict:
		return 0.1
	case prompts.PromptLenient:
		return 0.5
	}
	return 0.3
}
