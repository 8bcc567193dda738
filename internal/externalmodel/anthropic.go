package externalmodel

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicCompleter adapts the Anthropic Messages API to Completer.
// Grounded on the teacher's byollm.go, generalized from a hand-rolled
// OpenAI-compatible HTTP body to the provider's own SDK client.
type AnthropicCompleter struct {
	client anthropic.Client
	model  string
}

// NewAnthropicCompleter creates a completer for the given model using the
// given API key.
func NewAnthropicCompleter(apiKey, model string) *AnthropicCompleter {
	return &AnthropicCompleter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (a *AnthropicCompleter) ProviderName() string { return "anthropic" }

func (a *AnthropicCompleter) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, int, int, error) {
	r, err := withRetry(ctx, "anthropic.Complete", func() (completeResult, error) {
		resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: int64(maxTokens),
			System: []anthropic.TextBlockParam{
				{Text: system},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return completeResult{}, fmt.Errorf("anthropic: %w", err)
		}

		var parts []string
		for _, block := range resp.Content {
			if block.Type == "text" {
				parts = append(parts, block.Text)
			}
		}

		return completeResult{
			text:      strings.Join(parts, ""),
			tokensIn:  int(resp.Usage.InputTokens),
			tokensOut: int(resp.Usage.OutputTokens),
		}, nil
	})
	if err != nil {
		return "", 0, 0, err
	}
	return r.text, r.tokensIn, r.tokensOut, nil
}
