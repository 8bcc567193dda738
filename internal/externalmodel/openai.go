package externalmodel

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAICompleter adapts the OpenAI chat completions API to Completer.
// Grounded on the teacher's byollm.go (same OpenAI-compatible wire
// format), replacing the hand-rolled HTTP client with the official SDK.
type OpenAICompleter struct {
	client openai.Client
	model  string
}

// NewOpenAICompleter creates a completer for the given model. baseURL
// empty uses the default OpenAI endpoint; set it to point at an
// OpenAI-compatible gateway (OpenRouter, Azure OpenAI, etc.), matching
// the teacher's baseURL override in NewBYOLLMClient.
func NewOpenAICompleter(apiKey, baseURL, model string) *OpenAICompleter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	return &OpenAICompleter{client: openai.NewClient(opts...), model: model}
}

func (o *OpenAICompleter) ProviderName() string { return "openai" }

func (o *OpenAICompleter) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, int, int, error) {
	r, err := withRetry(ctx, "openai.Complete", func() (completeResult, error) {
		resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: o.model,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(prompt),
			},
			MaxTokens: openai.Int(int64(maxTokens)),
		})
		if err != nil {
			return completeResult{}, fmt.Errorf("openai: %w", err)
		}
		if len(resp.Choices) == 0 {
			return completeResult{}, fmt.Errorf("openai: empty response")
		}

		return completeResult{
			text:      resp.Choices[0].Message.Content,
			tokensIn:  int(resp.Usage.PromptTokens),
			tokensOut: int(resp.Usage.CompletionTokens),
		}, nil
	})
	if err != nil {
		return "", 0, 0, err
	}
	return r.text, r.tokensIn, r.tokensOut, nil
}
