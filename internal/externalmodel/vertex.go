package externalmodel

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// VertexCompleter adapts the Vertex AI Gemini SDK to the Completer
// interface. Grounded on the teacher's gcpclient.GenAIAdapter
// (generateContentSDK path); the REST/global-endpoint variant and
// streaming support were teacher concerns tied to its chat handler and
// are not carried over, since Analyze is a single blocking call (§4.3).
type VertexCompleter struct {
	client *genai.Client
	model  string
}

// NewVertexCompleter wraps an already-constructed Vertex AI client.
func NewVertexCompleter(client *genai.Client, model string) *VertexCompleter {
	return &VertexCompleter{client: client, model: model}
}

func (v *VertexCompleter) ProviderName() string { return "vertex" }

func (v *VertexCompleter) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, int, int, error) {
	r, err := withRetry(ctx, "vertex.Complete", func() (completeResult, error) {
		model := v.client.GenerativeModel(v.model)
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
		maxOut := int32(maxTokens)
		model.GenerationConfig.MaxOutputTokens = &maxOut

		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return completeResult{}, fmt.Errorf("vertex: generate: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return completeResult{}, fmt.Errorf("vertex: empty response")
		}

		var parts []string
		for _, p := range resp.Candidates[0].Content.Parts {
			if t, ok := p.(genai.Text); ok {
				parts = append(parts, string(t))
			}
		}

		tokensIn, tokensOut := 0, 0
		if resp.UsageMetadata != nil {
			tokensIn = int(resp.UsageMetadata.PromptTokenCount)
			tokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
		}

		return completeResult{text: strings.Join(parts, ""), tokensIn: tokensIn, tokensOut: tokensOut}, nil
	})
	if err != nil {
		return "", 0, 0, err
	}
	return r.text, r.tokensIn, r.tokensOut, nil
}

type completeResult struct {
	text      string
	tokensIn  int
	tokensOut int
}
