package localmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaModel implements Model over an Ollama-compatible HTTP inference
// server (the locally-hosted model a deployment points LOCAL_MODEL_PATH
// at). Grounded on the Ollama provider wiring in
// other_examples/a876983c_ashita-ai-akashi (OLLAMA_URL/OLLAMA_MODEL env
// pair, a reachability probe before selecting the provider), generalized
// from embeddings to text generation.
type OllamaModel struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaModel returns a ModelFactory producing one OllamaModel client
// per worker. Workers share no state, so every factory call is cheap —
// the actual model weights live server-side in the Ollama process.
func NewOllamaModel(baseURL, model string) ModelFactory {
	return func() (Model, error) {
		return &OllamaModel{
			baseURL: baseURL,
			model:   model,
			client:  &http.Client{Timeout: 90 * time.Second},
		}, nil
	}
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Complete sends a single non-streaming generate request. Ollama's own
// server enforces maxTokens via num_predict; temperature is passed through
// unchanged.
func (m *OllamaModel) Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	reqBody := ollamaGenerateRequest{
		Model:  m.model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]interface{}{
			"num_predict": maxTokens,
			"temperature": temperature,
		},
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("localmodel: marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/generate", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("localmodel: build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("localmodel: ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("localmodel: ollama returned %d: %s", resp.StatusCode, body)
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("localmodel: decode ollama response: %w", err)
	}
	return out.Response, nil
}

// Reachable probes the Ollama server's root endpoint. cmd/server calls it
// at startup and logs a warning when the server cannot be reached; startup
// continues either way.
func Reachable(baseURL string) bool {
	client := http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(baseURL)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
