package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// OllamaGenerator uses a local Ollama instance for text generation.
type OllamaGenerator struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaGenerator creates a generator using Ollama's API.
func NewOllamaGenerator(baseURL, model string) *OllamaGenerator {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_HOST")
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaGenerator{
		baseURL: baseURL,
		model:   model,
		// LLM generation can be slow
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaGenRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (g *OllamaGenerator) do(ctx context.Context, system, prompt string, stream bool) (*http.Response, error) {
	body, _ := json.Marshal(ollamaGenRequest{Model: g.model, System: system, Prompt: prompt, Stream: stream})
	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(b))
	}
	return resp, nil
}

func (g *OllamaGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.do(ctx, system, prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result ollamaGenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Response, nil
}

// Stream reads Ollama's newline-delimited JSON stream.
func (g *OllamaGenerator) Stream(ctx context.Context, system, prompt string, fn func(string) error) error {
	resp, err := g.do(ctx, system, prompt, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var chunk ollamaGenResponse
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Response != "" {
			if err := fn(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			break
		}
	}
	return scanner.Err()
}
