package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiGenerator uses the Gemini API for text generation.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a generator backed by the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func geminiConfig(system string) *genai.GenerateContentConfig {
	if system == "" {
		return nil
	}
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
	}
}

func (g *GeminiGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), geminiConfig(system))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty completion (check safety filters)")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func (g *GeminiGenerator) Stream(ctx context.Context, system, prompt string, fn func(string) error) error {
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), geminiConfig(system)) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			if err := fn(part.Text); err != nil {
				return err
			}
		}
	}
	return nil
}
