package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiEmbedder uses the Gemini embedding API. Vectors are normalized
// so L2 distances stay on the unit-sphere scale shared with the other
// providers.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGeminiEmbedder creates an embedder backed by the Gemini API.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dims int) (*GeminiEmbedder, error) {
	if model == "" {
		model = "gemini-embedding-001"
	}
	if dims == 0 {
		dims = 768
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model, dims: dims}, nil
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: text}}}}
	dim := int32(e.dims)
	res, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(res.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	v := res.Embeddings[0].Values
	Normalize(v)
	return v, nil
}

func (e *GeminiEmbedder) Dims() int { return e.dims }
