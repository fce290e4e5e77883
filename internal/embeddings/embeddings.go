// Package embeddings generates text embeddings for semantic search. The
// OpenAI provider is optional: without an API key the store falls back to
// keyword matching.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Provider turns text into an embedding vector. Implementations must be safe
// for concurrent use.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAI embeds text with the OpenAI embeddings API.
type OpenAI struct {
	client openai.Client
	model  openai.EmbeddingModel
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI builds a provider using text-embedding-3-small.
func NewOpenAI(apiKey string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  openai.EmbeddingModelTextEmbedding3Small,
	}, nil
}

// Embed implements Provider.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: o.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response contained no data")
	}
	src := resp.Data[0].Embedding
	out := make([]float32, len(src))
	for i, f := range src {
		out[i] = float32(f)
	}
	return out, nil
}
