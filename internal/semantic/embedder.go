// Package semantic implements the similarity cache layer: prompts are
// embedded, indexed, and matched by cosine similarity against prior prompts
// so a reworded question can reuse an earlier answer.
//
// The layer is strictly best-effort. Every failure path (embedding call,
// index backend) degrades to a miss on reads and a no-op on writes; the
// gateway never fails a request because the semantic cache is down.
package semantic

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder embeds text via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
	dims   int
}

// NewOpenAIEmbedder creates an embedder for the given model and output
// dimension count, authenticated with apiKey.
func NewOpenAIEmbedder(apiKey, model string, dims int, opts ...option.RequestOption) *OpenAIEmbedder {
	allOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIEmbedder{
		client: openai.NewClient(allOpts...),
		model:  model,
		dims:   dims,
	}
}

// Embed returns the embedding vector for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: openai.Int(int64(e.dims)),
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("semantic: embed: empty response")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}
