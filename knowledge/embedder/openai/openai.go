// Package openai implements knowledge.Embedder against the OpenAI
// embeddings API.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// Config configures the embedder.
type Config struct {
	// Model is the embedding model. Default: text-embedding-3-small.
	Model string

	// Dimensions is the requested vector size. 0 uses the model default
	// (1536 for text-embedding-3-small).
	Dimensions int
}

// Embedder wraps the OpenAI embeddings endpoint. The client reads
// OPENAI_API_KEY from the environment.
type Embedder struct {
	client openai.Client
	cfg    Config
}

// New creates an OpenAI embedder.
func New(cfg Config) *Embedder {
	if cfg.Model == "" {
		cfg.Model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}
	return &Embedder{
		client: openai.NewClient(),
		cfg:    cfg,
	}
}

// Embed converts a single text to an embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model: openai.EmbeddingModel(e.cfg.Model),
	}
	if e.cfg.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.cfg.Dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}

	raw := resp.Data[0].Embedding
	embedding := make([]float32, len(raw))
	for i, v := range raw {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.cfg.Dimensions
}
