// Package openai provides an Embedder backed by the OpenAI embeddings API.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jobmesh/jobmesh/core"
)

const maxBatchSize = 100

// Embedder generates embedding vectors via the OpenAI embeddings endpoint.
type Embedder struct {
	client    openai.Client
	model     openai.EmbeddingModel
	dimension int
}

// Options configures an Embedder.
type Options struct {
	// Model defaults to text-embedding-3-small.
	Model openai.EmbeddingModel
	// Dimension truncates the output vectors when > 0 (supported by the
	// v3 embedding models).
	Dimension int
	// APIKey overrides the OPENAI_API_KEY environment variable.
	APIKey string
	// BaseURL overrides the API endpoint, e.g. for a proxy.
	BaseURL string
}

// NewEmbedder creates an OpenAI-backed embedder.
func NewEmbedder(optFns ...func(o *Options)) *Embedder {
	opts := Options{Model: openai.EmbeddingModelTextEmbedding3Small}
	for _, fn := range optFns {
		fn(&opts)
	}

	var reqOpts []option.RequestOption
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &Embedder{
		client:    openai.NewClient(reqOpts...),
		model:     opts.Model,
		dimension: opts.Dimension,
	}
}

// Embed generates one vector per input text, index-aligned with the input.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, core.InputInvalid("embed", fmt.Errorf("no texts provided"))
	}
	if len(texts) > maxBatchSize {
		return nil, core.InputInvalid("embed", fmt.Errorf("batch size %d exceeds maximum of %d", len(texts), maxBatchSize))
	}

	params := openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, core.TransientIO("embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, core.TransientIO("embed", fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
