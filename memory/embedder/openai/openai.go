// Package openai embeds text through the OpenAI embeddings API.
package openai

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = string(openai.EmbeddingModelTextEmbedding3Small)

// Config configures the OpenAI embedder.
type Config struct {
	// APIKey authenticates requests. Empty falls back to OPENAI_API_KEY.
	APIKey string

	// BaseURL overrides the API endpoint (proxies, compatible servers).
	BaseURL string

	// Model is the embedding model. Default: text-embedding-3-small.
	Model string

	// Dimensions truncates embeddings server-side when > 0.
	Dimensions int
}

// OpenAIEmbedder calls the embeddings endpoint once per text.
type OpenAIEmbedder struct {
	api        openai.Client
	model      string
	dimensions int
}

// New creates a new OpenAI embedder. The SDK's retries are disabled: retry
// policy belongs to the caller.
func New(cfg Config) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	return &OpenAIEmbedder{
		api:        openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Embed converts text to embedding vector.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.api.Embeddings.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create openai embedding", goerr.V("model", e.model))
	}
	if len(resp.Data) == 0 {
		return nil, goerr.New("openai returned no embeddings", goerr.V("model", e.model))
	}

	raw := resp.Data[0].Embedding
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}

// Dimensions returns the configured size, or 0 when the model decides.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}
