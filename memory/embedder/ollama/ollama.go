// Package ollama embeds text with a model served by a local Ollama daemon.
package ollama

import (
	"context"
	"net/http"
	"net/url"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ollama/ollama/api"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "nomic-embed-text"

// Config configures the Ollama embedder.
type Config struct {
	// Host is the daemon URL. Empty falls back to OLLAMA_HOST.
	Host string

	// Model is the embedding model. Default: nomic-embed-text.
	Model string

	// Dimensions is the vector size the model produces, if known.
	Dimensions int
}

// OllamaEmbedder calls the /api/embed endpoint.
type OllamaEmbedder struct {
	api        *api.Client
	model      string
	dimensions int
}

// New creates a new Ollama embedder.
func New(cfg Config) (*OllamaEmbedder, error) {
	var client *api.Client
	if cfg.Host != "" {
		base, err := url.Parse(cfg.Host)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid ollama host", goerr.V("host", cfg.Host))
		}
		client = api.NewClient(base, http.DefaultClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create ollama client")
		}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	return &OllamaEmbedder{
		api:        client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed converts text to embedding vector.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.api.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create ollama embedding", goerr.V("model", e.model))
	}
	if len(resp.Embeddings) == 0 {
		return nil, goerr.New("ollama returned no embeddings", goerr.V("model", e.model))
	}
	return resp.Embeddings[0], nil
}

// Dimensions returns the configured size, or 0 when unknown.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}
