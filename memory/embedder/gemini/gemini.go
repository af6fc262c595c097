// Package gemini embeds text with Google's Gemini embedding models, either
// through the Gemini API (API key) or Vertex AI (project and location).
package gemini

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-embedding-001"

// Config configures the Gemini embedder. APIKey selects the Gemini API;
// otherwise Project and Location select Vertex AI.
type Config struct {
	APIKey   string
	Project  string
	Location string

	// BaseURL overrides the service endpoint.
	BaseURL string

	// Model is the embedding model. Default: gemini-embedding-001.
	Model string

	// Dimensions requests a reduced output size when > 0.
	Dimensions int
}

// GeminiEmbedder calls Models.EmbedContent once per text.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// New creates a new Gemini embedder.
func New(ctx context.Context, cfg Config) (*GeminiEmbedder, error) {
	cc := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "":
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, goerr.New("gemini embedder needs an API key or a project")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	return &GeminiEmbedder{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed converts text to embedding vector.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{}
	if e.dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(e.dimensions))
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", e.model))
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, goerr.New("gemini returned no embeddings", goerr.V("model", e.model))
	}
	return resp.Embeddings[0].Values, nil
}

// Dimensions returns the requested size, or 0 when the model decides.
func (e *GeminiEmbedder) Dimensions() int {
	return e.dimensions
}
