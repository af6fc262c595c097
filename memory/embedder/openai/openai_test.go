package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/semantic-memory/memory/embedder/openai"
)

func TestOpenAIEmbedder_Embed(t *testing.T) {
	var got struct {
		Model      string   `json:"model"`
		Input      []string `json:"input"`
		Dimensions int      `json:"dimensions"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.25, -0.5, 1]}],
			"model": "text-embedding-3-small",
			"usage": {"prompt_tokens": 3, "total_tokens": 3}
		}`))
	}))
	defer srv.Close()

	e := openai.New(openai.Config{APIKey: "test-key", BaseURL: srv.URL, Dimensions: 3})
	vec, err := e.Embed(context.Background(), "The sky is blue")
	require.NoError(t, err)

	assert.Equal(t, []float32{0.25, -0.5, 1}, vec)
	assert.Equal(t, 3, e.Dimensions())
	assert.Equal(t, "text-embedding-3-small", got.Model)
	assert.Equal(t, []string{"The sky is blue"}, got.Input)
	assert.Equal(t, 3, got.Dimensions)
}

func TestOpenAIEmbedder_NoRetryOnFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
	}))
	defer srv.Close()

	e := openai.New(openai.Config{APIKey: "test-key", BaseURL: srv.URL})
	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
