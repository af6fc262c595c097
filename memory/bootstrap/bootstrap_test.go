package bootstrap_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/semantic-memory/memory"
	"github.com/becomeliminal/semantic-memory/memory/bootstrap"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := bootstrap.LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, bootstrap.BackendMemory, cfg.Backend)
	assert.Equal(t, bootstrap.EmbedderMock, cfg.Embedder)
	assert.Equal(t, 1, cfg.DefaultLimit)
	assert.InDelta(t, 0.7, cfg.DefaultMinRelevance, 1e-9)
	assert.Equal(t, 16, cfg.HNSWM)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("SEMMEM_ENABLED", "false")
	t.Setenv("SEMMEM_BACKEND", "sqlite")
	t.Setenv("SEMMEM_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("SEMMEM_EMBEDDER", "openai")
	t.Setenv("SEMMEM_EMBEDDING_DIMENSIONS", "256")
	t.Setenv("SEMMEM_DEFAULT_MIN_RELEVANCE", "0.5")

	cfg, err := bootstrap.LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, bootstrap.BackendSQLite, cfg.Backend)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.Equal(t, bootstrap.EmbedderOpenAI, cfg.Embedder)
	assert.Equal(t, 256, cfg.EmbeddingDimensions)
	assert.InDelta(t, 0.5, cfg.DefaultMinRelevance, 1e-9)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("SEMMEM_DEFAULT_LIMIT", "many")
	_, err := bootstrap.LoadConfig()
	assert.Error(t, err)
}

func testConfig(t *testing.T) *bootstrap.Config {
	t.Helper()
	cfg, err := bootstrap.LoadConfig()
	require.NoError(t, err)
	cfg.EmbeddingDimensions = 64
	cfg.DefaultMinRelevance = 0
	return cfg
}

func TestOpen_Backends(t *testing.T) {
	for _, backend := range []string{
		bootstrap.BackendMemory,
		bootstrap.BackendHNSW,
		bootstrap.BackendChromem,
		bootstrap.BackendSQLite,
	} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t)
			cfg.Backend = backend
			cfg.SQLitePath = filepath.Join(t.TempDir(), "memory.db")
			cfg.EmbeddingCacheSize = 16

			m, err := bootstrap.Open(ctx, cfg)
			require.NoError(t, err)
			defer m.Close()

			_, err = m.SaveInformation(ctx, "facts", "The sky is blue", "k1")
			require.NoError(t, err)

			results, err := memory.Collect(m.Search(ctx, "facts", "The sky is blue"))
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "k1", results[0].Metadata.ID)

			names, err := m.ListCollections(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"facts"}, names)

			require.NoError(t, m.DropCollection(ctx, "facts"))
			names, err = m.ListCollections(ctx)
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestOpen_Disabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Enabled = false

	m, err := bootstrap.Open(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, memory.Null, m.SemanticTextMemory)

	key, err := m.SaveInformation(ctx, "facts", "text", "k1")
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.NoError(t, m.DropCollection(ctx, "facts"))
	assert.NoError(t, m.Close())
}

func TestOpen_Unknown(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Backend = "cassandra"
	_, err := bootstrap.Open(ctx, cfg)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Embedder = "word2vec"
	_, err = bootstrap.Open(ctx, cfg)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.LogLevel = "loud"
	_, err = bootstrap.Open(ctx, cfg)
	assert.Error(t, err)

	_, err = bootstrap.Open(ctx, nil)
	assert.Error(t, err)
}
