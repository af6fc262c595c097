package bootstrap

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/semantic-memory/memory"
	"github.com/becomeliminal/semantic-memory/memory/embedder/cache"
	"github.com/becomeliminal/semantic-memory/memory/embedder/gemini"
	"github.com/becomeliminal/semantic-memory/memory/embedder/mock"
	"github.com/becomeliminal/semantic-memory/memory/embedder/ollama"
	"github.com/becomeliminal/semantic-memory/memory/embedder/openai"
	"github.com/becomeliminal/semantic-memory/memory/index"
	"github.com/becomeliminal/semantic-memory/memory/store/chromem"
	"github.com/becomeliminal/semantic-memory/memory/store/inmem"
	"github.com/becomeliminal/semantic-memory/memory/store/sqlite"
)

// Memory is an assembled SemanticTextMemory together with the resources it
// owns.
type Memory struct {
	memory.SemanticTextMemory

	store   memory.Store
	closers []io.Closer
}

// Open builds the store and embedder named by cfg. A disabled config returns
// memory.Null.
func Open(ctx context.Context, cfg *Config) (*Memory, error) {
	if cfg == nil {
		return nil, goerr.New("memory config is nil")
	}
	if !cfg.Enabled {
		return &Memory{SemanticTextMemory: memory.Null}, nil
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	m := &Memory{}
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	m.store = store
	m.closers = append(m.closers, store)

	embedder, err := newEmbedder(ctx, cfg, logger)
	if err != nil {
		m.Close()
		return nil, err
	}
	if c, ok := embedder.(io.Closer); ok {
		m.closers = append(m.closers, c)
	}

	if cfg.EmbeddingCacheSize > 0 {
		cached, err := cache.New(embedder, cfg.EmbeddingCacheSize, logger)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.closers = append(m.closers, cached)
		embedder = cached
	}

	m.SemanticTextMemory = memory.NewSemanticMemory(store, embedder, &memory.Config{
		DefaultLimit:        cfg.DefaultLimit,
		DefaultMinRelevance: cfg.DefaultMinRelevance,
		Logger:              logger,
	})
	logger.Debug("memory ready", "backend", cfg.Backend, "embedder", cfg.Embedder)
	return m, nil
}

// DropCollection removes a collection from the underlying store. It is a
// no-op for disabled memory.
func (m *Memory) DropCollection(ctx context.Context, name string) error {
	if m.store == nil {
		return nil
	}
	return m.store.DropCollection(ctx, name)
}

// Close releases the store and embedder, most recently opened first.
func (m *Memory) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

func newLogger(cfg *Config) (*log.Logger, error) {
	if cfg.Logger != nil {
		return cfg.Logger, nil
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid log level", goerr.V("level", cfg.LogLevel))
	}
	return log.NewWithOptions(os.Stderr, log.Options{Level: level}), nil
}

func openStore(ctx context.Context, cfg *Config, logger *log.Logger) (memory.Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return inmem.New(inmem.WithLogger(logger)), nil
	case BackendHNSW:
		return inmem.New(inmem.WithLogger(logger), inmem.WithHNSW(index.HNSWConfig{
			M:              cfg.HNSWM,
			EfConstruction: cfg.HNSWEfConstruction,
			EfSearch:       cfg.HNSWEfSearch,
		})), nil
	case BackendChromem:
		return chromem.New(logger)
	case BackendSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath, sqlite.WithLogger(logger))
	}
	return nil, goerr.New("unknown memory backend", goerr.V("backend", cfg.Backend))
}

func newEmbedder(ctx context.Context, cfg *Config, logger *log.Logger) (memory.Embedder, error) {
	switch cfg.Embedder {
	case EmbedderMock, "":
		return mock.NewWithDimensions(cfg.EmbeddingDimensions), nil
	case EmbedderOpenAI:
		return openai.New(openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
		}), nil
	case EmbedderOllama:
		return ollama.New(ollama.Config{
			Host:       cfg.OllamaHost,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
		})
	case EmbedderGemini:
		return gemini.New(ctx, gemini.Config{
			APIKey:     cfg.GeminiAPIKey,
			Project:    cfg.GeminiProject,
			Location:   cfg.GeminiLocation,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
		})
	case EmbedderONNX:
		return newONNXEmbedder(cfg, logger)
	}
	return nil, goerr.New("unknown embedder", goerr.V("embedder", cfg.Embedder))
}
