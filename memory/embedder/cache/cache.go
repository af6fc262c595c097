// Package cache memoizes embeddings in front of any memory.Embedder.
//
// Vectors are keyed by the exact input text. Entries are admitted and
// evicted by ristretto's TinyLFU policy, so a hit is likely but never
// guaranteed; a miss always falls through to the wrapped embedder.
package cache

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/semantic-memory/memory"
)

// CachedEmbedder wraps an embedder with a bounded in-process cache.
type CachedEmbedder struct {
	inner  memory.Embedder
	cache  *ristretto.Cache
	logger *log.Logger
}

// New wraps inner with a cache holding up to size vectors.
func New(inner memory.Embedder, size int64, logger *log.Logger) (*CachedEmbedder, error) {
	if size <= 0 {
		return nil, goerr.New("cache size must be positive", goerr.V("size", size))
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache", goerr.V("size", size))
	}

	return &CachedEmbedder{
		inner:  inner,
		cache:  c,
		logger: memory.NamedLogger(logger, "cache"),
	}, nil
}

// Embed returns a cached vector for text, or computes and caches one.
// Callers always receive their own copy.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			e.logger.Debug("cache hit", "len", len(text))
			return memory.CopyVector(vec), nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) > 0 {
		e.cache.Set(text, memory.CopyVector(vec), 1)
	}
	return vec, nil
}

// Dimensions delegates to the wrapped embedder.
func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Wait blocks until buffered writes are visible to Embed.
func (e *CachedEmbedder) Wait() {
	e.cache.Wait()
}

// Close releases the cache's background goroutines.
func (e *CachedEmbedder) Close() error {
	e.cache.Close()
	return nil
}
