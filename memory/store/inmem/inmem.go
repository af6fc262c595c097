// Package inmem keeps collections in process memory, each backed by an
// index.Flat (default) or index.HNSW.
package inmem

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/semantic-memory/memory"
	"github.com/becomeliminal/semantic-memory/memory/index"
)

// Store is an in-memory collection registry.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	closed      bool

	newIndex func() index.Index[memory.MemoryRecord]
	logger   *log.Logger
}

var _ memory.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithHNSW backs every collection with an approximate HNSW index.
func WithHNSW(cfg index.HNSWConfig) Option {
	return func(s *Store) {
		s.newIndex = func() index.Index[memory.MemoryRecord] {
			return index.NewHNSW[memory.MemoryRecord](cfg)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates an empty store using brute-force indexes.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]*collection),
		newIndex: func() index.Index[memory.MemoryRecord] {
			return index.NewFlat[memory.MemoryRecord]()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = memory.NamedLogger(s.logger, "inmem")
	return s
}

// ListCollections returns collection names in lexical order.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "list collections cancelled")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, memory.ErrStoreClosed
	}

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// EnsureCollection returns the named collection, creating it on first use.
func (s *Store) EnsureCollection(ctx context.Context, name string) (memory.Collection, error) {
	if err := memory.ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "ensure collection cancelled", goerr.V("collection", name))
	}

	s.mu.RLock()
	col, exists := s.collections[name]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, memory.ErrStoreClosed
	}
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if s.closed {
		return nil, memory.ErrStoreClosed
	}
	if col, exists := s.collections[name]; exists {
		return col, nil
	}

	col = &collection{name: name, idx: s.newIndex()}
	s.collections[name] = col
	s.logger.Debug("Created collection", "collection", name)
	return col, nil
}

// Collection looks a collection up without creating it.
func (s *Store) Collection(ctx context.Context, name string) (memory.Collection, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, goerr.Wrap(err, "collection lookup cancelled", goerr.V("collection", name))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, memory.ErrStoreClosed
	}

	col, ok := s.collections[name]
	if !ok {
		return nil, false, nil
	}
	return col, true, nil
}

// DropCollection forgets a collection and its records.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "drop collection cancelled", goerr.V("collection", name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return memory.ErrStoreClosed
	}

	if _, ok := s.collections[name]; ok {
		delete(s.collections, name)
		s.logger.Debug("Dropped collection", "collection", name)
	}
	return nil
}

// Close drops every collection. Later calls fail with memory.ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = nil
	return nil
}

// collection adapts an index to memory.Collection. Records are stored by
// value without their embedding, which lives in the index.
type collection struct {
	name string
	idx  index.Index[memory.MemoryRecord]
}

func (c *collection) Name() string { return c.name }

func (c *collection) Upsert(ctx context.Context, rec *memory.MemoryRecord) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "upsert cancelled", goerr.V("collection", c.name))
	}

	payload := *rec
	payload.Embedding = nil
	if err := c.idx.Upsert(rec.Key, rec.Embedding, payload); err != nil {
		var dimErr *index.DimensionError
		if errors.As(err, &dimErr) {
			return memory.DimensionMismatch(c.name, dimErr.Want, dimErr.Got)
		}
		return goerr.Wrap(err, "failed to upsert record", goerr.V("collection", c.name), goerr.V("key", rec.Key))
	}
	return nil
}

func (c *collection) Get(ctx context.Context, key string, withEmbedding bool) (*memory.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "get cancelled", goerr.V("collection", c.name))
	}

	rec, vec, ok := c.idx.Get(key, withEmbedding)
	if !ok {
		return nil, nil
	}
	rec.Embedding = vec
	return &rec, nil
}

func (c *collection) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "remove cancelled", goerr.V("collection", c.name))
	}
	c.idx.Remove(key)
	return nil
}

func (c *collection) Search(ctx context.Context, query []float32, limit int, minRelevance float64, withEmbeddings bool) ([]*memory.MemoryQueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "search cancelled", goerr.V("collection", c.name))
	}

	matches, err := c.idx.Search(query, limit, minRelevance, withEmbeddings)
	if err != nil {
		var dimErr *index.DimensionError
		if errors.As(err, &dimErr) {
			return nil, memory.DimensionMismatch(c.name, dimErr.Want, dimErr.Got)
		}
		return nil, goerr.Wrap(err, "failed to search index", goerr.V("collection", c.name))
	}

	out := make([]*memory.MemoryQueryResult, len(matches))
	for i, m := range matches {
		out[i] = &memory.MemoryQueryResult{
			Metadata:  m.Payload.Metadata,
			Relevance: m.Relevance,
			Embedding: m.Vector,
			Timestamp: m.Payload.Timestamp,
		}
	}
	return out, nil
}
