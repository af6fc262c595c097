package memory

import (
	"context"
	"iter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// SemanticMemory is the real SemanticTextMemory implementation.
// It embeds text through an Embedder and keeps records in a Store.
//
// Features:
//   - Collections created on first save
//   - Generated keys for saves without one
//   - Lazy, threshold-filtered similarity search
//
// Locking is left to the Store, which scopes it per collection.
type SemanticMemory struct {
	store    Store
	embedder Embedder
	config   *Config
	logger   *log.Logger
}

var _ SemanticTextMemory = (*SemanticMemory)(nil)

// NewSemanticMemory creates a new SemanticMemory. A nil config means DefaultConfig.
func NewSemanticMemory(store Store, embedder Embedder, config *Config) *SemanticMemory {
	if config == nil {
		config = DefaultConfig
	}
	return &SemanticMemory{
		store:    store,
		embedder: embedder,
		config:   config,
		logger:   NamedLogger(config.Logger, "memory"),
	}
}

// SaveInformation embeds text and stores it inline under key.
func (m *SemanticMemory) SaveInformation(ctx context.Context, collection, text, key string, opts ...SaveOption) (string, error) {
	if key == "" {
		key = uuid.New().String()
	}
	o := newSaveOptions(opts)
	rec := LocalRecord(key, text, o.description, o.additionalMetadata, nil, time.Now().UTC())
	return m.save(ctx, collection, text, rec)
}

// SaveReference stores a reference to content held by externalSourceName.
func (m *SemanticMemory) SaveReference(ctx context.Context, collection, text, externalID, externalSourceName string, opts ...SaveOption) (string, error) {
	if externalID == "" {
		externalID = uuid.New().String()
	}
	o := newSaveOptions(opts)
	rec := ReferenceRecord(externalID, externalSourceName, text, o.description, o.additionalMetadata, nil, time.Now().UTC())
	return m.save(ctx, collection, text, rec)
}

func (m *SemanticMemory) save(ctx context.Context, collection, text string, rec *MemoryRecord) (string, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return "", err
	}
	if err := aborted(ctx, "save"); err != nil {
		return "", err
	}

	embedding, err := m.embed(ctx, text)
	if err != nil {
		LogFailure(ctx, m.logger, "Failed to embed record", err, "collection", collection, "key", rec.Key)
		return "", goerr.Wrap(err, "failed to embed record",
			goerr.V("collection", collection), goerr.V("key", rec.Key))
	}
	rec.Embedding = embedding

	col, err := m.store.EnsureCollection(ctx, collection)
	if err != nil {
		LogFailure(ctx, m.logger, "Failed to open collection", err, "collection", collection)
		return "", goerr.Wrap(err, "failed to open collection", goerr.V("collection", collection))
	}
	if err := col.Upsert(ctx, rec); err != nil {
		LogFailure(ctx, m.logger, "Failed to store record", err, "collection", collection, "key", rec.Key)
		return "", goerr.Wrap(err, "failed to store record",
			goerr.V("collection", collection), goerr.V("key", rec.Key))
	}

	m.logger.Debug("Stored record", "collection", collection, "key", rec.Key, "reference", rec.Metadata.IsReference)
	return rec.Key, nil
}

// Get retrieves a record by key. Relevance of an exact lookup is 1.
func (m *SemanticMemory) Get(ctx context.Context, collection, key string, withEmbedding bool) (*MemoryQueryResult, error) {
	if err := aborted(ctx, "get"); err != nil {
		return nil, err
	}

	col, ok, err := m.store.Collection(ctx, collection)
	if err != nil {
		LogFailure(ctx, m.logger, "Failed to look up collection", err, "collection", collection)
		return nil, goerr.Wrap(err, "failed to look up collection", goerr.V("collection", collection))
	}
	if !ok {
		return nil, nil
	}

	rec, err := col.Get(ctx, key, withEmbedding)
	if err != nil {
		LogFailure(ctx, m.logger, "Failed to get record", err, "collection", collection, "key", key)
		return nil, goerr.Wrap(err, "failed to get record",
			goerr.V("collection", collection), goerr.V("key", key))
	}
	if rec == nil {
		return nil, nil
	}
	return NewQueryResult(rec, 1, withEmbedding), nil
}

// Remove deletes a record. Missing collections and keys are ignored.
func (m *SemanticMemory) Remove(ctx context.Context, collection, key string) error {
	if err := aborted(ctx, "remove"); err != nil {
		return err
	}

	col, ok, err := m.store.Collection(ctx, collection)
	if err != nil {
		LogFailure(ctx, m.logger, "Failed to look up collection", err, "collection", collection)
		return goerr.Wrap(err, "failed to look up collection", goerr.V("collection", collection))
	}
	if !ok {
		return nil
	}

	if err := col.Remove(ctx, key); err != nil {
		LogFailure(ctx, m.logger, "Failed to remove record", err, "collection", collection, "key", key)
		return goerr.Wrap(err, "failed to remove record",
			goerr.V("collection", collection), goerr.V("key", key))
	}

	m.logger.Debug("Removed record", "collection", collection, "key", key)
	return nil
}

// Search yields records similar to query. The query is embedded when
// iteration starts; an error is yielded once and ends the sequence.
func (m *SemanticMemory) Search(ctx context.Context, collection, query string, opts ...SearchOption) iter.Seq2[*MemoryQueryResult, error] {
	o := searchOptions{
		limit:        m.config.limit(),
		minRelevance: m.config.DefaultMinRelevance,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return func(yield func(*MemoryQueryResult, error) bool) {
		if o.limit <= 0 {
			return
		}

		results, err := m.search(ctx, collection, query, o)
		if err != nil {
			yield(nil, err)
			return
		}

		for _, res := range results {
			if err := aborted(ctx, "search"); err != nil {
				yield(nil, err)
				return
			}
			if !yield(res, nil) {
				return
			}
		}
	}
}

func (m *SemanticMemory) search(ctx context.Context, collection, query string, o searchOptions) ([]*MemoryQueryResult, error) {
	if err := aborted(ctx, "search"); err != nil {
		return nil, err
	}

	col, ok, err := m.store.Collection(ctx, collection)
	if err != nil {
		LogFailure(ctx, m.logger, "Failed to look up collection", err, "collection", collection)
		return nil, goerr.Wrap(err, "failed to look up collection", goerr.V("collection", collection))
	}
	if !ok {
		m.logger.Debug("Search on unknown collection", "collection", collection)
		return nil, nil
	}

	embedding, err := m.embed(ctx, query)
	if err != nil {
		LogFailure(ctx, m.logger, "Failed to embed query", err, "collection", collection)
		return nil, goerr.Wrap(err, "failed to embed query", goerr.V("collection", collection))
	}

	results, err := col.Search(ctx, embedding, o.limit, o.minRelevance, o.withEmbeddings)
	if err != nil {
		LogFailure(ctx, m.logger, "Failed to search collection", err, "collection", collection)
		return nil, goerr.Wrap(err, "failed to search collection", goerr.V("collection", collection))
	}

	m.logger.Debug("Searched collection",
		"collection", collection,
		"results", len(results),
		"limit", o.limit,
		"min_relevance", o.minRelevance)
	return results, nil
}

// ListCollections returns the names of all collections in the store.
func (m *SemanticMemory) ListCollections(ctx context.Context) ([]string, error) {
	if err := aborted(ctx, "list"); err != nil {
		return nil, err
	}
	names, err := m.store.ListCollections(ctx)
	if err != nil {
		LogFailure(ctx, m.logger, "Failed to list collections", err)
		return nil, goerr.Wrap(err, "failed to list collections")
	}
	return names, nil
}

// embed calls the provider once. Provider failures are tagged with
// ErrEmbeddingProvider unless ctx was cancelled meanwhile.
func (m *SemanticMemory) embed(ctx context.Context, text string) ([]float32, error) {
	embedding, err := m.embedder.Embed(ctx, text)
	if err != nil {
		if ctxErr := aborted(ctx, "embed"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, providerError(err)
	}
	if len(embedding) == 0 {
		return nil, goerr.Wrap(ErrEmbeddingProvider, "provider returned an empty embedding")
	}
	return embedding, nil
}

// Collect drains a search sequence. The first error aborts collection.
func Collect(seq iter.Seq2[*MemoryQueryResult, error]) ([]*MemoryQueryResult, error) {
	var out []*MemoryQueryResult
	for res, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Config holds SemanticMemory configuration.
type Config struct {
	// DefaultLimit is the result count used when a search passes no WithLimit.
	// Default: 1. Values <= 0 fall back to 1.
	DefaultLimit int

	// DefaultMinRelevance is the threshold used when a search passes no
	// WithMinRelevance. Unlike DefaultLimit the zero value is used as is, so a
	// Config that leaves it unset accepts any non-negative score. DefaultConfig
	// sets 0.7.
	DefaultMinRelevance float64

	// Logger receives engine logs. Default: log.Default() prefixed "memory".
	Logger *log.Logger
}

func (c *Config) limit() int {
	if c.DefaultLimit <= 0 {
		return 1
	}
	return c.DefaultLimit
}

// DefaultConfig returns the single best match scoring at least 0.7.
var DefaultConfig = &Config{
	DefaultLimit:        1,
	DefaultMinRelevance: 0.7,
}
