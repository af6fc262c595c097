package memory

import (
	"context"
	"iter"
)

// SemanticTextMemory is the caller-facing contract.
// Implementations:
//   - SemanticMemory: embeds text and persists it in a Store
//   - NullMemory: no-op, for callers running without memory
type SemanticTextMemory interface {
	// SaveInformation embeds text and stores it under key in collection.
	// An empty key is replaced by a generated one. Returns the effective key.
	SaveInformation(ctx context.Context, collection, text, key string, opts ...SaveOption) (string, error)

	// SaveReference stores a pointer to content kept elsewhere. The text is
	// embedded for search; externalID becomes the key.
	SaveReference(ctx context.Context, collection, text, externalID, externalSourceName string, opts ...SaveOption) (string, error)

	// Get looks a record up by key. A missing collection or key yields nil, nil.
	Get(ctx context.Context, collection, key string, withEmbedding bool) (*MemoryQueryResult, error)

	// Remove deletes a record. Removing a missing record is not an error.
	Remove(ctx context.Context, collection, key string) error

	// Search embeds query and yields the closest records, best first.
	// Nothing is computed until the sequence is iterated.
	Search(ctx context.Context, collection, query string, opts ...SearchOption) iter.Seq2[*MemoryQueryResult, error]

	// ListCollections returns the names of all known collections.
	ListCollections(ctx context.Context) ([]string, error)
}

// Store is the collection registry of a vector storage backend.
// Implementations: inmem.Store, chromem.Store, sqlite.Store.
type Store interface {
	// ListCollections returns all collection names, sorted.
	ListCollections(ctx context.Context) ([]string, error)

	// EnsureCollection returns the named collection, creating it if needed.
	// Concurrent callers racing on a new name all receive the same collection.
	EnsureCollection(ctx context.Context, name string) (Collection, error)

	// Collection looks a collection up without creating it.
	Collection(ctx context.Context, name string) (Collection, bool, error)

	// DropCollection removes a collection with all its records. Dropping a
	// missing collection is not an error.
	DropCollection(ctx context.Context, name string) error

	// Close releases resources.
	Close() error
}

// Collection is the vector index of a single collection.
type Collection interface {
	Name() string

	// Upsert inserts or fully replaces the record stored under rec.Key.
	// Fails with ErrDimensionMismatch when len(rec.Embedding) differs from
	// the dimension established by the first record.
	Upsert(ctx context.Context, rec *MemoryRecord) error

	// Get returns a copy of the record, or nil when absent.
	Get(ctx context.Context, key string, withEmbedding bool) (*MemoryRecord, error)

	// Remove deletes a record if present.
	Remove(ctx context.Context, key string) error

	// Search returns at most limit records whose cosine similarity to query
	// is at least minRelevance, best first, earlier inserts first on ties.
	Search(ctx context.Context, query []float32, limit int, minRelevance float64, withEmbeddings bool) ([]*MemoryQueryResult, error)
}

// Embedder converts text to vector embeddings.
// Implementations: mock, openai, ollama, gemini, onnx, and the cache decorator.
type Embedder interface {
	// Embed converts a single text to embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size, or 0 when the provider
	// decides it.
	Dimensions() int
}
