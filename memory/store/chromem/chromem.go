package chromem

import (
	"context"
	"errors"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/semantic-memory/memory"
	"github.com/becomeliminal/semantic-memory/memory/index"
)

// Metadata keys stored alongside each chromem document.
const (
	metaDescription        = "description"
	metaAdditionalMetadata = "additional_metadata"
	metaIsReference        = "is_reference"
	metaExternalSourceName = "external_source_name"
	metaTimestamp          = "timestamp"
)

var errNoEmbeddingFunc = errors.New("chromem collections only accept precomputed embeddings")

// ChromemStore wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database. It normalizes vectors
// on insert, so embeddings read back are unit length.
type ChromemStore struct {
	db          *chromem.DB
	collections map[string]*collection
	mu          sync.RWMutex
	closed      bool
	logger      *log.Logger
}

var _ memory.Store = (*ChromemStore)(nil)

// New creates a new chromem-based store.
func New(logger *log.Logger) (*ChromemStore, error) {
	db := chromem.NewDB()

	return &ChromemStore{
		db:          db,
		collections: make(map[string]*collection),
		logger:      memory.NamedLogger(logger, "chromem"),
	}, nil
}

// ListCollections returns collection names in lexical order.
func (s *ChromemStore) ListCollections(ctx context.Context) ([]string, error) {
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

// EnsureCollection returns the collection for name, creating it on first use.
func (s *ChromemStore) EnsureCollection(ctx context.Context, name string) (memory.Collection, error) {
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

	c, err := s.db.CreateCollection(
		name,
		nil, // No collection metadata
		func(context.Context, string) ([]float32, error) {
			return nil, errNoEmbeddingFunc
		},
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chromem collection", goerr.V("collection", name))
	}

	col = &collection{
		name: name,
		col:  c,
		seqs: make(map[string]uint64),
		zero: make(map[string]struct{}),
	}
	s.collections[name] = col
	s.logger.Debug("Created collection", "collection", name)
	return col, nil
}

// Collection looks a collection up without creating it.
func (s *ChromemStore) Collection(ctx context.Context, name string) (memory.Collection, bool, error) {
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

// DropCollection deletes the chromem collection if present.
func (s *ChromemStore) DropCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "drop collection cancelled", goerr.V("collection", name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return memory.ErrStoreClosed
	}
	if _, ok := s.collections[name]; !ok {
		return nil
	}

	if err := s.db.DeleteCollection(name); err != nil {
		return goerr.Wrap(err, "failed to delete chromem collection", goerr.V("collection", name))
	}
	delete(s.collections, name)
	s.logger.Debug("Dropped collection", "collection", name)
	return nil
}

// Close releases resources.
func (s *ChromemStore) Close() error {
	// chromem-go keeps everything in memory, nothing to close
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// collection adds what chromem does not track: the established dimension,
// the insertion sequence of every key and which keys hold a zero vector.
// chromem normalizes a zero vector to NaN, so those keys score 0 here.
type collection struct {
	name string
	col  *chromem.Collection

	mu        sync.RWMutex
	dimension int
	seqs      map[string]uint64
	zero      map[string]struct{}
	nextSeq   uint64
}

func (c *collection) Name() string { return c.name }

func (c *collection) Upsert(ctx context.Context, rec *memory.MemoryRecord) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "upsert cancelled", goerr.V("collection", c.name))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dimension != 0 && len(rec.Embedding) != c.dimension {
		return memory.DimensionMismatch(c.name, c.dimension, len(rec.Embedding))
	}

	doc := chromem.Document{
		ID:        rec.Key,
		Content:   rec.Metadata.Text,
		Embedding: memory.CopyVector(rec.Embedding),
		Metadata:  serializeMetadata(rec),
	}
	if err := c.col.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to add document", goerr.V("collection", c.name), goerr.V("key", rec.Key))
	}

	if c.dimension == 0 {
		c.dimension = len(rec.Embedding)
	}
	if index.Norm(rec.Embedding) == 0 {
		c.zero[rec.Key] = struct{}{}
	} else {
		delete(c.zero, rec.Key)
	}
	if _, ok := c.seqs[rec.Key]; !ok {
		c.nextSeq++
		c.seqs[rec.Key] = c.nextSeq
	}
	return nil
}

func (c *collection) Get(ctx context.Context, key string, withEmbedding bool) (*memory.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "get cancelled", goerr.V("collection", c.name))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.seqs[key]; !ok {
		return nil, nil
	}
	doc, err := c.col.GetByID(ctx, key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get document", goerr.V("collection", c.name), goerr.V("key", key))
	}

	rec := deserializeRecord(doc.ID, doc.Content, doc.Metadata)
	if withEmbedding {
		rec.Embedding = c.embedding(doc.ID, doc.Embedding)
	}
	return rec, nil
}

// embedding copies a stored vector, restoring zeros chromem turned into NaN.
func (c *collection) embedding(key string, stored []float32) []float32 {
	if _, ok := c.zero[key]; ok {
		return make([]float32, len(stored))
	}
	return memory.CopyVector(stored)
}

func (c *collection) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "remove cancelled", goerr.V("collection", c.name))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seqs[key]; !ok {
		return nil
	}
	if err := c.col.Delete(ctx, nil, nil, key); err != nil {
		return goerr.Wrap(err, "failed to delete document", goerr.V("collection", c.name), goerr.V("key", key))
	}
	delete(c.seqs, key)
	delete(c.zero, key)
	return nil
}

// Search asks chromem to score every document, then applies the threshold,
// insertion-order tie-break and limit itself.
func (c *collection) Search(ctx context.Context, query []float32, limit int, minRelevance float64, withEmbeddings bool) ([]*memory.MemoryQueryResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "search cancelled", goerr.V("collection", c.name))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	// chromem-go requires 0 < nResults <= collection size
	n := c.col.Count()
	if n == 0 {
		return nil, nil
	}
	if len(query) != c.dimension {
		return nil, memory.DimensionMismatch(c.name, c.dimension, len(query))
	}

	results, err := c.col.QueryEmbedding(ctx, memory.CopyVector(query), n, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "chromem query failed", goerr.V("collection", c.name))
	}

	type hit struct {
		seq    uint64
		result *memory.MemoryQueryResult
	}
	zeroQuery := index.Norm(query) == 0
	hits := make([]hit, 0, len(results))
	for _, r := range results {
		rel := math.Max(-1, math.Min(1, float64(r.Similarity)))
		if _, zero := c.zero[r.ID]; zero || zeroQuery || math.IsNaN(rel) {
			rel = 0
		}
		if rel < minRelevance {
			continue
		}
		rec := deserializeRecord(r.ID, r.Content, r.Metadata)
		res := &memory.MemoryQueryResult{
			Metadata:  rec.Metadata,
			Relevance: rel,
			Timestamp: rec.Timestamp,
		}
		if withEmbeddings {
			res.Embedding = c.embedding(r.ID, r.Embedding)
		}
		hits = append(hits, hit{seq: c.seqs[r.ID], result: res})
	}

	slices.SortFunc(hits, func(a, b hit) int {
		switch {
		case a.result.Relevance > b.result.Relevance:
			return -1
		case a.result.Relevance < b.result.Relevance:
			return 1
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]*memory.MemoryQueryResult, len(hits))
	for i, h := range hits {
		out[i] = h.result
	}
	return out, nil
}

// serializeMetadata flattens record metadata into chromem's string map.
func serializeMetadata(rec *memory.MemoryRecord) map[string]string {
	return map[string]string{
		metaDescription:        rec.Metadata.Description,
		metaAdditionalMetadata: rec.Metadata.AdditionalMetadata,
		metaIsReference:        strconv.FormatBool(rec.Metadata.IsReference),
		metaExternalSourceName: rec.Metadata.ExternalSourceName,
		metaTimestamp:          rec.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// deserializeRecord rebuilds a record without its embedding.
func deserializeRecord(id, content string, metadata map[string]string) *memory.MemoryRecord {
	isRef, _ := strconv.ParseBool(metadata[metaIsReference])
	ts, _ := time.Parse(time.RFC3339Nano, metadata[metaTimestamp])
	return &memory.MemoryRecord{
		Key: id,
		Metadata: memory.MemoryRecordMetadata{
			IsReference:        isRef,
			ExternalSourceName: metadata[metaExternalSourceName],
			ID:                 id,
			Description:        metadata[metaDescription],
			Text:               content,
			AdditionalMetadata: metadata[metaAdditionalMetadata],
		},
		Timestamp: ts,
	}
}
