package index

import (
	"sync"
)

type flatEntry[T any] struct {
	seq     uint64
	vector  []float32
	norm    float64
	payload T
}

// Flat is an exact brute-force index. Every search scores every entry.
type Flat[T any] struct {
	mu        sync.RWMutex
	entries   map[string]*flatEntry[T]
	dimension int
	nextSeq   uint64
}

var _ Index[struct{}] = (*Flat[struct{}])(nil)

// NewFlat creates an empty brute-force index. The dimension is fixed by the
// first inserted vector.
func NewFlat[T any]() *Flat[T] {
	return &Flat[T]{
		entries: make(map[string]*flatEntry[T]),
	}
}

// Upsert inserts or replaces key. A replaced key keeps its insertion position.
func (f *Flat[T]) Upsert(key string, vector []float32, payload T) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dimension != 0 && len(vector) != f.dimension {
		return &DimensionError{Want: f.dimension, Got: len(vector)}
	}
	if f.dimension == 0 {
		f.dimension = len(vector)
	}

	// Store a copy to avoid external modifications
	v := copyVector(vector)
	e := &flatEntry[T]{vector: v, norm: Norm(v), payload: payload}
	if old, ok := f.entries[key]; ok {
		e.seq = old.seq
	} else {
		f.nextSeq++
		e.seq = f.nextSeq
	}
	f.entries[key] = e
	return nil
}

// Get returns the payload of key and, if requested, a copy of its vector.
func (f *Flat[T]) Get(key string, withVector bool) (T, []float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	e, ok := f.entries[key]
	if !ok {
		var zero T
		return zero, nil, false
	}
	var v []float32
	if withVector {
		v = copyVector(e.vector)
	}
	return e.payload, v, true
}

// Remove deletes key if present.
func (f *Flat[T]) Remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
}

// Search scores every entry against query and keeps the best limit hits at
// or above minRelevance.
func (f *Flat[T]) Search(query []float32, limit int, minRelevance float64, withVectors bool) ([]Match[T], error) {
	if limit <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.entries) == 0 {
		return nil, nil
	}
	if len(query) != f.dimension {
		return nil, &DimensionError{Want: f.dimension, Got: len(query)}
	}

	qnorm := Norm(query)
	top := &topK{k: limit}
	for key, e := range f.entries {
		rel := cosineWithNorms(query, qnorm, e.vector, e.norm)
		if rel < minRelevance {
			continue
		}
		top.offer(ranked{key: key, seq: e.seq, relevance: rel})
	}

	hits := top.sorted()
	out := make([]Match[T], len(hits))
	for i, h := range hits {
		e := f.entries[h.key]
		out[i] = Match[T]{Key: h.key, Payload: e.payload, Relevance: h.relevance}
		if withVectors {
			out[i].Vector = copyVector(e.vector)
		}
	}
	return out, nil
}

// Len returns the number of entries.
func (f *Flat[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Dimension returns the established dimension, or 0 before the first insert.
func (f *Flat[T]) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dimension
}
