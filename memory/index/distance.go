// Package index provides in-process vector indexes keyed by string.
//
// Flat is an exact brute-force index and the default. HNSW is an
// approximate graph index; its candidates are re-scored exactly, so returned
// results are always correct and correctly ordered, only recall may differ.
//
// Relevance is cosine similarity in [-1, 1]. Equal relevance keeps insertion
// order, and a replaced key keeps its original position.
package index

import (
	"container/heap"
	"fmt"
	"math"
)

// Match is one search hit.
type Match[T any] struct {
	Key       string
	Payload   T
	Vector    []float32 // nil unless requested
	Relevance float64
}

// Index is a keyed vector index holding one payload per key.
type Index[T any] interface {
	Upsert(key string, vector []float32, payload T) error
	Get(key string, withVector bool) (T, []float32, bool)
	Remove(key string)
	Search(query []float32, limit int, minRelevance float64, withVectors bool) ([]Match[T], error)
	Len() int
	Dimension() int
}

// DimensionError reports a vector whose length differs from the index's.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector has %d dimensions, index expects %d", e.Got, e.Want)
}

// Cosine returns the cosine similarity of a and b, or 0 when either has zero
// norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return cosineWithNorms(a, Norm(a), b, Norm(b))
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosineWithNorms(a []float32, normA float64, b []float32, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (normA * normB)
	// Rounding can push identical vectors slightly past 1.
	return math.Max(-1, math.Min(1, sim))
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// ranked orders hits by relevance descending, then insertion sequence.
type ranked struct {
	key       string
	seq       uint64
	relevance float64
}

func (r ranked) before(o ranked) bool {
	if r.relevance != o.relevance {
		return r.relevance > o.relevance
	}
	return r.seq < o.seq
}

// topK keeps the best k ranked hits. The root of the heap is the worst kept hit.
type topK struct {
	k     int
	items []ranked
}

func (t *topK) Len() int           { return len(t.items) }
func (t *topK) Less(i, j int) bool { return t.items[j].before(t.items[i]) }
func (t *topK) Swap(i, j int)      { t.items[i], t.items[j] = t.items[j], t.items[i] }

func (t *topK) Push(x interface{}) {
	t.items = append(t.items, x.(ranked))
}

func (t *topK) Pop() interface{} {
	old := t.items
	n := len(old)
	item := old[n-1]
	t.items = old[:n-1]
	return item
}

func (t *topK) offer(r ranked) {
	if len(t.items) < t.k {
		heap.Push(t, r)
		return
	}
	if r.before(t.items[0]) {
		t.items[0] = r
		heap.Fix(t, 0)
	}
}

// sorted drains the heap, best first.
func (t *topK) sorted() []ranked {
	out := make([]ranked, len(t.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(t).(ranked)
	}
	return out
}
