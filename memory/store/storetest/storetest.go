// Package storetest holds the behaviour every memory.Store must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/semantic-memory/memory"
)

// Factory returns a fresh, empty store. Run closes it.
type Factory func(t *testing.T) memory.Store

// Run exercises f against the shared contract. Vectors used here are unit
// length so backends that normalize on insert compare equal.
func Run(t *testing.T, f Factory) {
	cases := []struct {
		name string
		test func(t *testing.T, s memory.Store)
	}{
		{"CollectionNames", testCollectionNames},
		{"EnsureIsIdempotent", testEnsureIsIdempotent},
		{"DropIsIdempotent", testDropIsIdempotent},
		{"RoundTrip", testRoundTrip},
		{"Replace", testReplace},
		{"RemoveIsIdempotent", testRemoveIsIdempotent},
		{"DimensionMismatch", testDimensionMismatch},
		{"SearchOrdering", testSearchOrdering},
		{"SearchLimit", testSearchLimit},
		{"SearchTieBreak", testSearchTieBreak},
		{"SearchEmptyCollection", testSearchEmptyCollection},
		{"ZeroVector", testZeroVector},
		{"ConcurrentFirstWriters", testConcurrentFirstWriters},
		{"ConcurrentSameKey", testConcurrentSameKey},
		{"Cancelled", testCancelled},
		{"Closed", testClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := f(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.test(t, s)
		})
	}
}

func record(key, text string, embedding ...float32) *memory.MemoryRecord {
	return memory.LocalRecord(key, text, "", "", embedding, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
}

func resultKeys(results []*memory.MemoryQueryResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Metadata.ID
	}
	return out
}

func testCollectionNames(t *testing.T, s memory.Store) {
	ctx := context.Background()

	_, err := s.EnsureCollection(ctx, "")
	assert.ErrorIs(t, err, memory.ErrInvalidCollectionName)
	_, err = s.EnsureCollection(ctx, strings.Repeat("x", memory.MaxCollectionNameLength+1))
	assert.ErrorIs(t, err, memory.ErrInvalidCollectionName)

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"notes", "Facts", "facts"} {
		_, err := s.EnsureCollection(ctx, name)
		require.NoError(t, err)
	}
	names, err = s.ListCollections(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"notes", "Facts", "facts"}, names)

	_, ok, err := s.Collection(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testEnsureIsIdempotent(t *testing.T, s memory.Store) {
	ctx := context.Background()

	c1, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)
	require.NoError(t, c1.Upsert(ctx, record("k1", "one", 1, 0)))

	c2, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)
	rec, err := c2.Get(ctx, "k1", false)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "one", rec.Metadata.Text)

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"facts"}, names)
}

func testDropIsIdempotent(t *testing.T, s memory.Store) {
	ctx := context.Background()

	c, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)
	require.NoError(t, c.Upsert(ctx, record("k1", "one", 1, 0)))

	require.NoError(t, s.DropCollection(ctx, "facts"))
	require.NoError(t, s.DropCollection(ctx, "facts"))
	require.NoError(t, s.DropCollection(ctx, "never-created"))

	_, ok, err := s.Collection(ctx, "facts")
	require.NoError(t, err)
	assert.False(t, ok)

	// A recreated collection starts empty.
	c, err = s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)
	rec, err := c.Get(ctx, "k1", false)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func testRoundTrip(t *testing.T, s memory.Store) {
	ctx := context.Background()

	c, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)

	ts := time.Date(2024, 5, 1, 12, 30, 15, 123456789, time.UTC)
	local := memory.LocalRecord("k1", "The sky is blue", "colour fact", `{"source":"test"}`, []float32{0.6, 0.8, 0}, ts)
	ref := memory.ReferenceRecord("doc-7", "wiki", "excerpt", "a reference", "", []float32{0, 0, 1}, ts)
	require.NoError(t, c.Upsert(ctx, local))
	require.NoError(t, c.Upsert(ctx, ref))

	got, err := c.Get(ctx, "k1", false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, local.Metadata, got.Metadata)
	assert.Equal(t, "k1", got.Key)
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Nil(t, got.Embedding)

	got, err = c.Get(ctx, "k1", true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0}, got.Embedding, 1e-6)

	// Callers receive copies.
	got.Embedding[0] = 42
	again, err := c.Get(ctx, "k1", true)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, again.Embedding[0], 1e-6)

	got, err = c.Get(ctx, "doc-7", false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Metadata.IsReference)
	assert.Equal(t, "wiki", got.Metadata.ExternalSourceName)
	assert.Equal(t, "doc-7", got.Metadata.ID)
	assert.Equal(t, "excerpt", got.Metadata.Text)

	missing, err := c.Get(ctx, "nope", true)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testReplace(t *testing.T, s memory.Store) {
	ctx := context.Background()

	c, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)
	require.NoError(t, c.Upsert(ctx, record("k1", "old", 1, 0)))
	require.NoError(t, c.Upsert(ctx, record("k1", "new", 0, 1)))

	got, err := c.Get(ctx, "k1", true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Metadata.Text)
	assert.InDeltaSlice(t, []float32{0, 1}, got.Embedding, 1e-6)

	results, err := c.Search(ctx, []float32{0, 1}, 10, -1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, resultKeys(results))
}

func testRemoveIsIdempotent(t *testing.T, s memory.Store) {
	ctx := context.Background()

	c, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)
	require.NoError(t, c.Upsert(ctx, record("k1", "one", 1, 0)))

	require.NoError(t, c.Remove(ctx, "k1"))
	require.NoError(t, c.Remove(ctx, "k1"))
	require.NoError(t, c.Remove(ctx, "never-there"))

	got, err := c.Get(ctx, "k1", false)
	require.NoError(t, err)
	assert.Nil(t, got)

	results, err := c.Search(ctx, []float32{1, 0}, 10, -1, false)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func testDimensionMismatch(t *testing.T, s memory.Store) {
	ctx := context.Background()

	c, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)
	require.NoError(t, c.Upsert(ctx, record("k1", "one", 1, 0)))

	err = c.Upsert(ctx, record("k2", "two", 1, 0, 0))
	require.ErrorIs(t, err, memory.ErrDimensionMismatch)

	got, err := c.Get(ctx, "k2", false)
	require.NoError(t, err)
	assert.Nil(t, got, "rejected record must not be stored")

	_, err = c.Search(ctx, []float32{1, 0, 0}, 1, -1, false)
	assert.ErrorIs(t, err, memory.ErrDimensionMismatch)

	// Other collections keep their own dimension.
	other, err := s.EnsureCollection(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, other.Upsert(ctx, record("k1", "one", 1, 0, 0)))
}

func testSearchOrdering(t *testing.T, s memory.Store) {
	ctx := context.Background()

	c, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)
	d := float32(math.Sqrt(0.5))
	require.NoError(t, c.Upsert(ctx, record("y", "y", 0, 1)))
	require.NoError(t, c.Upsert(ctx, record("x", "x", 1, 0)))
	require.NoError(t, c.Upsert(ctx, record("neg", "neg", -1, 0)))
	require.NoError(t, c.Upsert(ctx, record("diag", "diag", d, d)))

	results, err := c.Search(ctx, []float32{1, 0}, 10, -1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "diag", "y", "neg"}, resultKeys(results))
	for i, r := range results {
		assert.GreaterOrEqual(t, r.Relevance, -1.0)
		assert.LessOrEqual(t, r.Relevance, 1.0)
		assert.Nil(t, r.Embedding)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Relevance, r.Relevance)
		}
	}
	assert.InDelta(t, 1.0, results[0].Relevance, 1e-5)
	assert.InDelta(t, math.Sqrt(0.5), results[1].Relevance, 1e-5)

	results, err = c.Search(ctx, []float32{1, 0}, 10, 0.5, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "diag"}, resultKeys(results))
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Relevance, 0.5)
		assert.Len(t, r.Embedding, 2)
	}

	results, err = c.Search(ctx, []float32{1, 0}, 10, 1.5, false)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func testSearchLimit(t *testing.T, s memory.Store) {
	ctx := context.Background()

	c, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		angle := float64(i) * 0.1
		v := []float32{float32(math.Cos(angle)), float32(math.Sin(angle))}
		require.NoError(t, c.Upsert(ctx, record(fmt.Sprintf("k%d", i), "t", v...)))
	}

	for _, limit := range []int{-1, 0, 1, 3, 5, 100} {
		results, err := c.Search(ctx, []float32{1, 0}, limit, -1, false)
		require.NoError(t, err)
		assert.Len(t, results, max(0, min(limit, 5)), "limit %d", limit)
	}

	results, err := c.Search(ctx, []float32{1, 0}, 3, -1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"k0", "k1", "k2"}, resultKeys(results))
}

func testSearchTieBreak(t *testing.T, s memory.Store) {
	ctx := context.Background()

	c, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)
	for _, key := range []string{"b", "a", "c", "d"} {
		require.NoError(t, c.Upsert(ctx, record(key, key, 0, 1)))
	}

	results, err := c.Search(ctx, []float32{0, 1}, 2, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, resultKeys(results))

	// Re-saving keeps the original position.
	require.NoError(t, c.Upsert(ctx, record("b", "b2", 0, 1)))
	results, err = c.Search(ctx, []float32{0, 1}, 4, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c", "d"}, resultKeys(results))
	assert.Equal(t, "b2", results[0].Metadata.Text)
}

func testSearchEmptyCollection(t *testing.T, s memory.Store) {
	ctx := context.Background()

	c, err := s.EnsureCollection(ctx, "empty")
	require.NoError(t, err)
	results, err := c.Search(ctx, []float32{1, 0}, 3, -1, false)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func testZeroVector(t *testing.T, s memory.Store) {
	ctx := context.Background()

	c, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)
	require.NoError(t, c.Upsert(ctx, record("a", "a", 1, 0)))
	require.NoError(t, c.Upsert(ctx, record("z", "z", 0, 0)))

	got, err := c.Get(ctx, "z", true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []float32{0, 0}, got.Embedding)

	// A zero vector is similar to nothing.
	results, err := c.Search(ctx, []float32{0, 0}, 5, 0.7, false)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = c.Search(ctx, []float32{0, 0}, 5, -1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, resultKeys(results))
	for _, r := range results {
		assert.Equal(t, 0.0, r.Relevance)
	}

	results, err = c.Search(ctx, []float32{1, 0}, 5, -1, true)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "z"}, resultKeys(results))
	assert.InDelta(t, 1.0, results[0].Relevance, 1e-5)
	assert.Equal(t, 0.0, results[1].Relevance)
	assert.Equal(t, []float32{0, 0}, results[1].Embedding)

	results, err = c.Search(ctx, []float32{1, 0}, 5, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, resultKeys(results))
}

func testConcurrentFirstWriters(t *testing.T, s memory.Store) {
	ctx := context.Background()
	const writers = 16

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.EnsureCollection(ctx, "shared")
			if err != nil {
				errs <- err
				return
			}
			errs <- c.Upsert(ctx, record(fmt.Sprintf("k%d", i), "t", 1, 0))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, names)

	c, ok, err := s.Collection(ctx, "shared")
	require.NoError(t, err)
	require.True(t, ok)
	results, err := c.Search(ctx, []float32{1, 0}, writers*2, 0, false)
	require.NoError(t, err)
	assert.Len(t, results, writers)
}

// testConcurrentSameKey checks that text and embedding always belong to the
// same write: writer i stores text "i" with embedding (cos θi, sin θi).
func testConcurrentSameKey(t *testing.T, s memory.Store) {
	ctx := context.Background()
	const writers = 8

	c, err := s.EnsureCollection(ctx, "race")
	require.NoError(t, err)

	angle := func(i int) float64 { return float64(i) * 0.15 }
	consistent := func(t *testing.T, text string, emb []float32) {
		var i int
		_, err := fmt.Sscanf(text, "%d", &i)
		require.NoError(t, err)
		require.Len(t, emb, 2)
		assert.InDelta(t, math.Cos(angle(i)), emb[0], 1e-5, "torn record %q", text)
		assert.InDelta(t, math.Sin(angle(i)), emb[1], 1e-5, "torn record %q", text)
	}

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				v := []float32{float32(math.Cos(angle(i))), float32(math.Sin(angle(i)))}
				assert.NoError(t, c.Upsert(ctx, record("k", fmt.Sprint(i), v...)))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				results, err := c.Search(ctx, []float32{1, 0}, 1, -1, true)
				assert.NoError(t, err)
				for _, r := range results {
					consistent(t, r.Metadata.Text, r.Embedding)
				}
			}
		}()
	}
	wg.Wait()

	got, err := c.Get(ctx, "k", true)
	require.NoError(t, err)
	require.NotNil(t, got)
	consistent(t, got.Metadata.Text, got.Embedding)
}

func testCancelled(t *testing.T, s memory.Store) {
	ctx := context.Background()
	c, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	_, err = s.EnsureCollection(cancelled, "other")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.Upsert(cancelled, record("k1", "one", 1, 0)), context.Canceled)
	_, err = c.Search(cancelled, []float32{1, 0}, 1, -1, false)
	assert.ErrorIs(t, err, context.Canceled)

	got, err := c.Get(ctx, "k1", false)
	require.NoError(t, err)
	assert.Nil(t, got, "cancelled upsert must not be applied")
}

func testClosed(t *testing.T, s memory.Store) {
	ctx := context.Background()
	require.NoError(t, s.Close())

	_, err := s.EnsureCollection(ctx, "facts")
	assert.ErrorIs(t, err, memory.ErrStoreClosed)
	_, err = s.ListCollections(ctx)
	assert.ErrorIs(t, err, memory.ErrStoreClosed)
}
