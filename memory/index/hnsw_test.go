package index

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHNSWBasic(t *testing.T) {
	h := NewHNSW[string](HNSWConfig{Seed: 42})

	vectors := []struct {
		id  string
		vec []float32
	}{
		{"vec1", []float32{1.0, 0.0, 0.0, 0.0}},
		{"vec2", []float32{0.0, 1.0, 0.0, 0.0}},
		{"vec3", []float32{0.0, 0.0, 1.0, 0.0}},
		{"vec4", []float32{0.5, 0.5, 0.0, 0.0}},
		{"vec5", []float32{0.5, 0.0, 0.5, 0.0}},
	}
	for _, v := range vectors {
		require.NoError(t, h.Upsert(v.id, v.vec, v.id))
	}
	assert.Equal(t, 5, h.Len())

	matches, err := h.Search([]float32{0.9, 0.1, 0.0, 0.0}, 3, -1, false)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "vec1", matches[0].Key)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Relevance, matches[i].Relevance)
	}
}

func TestHNSW_RemoveAndReplace(t *testing.T) {
	h := NewHNSW[int](HNSWConfig{Seed: 7})
	require.NoError(t, h.Upsert("a", []float32{1, 0}, 1))
	require.NoError(t, h.Upsert("b", []float32{1, 0}, 2))

	h.Remove("a")
	h.Remove("a")
	_, _, ok := h.Get("a", false)
	assert.False(t, ok)

	matches, err := h.Search([]float32{1, 0}, 5, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys(matches))

	require.NoError(t, h.Upsert("b", []float32{0, 1}, 3))
	payload, vec, ok := h.Get("b", true)
	require.True(t, ok)
	assert.Equal(t, 3, payload)
	assert.Equal(t, []float32{0, 1}, vec)
	assert.Equal(t, 1, h.Len())

	var dimErr *DimensionError
	require.ErrorAs(t, h.Upsert("c", []float32{1, 2, 3}, 4), &dimErr)
}

func TestHNSW_TieBreakByInsertion(t *testing.T) {
	h := NewHNSW[int](HNSWConfig{Seed: 1})
	for i := 0; i < 10; i++ {
		require.NoError(t, h.Upsert(fmt.Sprintf("k%d", i), []float32{1, 1}, i))
	}
	matches, err := h.Search([]float32{1, 1}, 3, 0.9, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"k0", "k1", "k2"}, keys(matches))
}

func TestHNSW_RecallAgainstFlat(t *testing.T) {
	const (
		n    = 2000
		dim  = 16
		k    = 10
		runs = 20
	)
	rng := rand.New(rand.NewSource(99))
	randVec := func() []float32 {
		v := make([]float32, dim)
		for i := range v {
			v[i] = rng.Float32()*2 - 1
		}
		return v
	}

	flat := NewFlat[int]()
	h := NewHNSW[int](HNSWConfig{M: 16, EfConstruction: 200, EfSearch: 100, Seed: 5})
	for i := 0; i < n; i++ {
		v := randVec()
		key := fmt.Sprintf("v%d", i)
		require.NoError(t, flat.Upsert(key, v, i))
		require.NoError(t, h.Upsert(key, v, i))
	}

	hits, total := 0, 0
	for r := 0; r < runs; r++ {
		q := randVec()
		exact, err := flat.Search(q, k, -1, false)
		require.NoError(t, err)
		approx, err := h.Search(q, k, -1, false)
		require.NoError(t, err)
		require.Len(t, approx, k)

		for i := 1; i < len(approx); i++ {
			assert.GreaterOrEqual(t, approx[i-1].Relevance, approx[i].Relevance)
		}

		want := make(map[string]bool, k)
		for _, m := range exact {
			want[m.Key] = true
		}
		for _, m := range approx {
			// Scores are exact even when the candidate set is approximate.
			_, vec, ok := flat.Get(m.Key, true)
			require.True(t, ok)
			assert.InDelta(t, Cosine(q, vec), m.Relevance, 1e-9)
			if want[m.Key] {
				hits++
			}
		}
		total += k
	}

	recall := float64(hits) / float64(total)
	assert.GreaterOrEqual(t, recall, 0.8, "recall %.2f", recall)
}

func TestHNSW_RepeatedReplaceKeepsResults(t *testing.T) {
	h := NewHNSW[int](HNSWConfig{M: 4, EfConstruction: 8, EfSearch: 4, Seed: 3})
	rng := rand.New(rand.NewSource(11))
	for round := 0; round < 200; round++ {
		for i := 0; i < 10; i++ {
			v := []float32{1 + rng.Float32()*0.1, 1, 1}
			require.NoError(t, h.Upsert(fmt.Sprintf("k%d", i), v, round))
		}
	}
	assert.Equal(t, 10, h.Len())
	assert.Less(t, h.Tombstones(), max(minTombstones, h.Len())+1)

	matches, err := h.Search([]float32{1, 1, 1}, 4, -1, false)
	require.NoError(t, err)
	require.Len(t, matches, 4)
	for _, m := range matches {
		assert.Equal(t, 199, m.Payload)
	}

	// Insertion order survives rebuilds.
	ties := NewHNSW[int](HNSWConfig{M: 4, EfConstruction: 8, Seed: 3})
	for round := 0; round < 50; round++ {
		for i := 0; i < 10; i++ {
			require.NoError(t, ties.Upsert(fmt.Sprintf("k%d", i), []float32{1, 1}, round))
		}
	}
	matches, err = ties.Search([]float32{1, 1}, 3, 0.9, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"k0", "k1", "k2"}, keys(matches))
}

func TestHNSW_ChurnRecallAgainstFlat(t *testing.T) {
	const (
		n    = 300
		dim  = 8
		k    = 10
		runs = 20
	)
	rng := rand.New(rand.NewSource(21))
	randVec := func() []float32 {
		v := make([]float32, dim)
		for i := range v {
			v[i] = rng.Float32()*2 - 1
		}
		return v
	}

	flat := NewFlat[int]()
	h := NewHNSW[int](HNSWConfig{M: 8, EfConstruction: 64, EfSearch: 20, Seed: 9})
	upsert := func(key string, i int) {
		v := randVec()
		require.NoError(t, flat.Upsert(key, v, i))
		require.NoError(t, h.Upsert(key, v, i))
	}

	for i := 0; i < n; i++ {
		upsert(fmt.Sprintf("v%d", i), i)
	}
	for pass := 0; pass < 5; pass++ {
		for i := 0; i < n; i++ {
			upsert(fmt.Sprintf("v%d", i), i)
		}
	}
	for i := 0; i < n; i += 5 {
		key := fmt.Sprintf("v%d", i)
		flat.Remove(key)
		h.Remove(key)
	}
	require.Equal(t, flat.Len(), h.Len())
	require.Greater(t, h.Len(), 20)
	assert.LessOrEqual(t, h.Tombstones(), max(minTombstones, h.Len()))

	hits, total := 0, 0
	for r := 0; r < runs; r++ {
		q := randVec()
		exact, err := flat.Search(q, k, -1, false)
		require.NoError(t, err)
		approx, err := h.Search(q, k, -1, false)
		require.NoError(t, err)
		require.Len(t, approx, k)

		want := make(map[string]bool, k)
		for _, m := range exact {
			want[m.Key] = true
		}
		for _, m := range approx {
			_, ok := flat.entries[m.Key]
			assert.True(t, ok, "removed key %s returned", m.Key)
			if want[m.Key] {
				hits++
			}
		}
		total += k
	}

	recall := float64(hits) / float64(total)
	assert.GreaterOrEqual(t, recall, 0.8, "recall %.2f", recall)
}

func TestHNSW_RemoveAllResets(t *testing.T) {
	h := NewHNSW[int](HNSWConfig{M: 4, EfConstruction: 8, EfSearch: 4, Seed: 2})
	for i := 0; i < 40; i++ {
		require.NoError(t, h.Upsert(fmt.Sprintf("k%d", i), []float32{float32(i), 1}, i))
	}
	for i := 0; i < 40; i++ {
		h.Remove(fmt.Sprintf("k%d", i))
	}
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, h.Tombstones())

	require.NoError(t, h.Upsert("again", []float32{1, 0}, 1))
	matches, err := h.Search([]float32{1, 0}, 1, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"again"}, keys(matches))
}
