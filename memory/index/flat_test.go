package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys[T any](matches []Match[T]) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Key
	}
	return out
}

func TestFlat_UpsertGetRemove(t *testing.T) {
	f := NewFlat[string]()

	require.NoError(t, f.Upsert("a", []float32{1, 0, 0}, "alpha"))
	payload, vec, ok := f.Get("a", true)
	require.True(t, ok)
	assert.Equal(t, "alpha", payload)
	assert.Equal(t, []float32{1, 0, 0}, vec)

	_, vec, ok = f.Get("a", false)
	require.True(t, ok)
	assert.Nil(t, vec)

	f.Remove("a")
	f.Remove("a")
	_, _, ok = f.Get("a", false)
	assert.False(t, ok)
	assert.Equal(t, 0, f.Len())
}

func TestFlat_CopiesVectors(t *testing.T) {
	f := NewFlat[int]()
	v := []float32{1, 2, 3}
	require.NoError(t, f.Upsert("a", v, 1))
	v[0] = 99

	_, got, _ := f.Get("a", true)
	assert.Equal(t, float32(1), got[0])

	got[1] = 42
	_, again, _ := f.Get("a", true)
	assert.Equal(t, float32(2), again[1])
}

func TestFlat_DimensionMismatch(t *testing.T) {
	f := NewFlat[int]()
	require.NoError(t, f.Upsert("a", []float32{1, 0}, 1))

	err := f.Upsert("b", []float32{1, 0, 0}, 2)
	var dimErr *DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 2, dimErr.Want)
	assert.Equal(t, 3, dimErr.Got)

	_, err = f.Search([]float32{1}, 1, -1, false)
	require.ErrorAs(t, err, &dimErr)

	// Dimension stays fixed after the collection empties.
	f.Remove("a")
	require.Error(t, f.Upsert("c", []float32{1, 0, 0}, 3))
}

func TestFlat_SearchOrderingAndThreshold(t *testing.T) {
	f := NewFlat[string]()
	require.NoError(t, f.Upsert("x", []float32{1, 0}, "x"))
	require.NoError(t, f.Upsert("diag", []float32{1, 1}, "diag"))
	require.NoError(t, f.Upsert("y", []float32{0, 1}, "y"))
	require.NoError(t, f.Upsert("neg", []float32{-1, 0}, "neg"))

	matches, err := f.Search([]float32{1, 0}, 10, -1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "diag", "y", "neg"}, keys(matches))
	assert.InDelta(t, 1.0, matches[0].Relevance, 1e-9)
	assert.InDelta(t, -1.0, matches[3].Relevance, 1e-9)
	for _, m := range matches {
		assert.Nil(t, m.Vector)
	}

	matches, err = f.Search([]float32{1, 0}, 10, 0.5, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "diag"}, keys(matches))
	assert.Equal(t, []float32{1, 0}, matches[0].Vector)

	matches, err = f.Search([]float32{1, 0}, 0, -1, false)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFlat_TieBreakByInsertion(t *testing.T) {
	f := NewFlat[int]()
	for i := 0; i < 20; i++ {
		require.NoError(t, f.Upsert(fmt.Sprintf("k%02d", i), []float32{0.5, 0.5}, i))
	}

	matches, err := f.Search([]float32{1, 1}, 5, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"k00", "k01", "k02", "k03", "k04"}, keys(matches))

	// Replacing a key keeps its place.
	require.NoError(t, f.Upsert("k00", []float32{0.5, 0.5}, 100))
	matches, err = f.Search([]float32{1, 1}, 1, 0, false)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "k00", matches[0].Key)
	assert.Equal(t, 100, matches[0].Payload)
}

func TestFlat_ConcurrentAccess(t *testing.T) {
	f := NewFlat[int]()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = f.Upsert(fmt.Sprintf("k%d", j%10), []float32{float32(i), float32(j), 1}, i)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := f.Search([]float32{1, 1, 1}, 3, -1, true)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, f.Len())
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 1}))
}
