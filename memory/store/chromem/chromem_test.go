package chromem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/semantic-memory/memory"
	"github.com/becomeliminal/semantic-memory/memory/store/chromem"
	"github.com/becomeliminal/semantic-memory/memory/store/storetest"
)

func TestChromemStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) memory.Store {
		s, err := chromem.New(nil)
		require.NoError(t, err)
		return s
	})
}

func TestChromemStore_NormalizesEmbeddings(t *testing.T) {
	ctx := context.Background()
	s, err := chromem.New(nil)
	require.NoError(t, err)
	defer s.Close()

	c, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)
	require.NoError(t, c.Upsert(ctx, memory.LocalRecord("k1", "text", "", "", []float32{3, 4}, time.Now())))

	got, err := c.Get(ctx, "k1", true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, got.Embedding, 1e-6)

	results, err := c.Search(ctx, []float32{3, 4}, 1, 0.99, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Relevance, 1e-5)
}
