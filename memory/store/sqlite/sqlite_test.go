package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/semantic-memory/memory"
	"github.com/becomeliminal/semantic-memory/memory/store/sqlite"
	"github.com/becomeliminal/semantic-memory/memory/store/storetest"
)

func TestStore_File(t *testing.T) {
	storetest.Run(t, func(t *testing.T) memory.Store {
		s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "memory.db"))
		require.NoError(t, err)
		return s
	})
}

func TestStore_InMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) memory.Store {
		s, err := sqlite.Open(context.Background(), ":memory:")
		require.NoError(t, err)
		return s
	})
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	s, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	c, err := s.EnsureCollection(ctx, "facts")
	require.NoError(t, err)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, c.Upsert(ctx, memory.LocalRecord("a", "first", "", "", []float32{0, 1}, ts)))
	require.NoError(t, c.Upsert(ctx, memory.LocalRecord("b", "second", "", "", []float32{0, 1}, ts)))
	require.NoError(t, s.Close())

	s, err = sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"facts"}, names)

	c, ok, err := s.Collection(ctx, "facts")
	require.NoError(t, err)
	require.True(t, ok)

	// Insertion order and dimension survive a restart.
	results, err := c.Search(ctx, []float32{0, 1}, 2, 0, false)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Metadata.ID)
	assert.Equal(t, "b", results[1].Metadata.ID)

	err = c.Upsert(ctx, memory.LocalRecord("c", "third", "", "", []float32{1, 0, 0}, ts))
	assert.ErrorIs(t, err, memory.ErrDimensionMismatch)
}

func TestStore_WritersAcrossCollections(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	defer s.Close()

	const perCollection = 20
	names := []string{"left", "right"}
	var wg sync.WaitGroup
	errs := make(chan error, len(names)*perCollection)
	for _, name := range names {
		c, err := s.EnsureCollection(ctx, name)
		require.NoError(t, err)
		for i := 0; i < perCollection; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- c.Upsert(ctx, memory.LocalRecord(fmt.Sprintf("k%d", i), "t", "", "", []float32{1, 0}, time.Now()))
			}(i)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, name := range names {
		c, ok, err := s.Collection(ctx, name)
		require.NoError(t, err)
		require.True(t, ok)
		results, err := c.Search(ctx, []float32{1, 0}, 100, 0, false)
		require.NoError(t, err)
		assert.Len(t, results, perCollection, name)
	}
}
