package cache_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/semantic-memory/memory/embedder/cache"
	"github.com/becomeliminal/semantic-memory/memory/embedder/mock"
)

type countingEmbedder struct {
	inner *mock.MockEmbedder
	calls atomic.Int32
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

func TestCachedEmbedder_Hit(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{inner: mock.NewWithDimensions(8)}
	e, err := cache.New(inner, 100, nil)
	require.NoError(t, err)
	defer e.Close()

	first, err := e.Embed(ctx, "The sky is blue")
	require.NoError(t, err)
	e.Wait()

	second, err := e.Embed(ctx, "The sky is blue")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 8, e.Dimensions())
}

func TestCachedEmbedder_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{inner: mock.NewWithDimensions(4)}
	e, err := cache.New(inner, 10, nil)
	require.NoError(t, err)
	defer e.Close()

	first, err := e.Embed(ctx, "text")
	require.NoError(t, err)
	e.Wait()
	want := append([]float32(nil), first...)
	first[0] = 42

	second, err := e.Embed(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, want, second)

	second[1] = 42
	third, err := e.Embed(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, want, third)
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("provider down")
	inner := &countingEmbedder{inner: mock.NewWithDimensions(4), err: boom}
	e, err := cache.New(inner, 10, nil)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Embed(ctx, "text")
	assert.ErrorIs(t, err, boom)
	e.Wait()
	_, err = e.Embed(ctx, "text")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedEmbedder_InvalidSize(t *testing.T) {
	_, err := cache.New(mock.New(), 0, nil)
	assert.Error(t, err)
}
