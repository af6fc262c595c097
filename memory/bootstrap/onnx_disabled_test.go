//go:build !onnx

package bootstrap_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/semantic-memory/memory/bootstrap"
)

func TestOpen_ONNXNotCompiled(t *testing.T) {
	cfg, err := bootstrap.LoadConfig()
	require.NoError(t, err)
	cfg.Embedder = bootstrap.EmbedderONNX

	_, err = bootstrap.Open(context.Background(), cfg)
	assert.True(t, errors.Is(err, bootstrap.ErrONNXUnavailable))
}
