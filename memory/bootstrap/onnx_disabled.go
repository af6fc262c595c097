//go:build !onnx

package bootstrap

import (
	"github.com/charmbracelet/log"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/semantic-memory/memory"
)

// ErrONNXUnavailable is returned for the onnx embedder in builds without the
// "onnx" tag.
var ErrONNXUnavailable = goerr.New("onnx embedder not compiled in; rebuild with -tags onnx")

func newONNXEmbedder(*Config, *log.Logger) (memory.Embedder, error) {
	return nil, ErrONNXUnavailable
}
