//go:build onnx

package bootstrap

import (
	"github.com/charmbracelet/log"

	"github.com/becomeliminal/semantic-memory/memory"
	"github.com/becomeliminal/semantic-memory/memory/embedder/onnx"
)

func newONNXEmbedder(cfg *Config, logger *log.Logger) (memory.Embedder, error) {
	return onnx.New(onnx.Config{
		ModelPath:     cfg.ONNXModelPath,
		TokenizerPath: cfg.ONNXTokenizerPath,
		LibraryPath:   cfg.ONNXLibraryPath,
		Dimensions:    cfg.EmbeddingDimensions,
		Logger:        logger,
	})
}
