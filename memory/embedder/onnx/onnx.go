//go:build onnx

package onnx

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/m-mizutani/goerr/v2"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/becomeliminal/semantic-memory/memory"
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// LibraryPath locates libonnxruntime. Empty uses the loader's search path.
	LibraryPath string

	// Dimensions is the embedding vector size (default: 384 for all-MiniLM-L6-v2).
	Dimensions int

	// MaxLength is the token sequence length (default: 128).
	MaxLength int

	Logger *log.Logger
}

// ONNXEmbedder generates embeddings using ONNX Runtime.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	tokenizer  *Tokenizer
	dimensions int
	maxLen     int
	logger     *log.Logger
}

var initOnce sync.Once
var initErr error

// New creates a new ONNX embedder.
func New(cfg Config) (*ONNXEmbedder, error) {
	if cfg.ModelPath == "" {
		return nil, goerr.New("onnx model path is required")
	}
	if cfg.TokenizerPath == "" {
		return nil, goerr.New("onnx tokenizer path is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	logger := memory.NamedLogger(cfg.Logger, "onnx")

	initOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, goerr.Wrap(initErr, "failed to initialize onnx runtime",
			goerr.V("library", cfg.LibraryPath))
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create onnx session", goerr.V("model", cfg.ModelPath))
	}
	logger.Debug("model loaded", "model", cfg.ModelPath, "dimensions", cfg.Dimensions)

	return &ONNXEmbedder{
		session:    session,
		tokenizer:  tokenizer,
		dimensions: cfg.Dimensions,
		maxLen:     cfg.MaxLength,
		logger:     logger,
	}, nil
}

// Embed converts text to embedding vector.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids, mask := e.tokenizer.Encode(text, e.maxLen)
	shape := ort.NewShape(1, int64(e.maxLen))

	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create input_ids tensor")
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create attention_mask tensor")
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, make([]int64, e.maxLen))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create token_type_ids tensor")
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err = e.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, goerr.Wrap(err, "onnx inference failed")
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, goerr.New("unexpected output tensor type")
	}
	return pool(tensor.GetData(), tensor.GetShape(), mask, e.dimensions)
}

// Dimensions returns the embedding vector size.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close releases ONNX resources.
func (e *ONNXEmbedder) Close() error {
	if e.session == nil {
		return nil
	}
	if err := e.session.Destroy(); err != nil {
		return goerr.Wrap(err, "failed to destroy onnx session")
	}
	return nil
}
