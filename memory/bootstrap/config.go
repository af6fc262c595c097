// Package bootstrap assembles a SemanticTextMemory from environment
// configuration: a store backend, an embedding provider and an optional
// embedding cache.
package bootstrap

import (
	"github.com/charmbracelet/log"
	"github.com/kelseyhightower/envconfig"
	"github.com/m-mizutani/goerr/v2"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "SEMMEM"

// Store backends.
const (
	BackendMemory  = "memory"
	BackendHNSW    = "hnsw"
	BackendChromem = "chromem"
	BackendSQLite  = "sqlite"
)

// Embedding providers.
const (
	EmbedderMock   = "mock"
	EmbedderOpenAI = "openai"
	EmbedderOllama = "ollama"
	EmbedderGemini = "gemini"
	EmbedderONNX   = "onnx"
)

// Config selects and tunes the memory components.
type Config struct {
	// Enabled=false yields memory.Null.
	Enabled bool   `envconfig:"ENABLED" default:"true"`
	Backend string `envconfig:"BACKEND" default:"memory"`

	SQLitePath string `envconfig:"SQLITE_PATH" default:"semmem.db"`

	Embedder            string `envconfig:"EMBEDDER" default:"mock"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS"`
	EmbeddingCacheSize  int64  `envconfig:"EMBEDDING_CACHE_SIZE" default:"0"`

	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`

	OllamaHost string `envconfig:"OLLAMA_HOST"`

	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	GeminiProject  string `envconfig:"GEMINI_PROJECT"`
	GeminiLocation string `envconfig:"GEMINI_LOCATION" default:"us-central1"`

	ONNXModelPath     string `envconfig:"ONNX_MODEL_PATH"`
	ONNXTokenizerPath string `envconfig:"ONNX_TOKENIZER_PATH"`
	ONNXLibraryPath   string `envconfig:"ONNX_LIBRARY_PATH"`

	HNSWM              int `envconfig:"HNSW_M" default:"16"`
	HNSWEfConstruction int `envconfig:"HNSW_EF_CONSTRUCTION" default:"200"`
	HNSWEfSearch       int `envconfig:"HNSW_EF_SEARCH" default:"64"`

	DefaultLimit        int     `envconfig:"DEFAULT_LIMIT" default:"1"`
	DefaultMinRelevance float64 `envconfig:"DEFAULT_MIN_RELEVANCE" default:"0.7"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Logger overrides the logger built from LogLevel.
	Logger *log.Logger `ignored:"true"`
}

// LoadConfig reads SEMMEM_* environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to load memory config")
	}
	return &cfg, nil
}
