/*
Command semmem stores and searches text by meaning from the shell.
Records live in collections; every command maps onto one SemanticTextMemory
operation.
*/
package main

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/becomeliminal/semantic-memory/memory/bootstrap"
)

/*
openFunc opens the memory a command runs against. Tests swap it to share one
in-process store between invocations.
*/
type openFunc func(ctx context.Context, cfg *bootstrap.Config) (*bootstrap.Memory, error)

/*
newRootCmd builds the command tree. Every invocation gets its own viper
instance, so flags and config files never leak between runs.
*/
func newRootCmd(open openFunc) *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "semmem",
		Short:         "Semantic text memory",
		Long:          longRoot,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfigFile(v)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.String("backend", "", "store backend: memory, hnsw, chromem or sqlite (default sqlite)")
	flags.String("sqlite-path", "", "database file for the sqlite backend")
	flags.String("embedder", "", "embedding provider: mock, openai, ollama, gemini or onnx")
	flags.String("embedding-model", "", "embedding model name")
	flags.Int("embedding-dimensions", 0, "embedding vector size")
	flags.String("log-level", "", "debug, info, warn or error")

	for _, name := range []string{"config", "backend", "sqlite-path", "embedder", "embedding-model", "embedding-dimensions", "log-level"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	load := func(cmd *cobra.Command) (*bootstrap.Memory, error) {
		cfg, err := loadConfig(v)
		if err != nil {
			return nil, err
		}
		return open(cmd.Context(), cfg)
	}

	root.AddCommand(
		newSaveCmd(load),
		newSaveRefCmd(load),
		newGetCmd(load),
		newRemoveCmd(load),
		newSearchCmd(load),
		newCollectionsCmd(load),
		newDropCmd(load),
	)
	return root
}

func readConfigFile(v *viper.Viper) error {
	path := v.GetString("config")
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}
	return nil
}

/*
loadConfig starts from the SEMMEM_* environment and overlays whatever the
config file or flags set. Without any backend choice the CLI persists to
sqlite, since an in-memory store would not outlive the command.
*/
func loadConfig(v *viper.Viper) (*bootstrap.Config, error) {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return nil, err
	}

	if _, ok := os.LookupEnv(bootstrap.EnvPrefix + "_BACKEND"); !ok {
		cfg.Backend = bootstrap.BackendSQLite
	}
	overlayString(v, "backend", &cfg.Backend)
	overlayString(v, "sqlite-path", &cfg.SQLitePath)
	overlayString(v, "embedder", &cfg.Embedder)
	overlayString(v, "embedding-model", &cfg.EmbeddingModel)
	overlayString(v, "log-level", &cfg.LogLevel)
	if v.IsSet("embedding-dimensions") && v.GetInt("embedding-dimensions") > 0 {
		cfg.EmbeddingDimensions = v.GetInt("embedding-dimensions")
	}
	if v.IsSet("default-limit") {
		cfg.DefaultLimit = v.GetInt("default-limit")
	}
	if v.IsSet("default-min-relevance") {
		cfg.DefaultMinRelevance = v.GetFloat64("default-min-relevance")
	}
	return cfg, nil
}

func overlayString(v *viper.Viper, key string, dst *string) {
	if s := v.GetString(key); s != "" {
		*dst = s
	}
}

var longRoot = `
semmem stores short texts with their embeddings and finds them again by
meaning rather than by exact words.

Configuration comes from SEMMEM_* environment variables, an optional YAML
file (--config) and flags, in increasing order of precedence.

Examples:
  semmem save facts "The sky is blue" --key k1
  semmem search facts "sky color" --min-relevance 0
`
