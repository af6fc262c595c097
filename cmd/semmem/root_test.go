package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/semantic-memory/memory"
	"github.com/becomeliminal/semantic-memory/memory/bootstrap"
)

type cli struct {
	t    *testing.T
	base []string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	return &cli{
		t: t,
		base: []string{
			"--sqlite-path", filepath.Join(t.TempDir(), "memory.db"),
			"--embedder", "mock",
			"--log-level", "error",
		},
	}
}

func (c *cli) run(args ...string) (string, error) {
	cmd := newRootCmd(bootstrap.Open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, c.base...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err)
	return out
}

func TestCLI_SaveSearchGet(t *testing.T) {
	c := newCLI(t)

	var saved map[string]string
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("save", "facts", "The sky is blue", "--key", "k1")), &saved))
	assert.Equal(t, "k1", saved["key"])

	var results []memory.MemoryQueryResult
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("search", "facts", "The sky is blue", "--min-relevance", "0")), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "k1", results[0].Metadata.ID)
	assert.Nil(t, results[0].Embedding)

	var got memory.MemoryQueryResult
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("get", "facts", "k1", "--with-embedding")), &got))
	assert.Equal(t, "The sky is blue", got.Metadata.Text)
	assert.NotEmpty(t, got.Embedding)

	var names []string
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("collections")), &names))
	assert.Equal(t, []string{"facts"}, names)
}

func TestCLI_RemoveAndDrop(t *testing.T) {
	c := newCLI(t)

	c.mustRun("save-ref", "docs", "readme excerpt", "--id", "README.md", "--source", "github")
	c.mustRun("remove", "docs", "README.md")
	c.mustRun("remove", "docs", "README.md")
	assert.Equal(t, "null\n", c.mustRun("get", "docs", "README.md"))

	c.mustRun("drop", "docs")
	c.mustRun("drop", "docs")
	assert.Equal(t, "[]\n", c.mustRun("collections"))
	assert.Equal(t, "[]\n", c.mustRun("search", "docs", "readme"))
}

func TestCLI_InvalidCollection(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("save", "", "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrInvalidCollectionName)
}

func TestCLI_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "from-config.db")
	cfgPath := filepath.Join(dir, "semmem.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("backend: sqlite\nsqlite-path: "+dbPath+"\nembedder: mock\nlog-level: error\n"), 0o600))

	cmd := newRootCmd(bootstrap.Open)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"save", "facts", "text", "--config", cfgPath})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestLoadConfig_DefaultsToSQLite(t *testing.T) {
	t.Setenv("SEMMEM_LOG_LEVEL", "warn")
	t.Setenv("SEMMEM_BACKEND", "")
	require.NoError(t, os.Unsetenv("SEMMEM_BACKEND"))

	cfg, err := loadConfig(viper.New())
	require.NoError(t, err)
	assert.Equal(t, bootstrap.BackendSQLite, cfg.Backend)
	assert.Equal(t, "warn", cfg.LogLevel)

	t.Setenv("SEMMEM_BACKEND", "chromem")
	cfg, err = loadConfig(viper.New())
	require.NoError(t, err)
	assert.Equal(t, bootstrap.BackendChromem, cfg.Backend)

	v := viper.New()
	v.Set("backend", "hnsw")
	v.Set("default-limit", 3)
	cfg, err = loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, bootstrap.BackendHNSW, cfg.Backend)
	assert.Equal(t, 3, cfg.DefaultLimit)
}
