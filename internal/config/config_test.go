package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.VectorStore.Type)
	assert.Equal(t, "hashing", cfg.Embedder.Type)
	assert.Equal(t, 384, cfg.Embedder.Dimension)
	assert.Equal(t, "word", cfg.Chunker.Type)
	assert.Equal(t, 500, cfg.Chunker.ChunkSize)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Nil(t, cfg.Retrieval.MinScore)
	assert.Equal(t, "gpt-3.5-turbo", cfg.Completion.Model)
	assert.Equal(t, 500, cfg.Completion.MaxTokens)
	assert.Equal(t, 30, cfg.Timeouts.RemoteSecs)
	assert.NoError(t, cfg.Validate())
}

func TestLoadAppliesSectionDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
vector_store:
  type: qdrant
embedder:
  type: openai
chunker:
  type: char
retrieval:
  min_score: 0.25
cache:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.VectorStore.Qdrant)
	assert.Equal(t, "http://localhost:6333", cfg.VectorStore.Qdrant.URL)
	assert.Equal(t, "document_chunks", cfg.VectorStore.Qdrant.Collection)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 150, cfg.Chunker.Overlap)
	require.NotNil(t, cfg.Retrieval.MinScore)
	assert.InDelta(t, 0.25, *cfg.Retrieval.MinScore, 1e-6)
	assert.Equal(t, "localhost:6379", cfg.Cache.Addr)
	assert.Equal(t, "docqa:emb:", cfg.Cache.KeyPrefix)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	cfg.Embedder.Type = "tfidf"
	assert.ErrorContains(t, cfg.Validate(), "embedder.type")

	cfg = defaultConfig()
	cfg.Embedder.Type = "remote"
	assert.ErrorContains(t, cfg.Validate(), "base_url")

	cfg = defaultConfig()
	cfg.Storage.Type = "s3"
	assert.ErrorContains(t, cfg.Validate(), "bucket")
}

func TestDatabaseDSNPrefersEnv(t *testing.T) {
	cfg := defaultConfig()
	cfg.Database.DSNEnv = "DOCQA_TEST_DSN"
	assert.Equal(t, "docqa.db", cfg.DatabaseDSN())

	t.Setenv("DOCQA_TEST_DSN", "postgres://x")
	assert.Equal(t, "postgres://x", cfg.DatabaseDSN())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Server.Addr = ":9999"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", loaded.Server.Addr)
}

func TestLoadDefaultWritesUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "docqa", "config.yaml"), path)
	assert.FileExists(t, path)
	assert.Equal(t, "memory", cfg.VectorStore.Type)
}
