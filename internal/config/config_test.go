package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1", cfg.Embedder.BaseURL)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.Model)
	assert.Equal(t, 32, cfg.Embedder.BatchSize)
	assert.Equal(t, 5, cfg.Embedder.MaxAttempts)
	assert.Equal(t, 150, cfg.Chunker.MinChars)
	assert.Equal(t, 1200, cfg.Chunker.MaxChars)
	assert.Equal(t, "memory", cfg.Store.Type)

	col, err := cfg.Collection("nelson_textbook")
	require.NoError(t, err)
	assert.Equal(t, 1536, col.Dimension)
	assert.InDelta(t, 0.7, col.SimilarityThreshold, 1e-9)

	col, err = cfg.Collection("pediatric_medical_resources")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, col.SimilarityThreshold, 1e-9)
}

func TestLoadAppliesDefaultsOverPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
embedder:
  model: custom-embedder
store:
  type: postgres
collections:
  nelson_textbook:
    table: nelson_textbook
    dimension: 1024
    similarity_threshold: 0.6
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-embedder", cfg.Embedder.Model)
	assert.Equal(t, "postgres", cfg.Store.Type)
	assert.Equal(t, "DATABASE_URL", cfg.Store.DSNEnv)
	assert.Equal(t, 32, cfg.Embedder.BatchSize)

	col, err := cfg.Collection("nelson_textbook")
	require.NoError(t, err)
	assert.Equal(t, 1024, col.Dimension)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad dimension": `
collections:
  nelson_textbook:
    table: nelson_textbook
    dimension: 512
`,
		"bad store type": `
store:
  type: qdrant
`,
		"threshold above one": `
collections:
  nelson_textbook:
    table: nelson_textbook
    dimension: 1536
    similarity_threshold: 1.5
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	original, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	original.Embedder.Model = "text-embedding-3-large"

	require.NoError(t, Save(path, original))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, original, back)
}

func TestCollectionUnknownName(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	_, err = cfg.Collection("nope")
	assert.Error(t, err)
}
