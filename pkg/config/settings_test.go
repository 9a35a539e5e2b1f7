package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load(newViper())
	require.NoError(t, err)
	assert.Equal(t, "conversation_history.jsonl", s.RecordsFile)
	assert.Equal(t, "openai", s.Backend)
	assert.Equal(t, 2*time.Minute, s.GenerationTimeout)
	assert.Equal(t, "none", s.RetrievalStore)
	assert.Equal(t, 4, s.TopK)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  interface{}
	}{
		{name: "unknown backend", key: "backend", val: "replicate"},
		{name: "memory store without index", key: "retrieval-store", val: "memory"},
		{name: "weaviate without class", key: "retrieval-store", val: "weaviate"},
		{name: "top-k too large", key: "top-k", val: 500},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := newViper()
			v.Set(tc.key, tc.val)
			_, err := Load(v)
			assert.Error(t, err)
		})
	}
}

func TestLoadModelsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - name: Qwen
    id: local/qwen2
    family: chatml
    backend: ollama
  - id: local/mistral
    family: mistral
`), 0o644))

	v := newViper()
	v.Set("models-file", path)
	s, err := Load(v)
	require.NoError(t, err)
	require.Len(t, s.Models, 2)
	assert.Equal(t, ModelPreset{Name: "Qwen", ID: "local/qwen2", Family: "chatml", Backend: "ollama"}, s.Models[0])

	require.NoError(t, os.WriteFile(path, []byte("models:\n  - id: x\n    family: gpt\n"), 0o644))
	_, err = Load(v)
	assert.Error(t, err)
}

func TestIsAdmin(t *testing.T) {
	s := &Settings{Admins: []string{"Root"}}
	assert.True(t, s.IsAdmin("root"))
	assert.False(t, s.IsAdmin("alice"))
}
