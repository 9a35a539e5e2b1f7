package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "LLM_EVAL"

// ModelPreset makes a model selectable and tells how to encode prompts for it
// and which backend serves it.
type ModelPreset struct {
	Name    string `yaml:"name" mapstructure:"name"`
	ID      string `yaml:"id" mapstructure:"id" validate:"required"`
	Family  string `yaml:"family" mapstructure:"family" validate:"required,oneof=arctic llama3 mistral chatml"`
	Backend string `yaml:"backend,omitempty" mapstructure:"backend" validate:"omitempty,oneof=openai ollama echo"`
}

type Settings struct {
	RecordsFile string   `mapstructure:"records-file" validate:"required"`
	StrictLoad  bool     `mapstructure:"strict-load"`
	Admins      []string `mapstructure:"admins"`

	Backend           string        `mapstructure:"backend" validate:"oneof=openai ollama echo"`
	OpenAIAPIKey      string        `mapstructure:"openai-api-key"`
	OpenAIBaseURL     string        `mapstructure:"openai-base-url"`
	OllamaHost        string        `mapstructure:"ollama-host"`
	GenerationTimeout time.Duration `mapstructure:"generation-timeout" validate:"gte=0"`

	RetrievalStore   string  `mapstructure:"retrieval-store" validate:"oneof=none memory weaviate milvus"`
	Embedder         string  `mapstructure:"embedder" validate:"oneof=openai ollama hashing"`
	EmbeddingModel   string  `mapstructure:"embedding-model"`
	EmbeddingCache   int     `mapstructure:"embedding-cache" validate:"gte=0"`
	IndexFile        string  `mapstructure:"index-file" validate:"required_if=RetrievalStore memory"`
	TopK             int     `mapstructure:"top-k" validate:"gte=1,lte=50"`
	MinScore         float64 `mapstructure:"min-score"`
	MaxContextTokens int     `mapstructure:"max-context-tokens" validate:"gte=0"`

	WeaviateHost   string `mapstructure:"weaviate-host"`
	WeaviateScheme string `mapstructure:"weaviate-scheme"`
	WeaviateAPIKey string `mapstructure:"weaviate-api-key"`
	WeaviateClass  string `mapstructure:"weaviate-class" validate:"required_if=RetrievalStore weaviate"`

	MilvusAddress    string `mapstructure:"milvus-address"`
	MilvusUsername   string `mapstructure:"milvus-username"`
	MilvusPassword   string `mapstructure:"milvus-password"`
	MilvusCollection string `mapstructure:"milvus-collection" validate:"required_if=RetrievalStore milvus"`

	ModelsFile string        `mapstructure:"models-file"`
	Models     []ModelPreset `mapstructure:"models" validate:"dive"`
}

// SetDefaults registers the defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("records-file", "conversation_history.jsonl")
	v.SetDefault("backend", "openai")
	v.SetDefault("generation-timeout", 2*time.Minute)
	v.SetDefault("retrieval-store", "none")
	v.SetDefault("embedder", "openai")
	v.SetDefault("embedding-cache", 1000)
	v.SetDefault("top-k", 4)
	v.SetDefault("weaviate-host", "localhost:8080")
	v.SetDefault("weaviate-scheme", "http")
	v.SetDefault("milvus-address", "localhost:19530")
}

// LoadDotEnv loads a .env file from the working directory when there is
// one. Variables already set in the environment win.
func LoadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("Could not load .env")
	}
}

// Load unmarshals the settings out of v, merges the models file and
// validates the result.
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not parse settings")
	}
	if s.ModelsFile != "" {
		models, err := LoadModelsFile(s.ModelsFile)
		if err != nil {
			return nil, err
		}
		s.Models = append(s.Models, models...)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return errors.Wrap(err, "invalid settings")
	}
	return nil
}

// IsAdmin tells whether user may manage every user's records.
func (s *Settings) IsAdmin(user string) bool {
	for _, a := range s.Admins {
		if strings.EqualFold(a, user) {
			return true
		}
	}
	return false
}

type modelsFile struct {
	Models []ModelPreset `yaml:"models"`
}

// LoadModelsFile reads model presets from a YAML file with a top level
// "models" list.
func LoadModelsFile(path string) ([]ModelPreset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read models file %s", path)
	}
	var f modelsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrapf(err, "could not parse models file %s", path)
	}
	return f.Models, nil
}
