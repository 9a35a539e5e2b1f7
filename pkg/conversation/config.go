package conversation

import (
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

const (
	DefaultModel        = "snowflake/snowflake-arctic-instruct"
	DefaultTemperature  = 0.7
	DefaultTopP         = 1.0
	DefaultMaxNewTokens = 1024

	MinNewTokens = 100
	MaxNewTokens = 1500
)

// ModelConfig holds the sampling and length parameters of one conversation.
type ModelConfig struct {
	Model        string  `json:"model" yaml:"model" mapstructure:"model" validate:"required" jsonschema:"required"`
	Temperature  float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`
	TopP         float64 `json:"top_p" yaml:"top_p" mapstructure:"top_p" validate:"gte=0,lte=1" jsonschema:"minimum=0,maximum=1"`
	MaxNewTokens int     `json:"max_new_tokens" yaml:"max_new_tokens" mapstructure:"max_new_tokens" validate:"gte=100,lte=1500" jsonschema:"minimum=100,maximum=1500"`
	SystemPrompt string  `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty" mapstructure:"system_prompt" jsonschema:"nullable"`
	// UseRAG turns on augmented generation for this conversation.
	UseRAG bool `json:"use_rag,omitempty" yaml:"use_rag,omitempty" mapstructure:"use_rag"`
}

func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
		TopP:         DefaultTopP,
		MaxNewTokens: DefaultMaxNewTokens,
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

func (c ModelConfig) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return errors.Wrapf(err, "invalid model config for %q", c.Model)
	}
	return nil
}

func (c ModelConfig) Clone() ModelConfig {
	return clone.Clone(c).(ModelConfig)
}
