package conversation

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadMessagesFromFile reads a message list from a JSON or YAML file, which
// is how prompts are fed to the encoder from the command line.
func LoadMessagesFromFile(filename string) ([]Message, error) {
	switch {
	case strings.HasSuffix(filename, ".json"):
		return loadFromJSONFile(filename)
	case strings.HasSuffix(filename, ".yaml"), strings.HasSuffix(filename, ".yml"):
		return loadFromYAMLFile(filename)
	default:
		return nil, errors.Errorf("unsupported message file %s, expected .json, .yaml or .yml", filename)
	}
}

func loadFromYAMLFile(filename string) ([]Message, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var messages []Message
	err = yaml.NewDecoder(f).Decode(&messages)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %s", filename)
	}

	return messages, nil
}

func loadFromJSONFile(filename string) ([]Message, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var messages []Message
	err = json.NewDecoder(f).Decode(&messages)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %s", filename)
	}

	return messages, nil
}
