package prompt

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

// CountTokens gives an approximate token count of prompt using cl100k_base.
// The hosted models use their own tokenizers, the count is meant for logs and
// metrics.
func CountTokens(prompt string) (int, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if codecErr != nil {
		return 0, errors.Wrap(codecErr, "could not load tokenizer")
	}
	ids, _, err := codec.Encode(prompt)
	if err != nil {
		return 0, errors.Wrap(err, "could not tokenize prompt")
	}
	return len(ids), nil
}
