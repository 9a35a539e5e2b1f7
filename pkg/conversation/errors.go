package conversation

import "github.com/pkg/errors"

var (
	ErrNotFound            = errors.New("conversation record not found")
	ErrMalformedRecord     = errors.New("malformed conversation record")
	ErrNothingToRegenerate = errors.New("no exchange to regenerate")
)
