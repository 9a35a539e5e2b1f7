package generation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/pkg/errors"
)

var ErrGenerationFailed = errors.New("generation failed")

// Params are the sampling parameters of one generation request.
type Params struct {
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
	MaxNewTokens int     `json:"max_new_tokens"`
}

func ParamsFromConfig(cfg conversation.ModelConfig) Params {
	return Params{
		Temperature:  cfg.Temperature,
		TopP:         cfg.TopP,
		MaxNewTokens: cfg.MaxNewTokens,
	}
}

// Client streams a completion of an already encoded prompt.
type Client interface {
	Generate(ctx context.Context, model string, prompt string, params Params) (*Stream, error)
}

// Fragment is one piece of streamed text. A fragment carrying Err is the last
// one sent on the stream.
type Fragment struct {
	Text string
	Err  error
}

// Stream is a finite, ordered sequence of fragments. It cannot be restarted,
// regenerating requires a new Generate call.
type Stream struct {
	c         chan Fragment
	done      chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
}

// newStream returns the stream and the context its producer must use. The
// producer calls finish when done.
func newStream(ctx context.Context, timeout time.Duration) (*Stream, context.Context) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	return &Stream{
		c:      make(chan Fragment),
		done:   make(chan struct{}),
		cancel: cancel,
	}, ctx
}

// send delivers f unless the consumer closed the stream.
func (s *Stream) send(f Fragment) bool {
	select {
	case s.c <- f:
		return true
	case <-s.done:
		return false
	}
}

// fail sends a terminal error fragment, wrapping err as ErrGenerationFailed.
func (s *Stream) fail(err error) {
	if !errors.Is(err, ErrGenerationFailed) {
		err = errors.Wrapf(ErrGenerationFailed, "%v", err)
	}
	s.send(Fragment{Err: err})
}

func (s *Stream) finish() {
	s.cancel()
	close(s.c)
}

func (s *Stream) Fragments() <-chan Fragment {
	return s.c
}

// Close stops the producer. Remaining fragments are discarded.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
	for range s.c {
	}
}

// Collect drains the stream and returns the concatenated text. On error the
// text received so far is returned alongside it.
func (s *Stream) Collect() (string, error) {
	var sb strings.Builder
	for f := range s.c {
		if f.Err != nil {
			s.Close()
			return sb.String(), f.Err
		}
		sb.WriteString(f.Text)
	}
	return sb.String(), nil
}

// NewStreamFromFragments returns a stream that replays fragments. It is used
// for canned responses and tests.
func NewStreamFromFragments(ctx context.Context, fragments ...Fragment) *Stream {
	s, ctx := newStream(ctx, 0)
	go func() {
		defer s.finish()
		for _, f := range fragments {
			if ctx.Err() != nil {
				s.fail(ctx.Err())
				return
			}
			if f.Err != nil {
				s.fail(f.Err)
				return
			}
			if !s.send(f) {
				return
			}
		}
	}()
	return s
}
