package generation

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// EchoClient answers with the last user turn found in the prompt, streamed
// in small chunks. It needs no network and is deterministic.
type EchoClient struct {
	ChunkSize    int
	TimePerChunk time.Duration
	// Failures makes generation fail for the given models.
	Failures map[string]error
}

func NewEchoClient() *EchoClient {
	return &EchoClient{
		ChunkSize: 4,
		Failures:  map[string]error{},
	}
}

var _ Client = (*EchoClient)(nil)

func (e *EchoClient) Generate(ctx context.Context, model string, prompt string, params Params) (*Stream, error) {
	s, ctx := newStream(ctx, 0)
	reply := LastUserTurn(prompt)
	failure := e.Failures[model]
	chunkSize := e.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 4
	}

	go func() {
		defer s.finish()
		for _, chunk := range chunkRunes(reply, chunkSize) {
			if e.TimePerChunk > 0 {
				select {
				case <-ctx.Done():
					s.fail(ctx.Err())
					return
				case <-time.After(e.TimePerChunk):
				}
			}
			if !s.send(Fragment{Text: chunk}) {
				return
			}
			// fail midway so callers see partial content
			if failure != nil {
				s.fail(failure)
				return
			}
		}
		if failure != nil {
			s.fail(failure)
		}
	}()

	return s, nil
}

func chunkRunes(s string, size int) []string {
	ret := []string{}
	for len(s) > 0 {
		n, i := 0, 0
		for i < len(s) && n < size {
			_, w := utf8.DecodeRuneInString(s[i:])
			i += w
			n++
		}
		ret = append(ret, s[:i])
		s = s[i:]
	}
	return ret
}

type turnMarker struct {
	open  string
	close string
}

var userTurnMarkers = []turnMarker{
	{open: "<|im_start|>user\n", close: "<|im_end|>"},
	{open: "<|start_header_id|>user<|end_header_id|>\n\n", close: "<|eot_id|>"},
	{open: "[INST] ", close: " [/INST]"},
}

// LastUserTurn extracts the content of the last user turn of an encoded
// prompt. Prompts without known markers are returned unchanged.
func LastUserTurn(prompt string) string {
	best, bestIdx := -1, -1
	for i, m := range userTurnMarkers {
		if idx := strings.LastIndex(prompt, m.open); idx > bestIdx {
			best, bestIdx = i, idx
		}
	}
	if best < 0 {
		return prompt
	}
	m := userTurnMarkers[best]
	rest := prompt[bestIdx+len(m.open):]
	if end := strings.Index(rest, m.close); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
