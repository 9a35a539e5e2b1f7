package server

import (
	"io"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-go-golems/llm-eval/pkg/events"
)

// hub fans session events out to the connected event streams. Slow
// listeners miss events rather than slowing generation down.
type hub struct {
	mu        sync.Mutex
	listeners map[chan events.Event]struct{}
	closed    bool
}

func newHub() *hub {
	return &hub{listeners: map[chan events.Event]struct{}{}}
}

func (h *hub) subscribe() (chan events.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := make(chan events.Event, 64)
	if h.closed {
		close(c)
		return c, func() {}
	}
	h.listeners[c] = struct{}{}
	return c, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.listeners[c]; ok {
			delete(h.listeners, c)
			close(c)
		}
	}
}

func (h *hub) broadcast(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.listeners {
		select {
		case c <- ev:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.listeners {
		delete(h.listeners, c)
		close(c)
	}
}

// handleEvents streams every session event as server-sent events.
func (s *Server) handleEvents(c *gin.Context) {
	ch, unsubscribe := s.hub.subscribe()
	defer unsubscribe()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
