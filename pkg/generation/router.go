package generation

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Router dispatches generation requests to a backend by model identifier.
// Models without an explicit route use the default backend.
type Router struct {
	mu       sync.RWMutex
	backends map[string]Client
	routes   map[string]string
	fallback string
}

func NewRouter(fallback string) *Router {
	return &Router{
		backends: map[string]Client{},
		routes:   map[string]string{},
		fallback: fallback,
	}
}

func (r *Router) AddBackend(name string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = c
}

func (r *Router) Route(model string, backend string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[model] = backend
}

func (r *Router) BackendFor(model string) (string, Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.routes[model]
	if !ok {
		name = r.fallback
	}
	c, ok := r.backends[name]
	if !ok {
		return name, nil, errors.Wrapf(ErrGenerationFailed, "no backend %q for model %s", name, model)
	}
	return name, c, nil
}

var _ Client = (*Router)(nil)

func (r *Router) Generate(ctx context.Context, model string, prompt string, params Params) (*Stream, error) {
	name, c, err := r.BackendFor(model)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("model", model).Str("backend", name).Msg("Routing generation")
	return c.Generate(ctx, model, prompt, params)
}
