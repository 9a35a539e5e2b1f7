package prompt

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Family is the prompt format a model expects.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyArctic
	FamilyLlama3
	FamilyMistral
	FamilyChatML
)

func (f Family) String() string {
	switch f {
	case FamilyArctic:
		return "arctic"
	case FamilyLlama3:
		return "llama3"
	case FamilyMistral:
		return "mistral"
	case FamilyChatML:
		return "chatml"
	case FamilyUnknown:
		return "unknown"
	}
	return "unknown"
}

func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arctic":
		return FamilyArctic, nil
	case "llama3", "llama-3":
		return FamilyLlama3, nil
	case "mistral":
		return FamilyMistral, nil
	case "chatml":
		return FamilyChatML, nil
	}
	return FamilyUnknown, errors.Errorf("unknown prompt family %q", s)
}

var ErrUnsupportedModel = errors.New("unsupported model")

// Registry maps exact model identifiers to their prompt family. Friendly
// names are display aliases that resolve to identifiers.
type Registry struct {
	mu       sync.RWMutex
	families map[string]Family
	friendly map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		families: map[string]Family{},
		friendly: map[string]string{},
	}
}

// NewDefaultRegistry knows the models of the hosted comparison setup.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("snowflake/snowflake-arctic-instruct", FamilyArctic)
	r.Register("meta/meta-llama-3-8b", FamilyLlama3)
	r.Register("meta/meta-llama-3-8b-instruct", FamilyLlama3)
	r.Register("mistralai/mistral-7b-instruct-v0.2", FamilyMistral)

	r.RegisterFriendlyName("Snowflake Arctic", "snowflake/snowflake-arctic-instruct")
	r.RegisterFriendlyName("LLaMa 3 8B", "meta/meta-llama-3-8b-instruct")
	r.RegisterFriendlyName("Mistral 7B", "mistralai/mistral-7b-instruct-v0.2")
	return r
}

func (r *Registry) Register(model string, family Family) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[model] = family
}

func (r *Registry) RegisterFriendlyName(name string, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.friendly[name] = model
}

// Resolve turns a friendly name into a model identifier. Identifiers are
// returned unchanged.
func (r *Registry) Resolve(model string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.friendly[model]; ok {
		return id
	}
	return model
}

// FamilyOf looks up the family of an exact identifier, after resolving
// friendly names.
func (r *Registry) FamilyOf(model string) (Family, error) {
	id := r.Resolve(model)
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.families[id]
	if !ok {
		return FamilyUnknown, errors.Wrapf(ErrUnsupportedModel, "model %q", model)
	}
	return f, nil
}

// Models returns the registered identifiers, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]string, 0, len(r.families))
	for m := range r.families {
		ret = append(ret, m)
	}
	sort.Strings(ret)
	return ret
}

// FriendlyNames returns the friendly name to identifier mapping.
func (r *Registry) FriendlyNames() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make(map[string]string, len(r.friendly))
	for k, v := range r.friendly {
		ret[k] = v
	}
	return ret
}
