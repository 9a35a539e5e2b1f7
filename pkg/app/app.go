package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/go-go-golems/llm-eval/pkg/config"
	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/go-go-golems/llm-eval/pkg/conversation/store"
	"github.com/go-go-golems/llm-eval/pkg/embeddings"
	"github.com/go-go-golems/llm-eval/pkg/events"
	"github.com/go-go-golems/llm-eval/pkg/feedback"
	"github.com/go-go-golems/llm-eval/pkg/generation"
	"github.com/go-go-golems/llm-eval/pkg/metrics"
	"github.com/go-go-golems/llm-eval/pkg/prompt"
	"github.com/go-go-golems/llm-eval/pkg/retrieval"
	"github.com/go-go-golems/llm-eval/pkg/session"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// HashingDimensions is the vector size of the offline hashing embedder.
const HashingDimensions = 4096

// App holds the long lived components built from the settings. Sessions are
// created from it, one per user session.
type App struct {
	Settings  *config.Settings
	Store     *store.FileRecordStore
	Encoder   *prompt.Encoder
	Generator *generation.Router
	Embedder  embeddings.Provider
	Retriever retrieval.Retriever
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Events    *events.EventRouter

	closers []io.Closer
}

// New builds every component. Failing to reach an optional retrieval
// backend is an error: it was asked for explicitly.
func New(ctx context.Context, s *config.Settings) (*App, error) {
	ret := &App{Settings: s}

	st, err := store.NewFileRecordStore(s.RecordsFile, store.WithStrictLoad(s.StrictLoad))
	if err != nil {
		return nil, err
	}
	ret.Store = st

	registry, err := NewModelRegistry(s.Models)
	if err != nil {
		return nil, err
	}
	ret.Encoder = prompt.NewEncoder(registry)

	ret.Generator, err = newGenerator(s)
	if err != nil {
		return nil, err
	}

	ret.Registry = prometheus.NewRegistry()
	ret.Metrics = metrics.New(ret.Registry)

	ret.Events, err = events.NewEventRouter()
	if err != nil {
		return nil, errors.Wrap(err, "could not create event router")
	}

	if s.RetrievalStore != "" && s.RetrievalStore != "none" {
		if err := ret.setupRetrieval(ctx); err != nil {
			_ = ret.Close()
			return nil, err
		}
	}

	log.Info().
		Str("records", s.RecordsFile).
		Int("loaded", st.Len()).
		Str("backend", s.Backend).
		Str("retrieval", s.RetrievalStore).
		Strs("models", registry.Models()).
		Msg("Application ready")
	return ret, nil
}

// NewModelRegistry extends the default registry with presets.
func NewModelRegistry(presets []config.ModelPreset) (*prompt.Registry, error) {
	r := prompt.NewDefaultRegistry()
	for _, p := range presets {
		family, err := prompt.ParseFamily(p.Family)
		if err != nil {
			return nil, errors.Wrapf(err, "model preset %s", p.ID)
		}
		r.Register(p.ID, family)
		if p.Name != "" {
			r.RegisterFriendlyName(p.Name, p.ID)
		}
	}
	return r, nil
}

func newGenerator(s *config.Settings) (*generation.Router, error) {
	router := generation.NewRouter(s.Backend)
	router.AddBackend("echo", generation.NewEchoClient())
	router.AddBackend("openai", generation.NewOpenAIClient(
		s.OpenAIAPIKey, s.OpenAIBaseURL,
		generation.WithOpenAITimeout(s.GenerationTimeout)))

	needsOllama := s.Backend == "ollama"
	for _, p := range s.Models {
		if p.Backend != "" {
			router.Route(p.ID, p.Backend)
		}
		needsOllama = needsOllama || p.Backend == "ollama"
	}
	if needsOllama {
		setOllamaHost(s.OllamaHost)
		c, err := generation.NewOllamaClient(s.GenerationTimeout)
		if err != nil {
			return nil, err
		}
		router.AddBackend("ollama", c)
	}
	return router, nil
}

// setOllamaHost points the ollama clients at host. The ollama api package
// only reads its address from the environment.
func setOllamaHost(host string) {
	if host == "" {
		return
	}
	if err := os.Setenv("OLLAMA_HOST", host); err != nil {
		log.Warn().Err(err).Msg("Could not set OLLAMA_HOST")
	}
}

// NewEmbedder creates the embedding provider named by the settings, wrapped
// in a cache when one is configured.
func NewEmbedder(s *config.Settings) (embeddings.Provider, error) {
	var p embeddings.Provider
	switch s.Embedder {
	case "openai", "":
		op, err := embeddings.NewOpenAIProvider(s.OpenAIAPIKey, s.OpenAIBaseURL, s.EmbeddingModel, 0)
		if err != nil {
			return nil, err
		}
		p = op
	case "ollama":
		p = embeddings.NewOllamaProvider(s.OllamaHost, s.EmbeddingModel, 0)
	case "hashing":
		p = embeddings.NewHashingProvider(HashingDimensions)
	default:
		return nil, errors.Errorf("unknown embedder %q", s.Embedder)
	}
	if s.EmbeddingCache > 0 {
		p = embeddings.NewCachedProvider(p, s.EmbeddingCache)
	}
	return p, nil
}

func (a *App) setupRetrieval(ctx context.Context) error {
	s := a.Settings
	embedder, err := NewEmbedder(s)
	if err != nil {
		return err
	}
	a.Embedder = embedder

	var vs retrieval.VectorStore
	switch s.RetrievalStore {
	case "memory":
		vs, err = retrieval.LoadMemoryStore(ctx, s.IndexFile, embedder)
	case "weaviate":
		vs, err = retrieval.NewWeaviateStore(retrieval.WeaviateOptions{
			Host:   s.WeaviateHost,
			Scheme: s.WeaviateScheme,
			APIKey: s.WeaviateAPIKey,
			Class:  s.WeaviateClass,
		})
	case "milvus":
		var ms *retrieval.MilvusStore
		ms, err = retrieval.NewMilvusStore(ctx, retrieval.MilvusOptions{
			Address:    s.MilvusAddress,
			Username:   s.MilvusUsername,
			Password:   s.MilvusPassword,
			Collection: s.MilvusCollection,
		})
		if err == nil {
			a.closers = append(a.closers, ms)
			vs = ms
		}
	default:
		return errors.Errorf("unknown retrieval store %q", s.RetrievalStore)
	}
	if err != nil {
		return errors.Wrapf(err, "could not set up %s retrieval", s.RetrievalStore)
	}

	options := []retrieval.Option{retrieval.WithMinScore(s.MinScore)}
	if s.TopK > 0 {
		options = append(options, retrieval.WithTopK(s.TopK))
	}
	a.Retriever = retrieval.NewVectorRetriever(embedder, vs, options...)
	return nil
}

// DefaultModels returns the models a new session compares: the first two
// presets, or the default model alone.
func (a *App) DefaultModels() []string {
	ret := []string{}
	for _, p := range a.Settings.Models {
		ret = append(ret, p.ID)
		if len(ret) == 2 {
			break
		}
	}
	if len(ret) == 0 {
		ret = append(ret, conversation.DefaultModel)
	}
	return ret
}

// Deps returns the session dependencies. Feedback goes to the record store
// and is persisted right away.
func (a *App) Deps() session.Deps {
	return session.Deps{
		Encoder:          a.Encoder,
		Generator:        a.Generator,
		Retriever:        a.Retriever,
		MaxContextTokens: a.Settings.MaxContextTokens,
		Publisher:        a.Events.ChatPublisher(),
		Metrics:          a.Metrics,
		FeedbackSink:     &feedback.StoreSink{Store: a.Store, Persist: true},
		Timeout:          a.Settings.GenerationTimeout,
	}
}

// NewSession starts a session for user comparing models, which may be
// friendly names. Without models the default ones are used.
func (a *App) NewSession(user string, models []string, options ...session.Option) (*session.Session, error) {
	if len(models) == 0 {
		models = a.DefaultModels()
	}
	configs := make([]conversation.ModelConfig, 0, len(models))
	for _, m := range models {
		id := a.Encoder.Registry().Resolve(m)
		if _, err := a.Encoder.Registry().FamilyOf(id); err != nil {
			return nil, err
		}
		cfg := conversation.DefaultModelConfig()
		cfg.Model = id
		configs = append(configs, cfg)
	}

	opts := []session.Option{
		session.WithUser(user),
		session.WithAdmin(a.Settings.IsAdmin(user)),
		session.WithModelConfigs(configs...),
	}
	return session.New(a.Deps(), append(opts, options...)...), nil
}

// Scorer returns an LLM judge asking model.
func (a *App) Scorer(model string) feedback.Scorer {
	return feedback.NewJudgeScorer(a.Encoder, a.Generator, a.Encoder.Registry().Resolve(model))
}

// Close releases the retrieval backend and the event router.
func (a *App) Close() error {
	var ret error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			ret = err
		}
	}
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			ret = err
		}
	}
	return ret
}

// WaitForEvents blocks until the event router runs, or timeout passes.
func (a *App) WaitForEvents(timeout time.Duration) bool {
	select {
	case <-a.Events.Running():
		return true
	case <-time.After(timeout):
		return false
	}
}
