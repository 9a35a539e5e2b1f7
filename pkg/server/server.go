package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/go-go-golems/llm-eval/pkg/app"
	"github.com/go-go-golems/llm-eval/pkg/events"
	"github.com/go-go-golems/llm-eval/pkg/session"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	// UserHeader carries the authenticated user name, set by the proxy in
	// front of the server.
	UserHeader = "X-User"

	cookieName     = "llm_eval"
	sessionIDKey   = "session_id"
	sessionTimeout = 30 * time.Minute
)

type chatSession struct {
	*session.Session
	lastUsed time.Time
}

// Server exposes chat sessions and the record store over HTTP.
type Server struct {
	app    *app.App
	secret []byte
	hub    *hub

	mu       sync.Mutex
	sessions map[string]*chatSession
}

type Option func(*Server)

// WithCookieSecret sets the key the session cookie is signed with. Without
// it a random key is used and sessions do not survive restarts.
func WithCookieSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.secret = []byte(secret)
		}
	}
}

func New(a *app.App, options ...Option) *Server {
	ret := &Server{
		app:      a,
		secret:   []byte(uuid.NewString()),
		hub:      newHub(),
		sessions: map[string]*chatSession{},
	}
	for _, o := range options {
		o(ret)
	}
	a.Events.AddEventHandler("http-event-stream", func(_ context.Context, ev events.Event) error {
		ret.hub.broadcast(ev)
		return nil
	})
	return ret
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	_ = r.SetTrustedProxies(nil)

	store := cookie.NewStore(s.secret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionTimeout.Seconds()),
		HttpOnly: true,
	})

	r.GET("/healthcheck", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{})))

	api := r.Group("/api", requireUser())
	api.GET("/models", s.handleModels)
	api.GET("/users", s.requireAdmin, s.handleUsers)
	api.GET("/users/:user/records", s.handleUserRecords)
	api.GET("/records/:id", s.handleRecord)
	api.DELETE("/records/:id", s.requireAdmin, s.handleDeleteRecord)
	api.GET("/export", s.handleExport)
	api.GET("/events", s.requireAdmin, s.handleEvents)

	chat := api.Group("/chat", sessions.Sessions(cookieName, store))
	chat.GET("", s.handleGetSession)
	chat.POST("", s.handleChat)
	chat.POST("/regenerate", s.handleRegenerate)
	chat.POST("/clear", s.handleClear)
	chat.POST("/models", s.handleSetModels)
	chat.POST("/feedback", s.handleFeedback)
	chat.POST("/title", s.handleTitle)
	chat.POST("/save", s.handleSave)
	chat.POST("/load/:id", s.handleLoad)
	chat.POST("/score", s.handleScore)

	return r
}

// Serve runs the HTTP server until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.hub.close()
		return srv.Shutdown(shutdownCtx)
	}
}

// Expire drops sessions idle for longer than the cookie lifetime.
func (s *Server) Expire(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, cs := range s.sessions {
		if now.Sub(cs.lastUsed) > sessionTimeout {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// RunExpiry calls Expire every interval until ctx is done.
func (s *Server) RunExpiry(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Expire(now); n > 0 {
				log.Debug().Int("expired", n).Msg("Expired chat sessions")
			}
		}
	}
}

// chatSession returns the session of the cookie, creating both when needed.
// Sessions started by another user are never handed out.
func (s *Server) chatSession(c *gin.Context) (*chatSession, error) {
	user := c.GetString(userKey)
	cookieSession := sessions.Default(c)

	id, _ := cookieSession.Get(sessionIDKey).(string)
	s.mu.Lock()
	cs, ok := s.sessions[id]
	if ok && cs.User == user {
		cs.lastUsed = time.Now()
		s.mu.Unlock()
		return cs, nil
	}
	s.mu.Unlock()

	sess, err := s.app.NewSession(user, nil)
	if err != nil {
		return nil, err
	}
	id = uuid.NewString()
	cs = &chatSession{Session: sess, lastUsed: time.Now()}

	s.mu.Lock()
	s.sessions[id] = cs
	s.mu.Unlock()

	cookieSession.Set(sessionIDKey, id)
	if err := cookieSession.Save(); err != nil {
		return nil, errors.Wrap(err, "could not save session cookie")
	}
	log.Info().Str("user", user).Str("session", id).Msg("Started chat session")
	return cs, nil
}
