package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/go-go-golems/llm-eval/pkg/events"
	"github.com/go-go-golems/llm-eval/pkg/feedback"
	"github.com/go-go-golems/llm-eval/pkg/generation"
	"github.com/go-go-golems/llm-eval/pkg/metrics"
	"github.com/go-go-golems/llm-eval/pkg/prompt"
	"github.com/go-go-golems/llm-eval/pkg/retrieval"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Deps are the collaborators a session talks to. Retriever, Publisher,
// Metrics and FeedbackSink are optional.
type Deps struct {
	Encoder          *prompt.Encoder
	Generator        generation.Client
	Retriever        retrieval.Retriever
	MaxContextTokens int
	Publisher        events.Publisher
	Metrics          *metrics.Metrics
	FeedbackSink     feedback.Sink
	// Timeout bounds each generation, 0 disables it.
	Timeout time.Duration
}

// Session holds everything about one user's comparison session. It is
// created when the session starts and dropped when it ends, nothing about it
// is global.
type Session struct {
	User          string
	Admin         bool
	Title         string
	RecordID      string
	Conversations []*conversation.Conversation
	State         State
	LastInput     string

	deps Deps
	// passages used by each pane in the last turn
	passages [][]string
	// the loaded record, its unknown keys are saved back
	origin *conversation.Record
	// held for the duration of a turn, turns never overlap
	mu sync.Mutex
}

type Option func(*Session)

func WithUser(user string) Option {
	return func(s *Session) {
		s.User = user
	}
}

func WithAdmin(admin bool) Option {
	return func(s *Session) {
		s.Admin = admin
	}
}

func WithTitle(title string) Option {
	return func(s *Session) {
		s.Title = title
	}
}

// WithModelConfigs creates one conversation per config, in order.
func WithModelConfigs(configs ...conversation.ModelConfig) Option {
	return func(s *Session) {
		s.Conversations = make([]*conversation.Conversation, 0, len(configs))
		for _, cfg := range configs {
			s.Conversations = append(s.Conversations, conversation.New(cfg))
		}
	}
}

// WithRenderer attaches r to every conversation.
func WithRenderer(r conversation.Renderer) Option {
	return func(s *Session) {
		for _, c := range s.Conversations {
			c.SetRenderer(r)
		}
	}
}

func New(deps Deps, options ...Option) *Session {
	if deps.Encoder == nil {
		deps.Encoder = prompt.NewEncoder(nil)
	}
	ret := &Session{
		RecordID: uuid.NewString(),
		State:    StateIdle,
		deps:     deps,
	}
	for _, o := range options {
		o(ret)
	}
	if len(ret.Conversations) == 0 {
		ret.Conversations = []*conversation.Conversation{
			conversation.New(conversation.DefaultModelConfig()),
		}
	}
	return ret
}

func (s *Session) Deps() Deps {
	return s.deps
}

// Clear starts over: every conversation goes back to its greeting and the
// session gets a new record id.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Conversations {
		c.Clear()
	}
	s.RecordID = uuid.NewString()
	s.Title = ""
	s.LastInput = ""
	s.State = StateIdle
	s.passages = nil
	s.origin = nil
}

// SetModelConfig replaces the configuration of pane i.
func (s *Session) SetModelConfig(i int, cfg conversation.ModelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.Conversations) {
		return errors.Errorf("no pane %d", i)
	}
	s.Conversations[i].ModelConfig = cfg
	return nil
}

// Reconfigure applies configs to the panes. A different number of configs
// starts over with fresh conversations.
func (s *Session) Reconfigure(configs ...conversation.ModelConfig) error {
	if len(configs) == 0 {
		return errors.New("at least one model config is needed")
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(configs) != len(s.Conversations) {
		s.Conversations = make([]*conversation.Conversation, 0, len(configs))
		for _, cfg := range configs {
			s.Conversations = append(s.Conversations, conversation.New(cfg))
		}
		s.RecordID = uuid.NewString()
		s.State = StateIdle
		s.LastInput = ""
		s.passages = nil
		s.origin = nil
		return nil
	}
	for i, cfg := range configs {
		s.Conversations[i].ModelConfig = cfg
	}
	return nil
}

func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Title = title
}

// Snapshot is a consistent copy of the session taken under its lock.
type Snapshot struct {
	Record    *conversation.Record
	Admin     bool
	State     State
	LastInput string
}

// Snapshot copies the session. It blocks while a turn is running.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Record:    s.exportLocked(),
		Admin:     s.Admin,
		State:     s.State,
		LastInput: s.LastInput,
	}
}

// Export snapshots the session as a record. The record shares nothing with
// the session.
func (s *Session) Export() *conversation.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportLocked()
}

func (s *Session) exportLocked() *conversation.Record {
	convs := make([]*conversation.Conversation, 0, len(s.Conversations))
	for _, c := range s.Conversations {
		convs = append(convs, c.Clone())
	}
	ret := &conversation.Record{
		ID:            s.RecordID,
		User:          s.User,
		Title:         s.Title,
		Conversations: convs,
	}
	if s.origin != nil && s.origin.ID == s.RecordID {
		ret.InheritExtra(s.origin)
	}
	return ret
}

// Load replaces the session content with a copy of r. Only admins may load
// records owned by someone else.
func (s *Session) Load(r *conversation.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Admin && s.User != "" && r.User != "" && r.User != s.User {
		return errors.Errorf("record %s belongs to another user", r.ID)
	}

	rec := r.Clone()
	s.origin = r.Clone()
	s.RecordID = rec.ID
	s.Title = rec.Title
	s.Conversations = rec.Conversations
	s.State = StateIdle
	s.LastInput = ""
	s.passages = nil
	if len(s.Conversations) > 0 {
		if m, ok := s.Conversations[0].LastUserMessage(); ok {
			s.LastInput = m.Content
		}
	}
	return nil
}

// RecordStore is the part of the record store sessions save into.
type RecordStore interface {
	AddOrUpdate(r *conversation.Record, persist bool) error
}

// Save upserts the session record. It must not be called during a turn.
func (s *Session) Save(store RecordStore, persist bool) (*conversation.Record, error) {
	rec := s.Export()
	if err := store.AddOrUpdate(rec, persist); err != nil {
		return nil, errors.Wrap(err, "could not save session")
	}
	return rec, nil
}

// RecordFeedback stores a human preference for pane and hands the updated
// record to the feedback sink, if any.
func (s *Session) RecordFeedback(ctx context.Context, pane int, positive bool) error {
	s.mu.Lock()
	if pane < 0 || pane >= len(s.Conversations) {
		s.mu.Unlock()
		return errors.Errorf("no pane %d", pane)
	}
	s.Conversations[pane].SetFeedback(positive)
	rec := s.exportLocked()
	s.mu.Unlock()

	if s.deps.FeedbackSink == nil {
		return nil
	}
	return s.deps.FeedbackSink.RecordFeedback(ctx, rec, pane, positive)
}

// Models returns the model of every pane.
func (s *Session) Models() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]string, 0, len(s.Conversations))
	for _, c := range s.Conversations {
		ret = append(ret, c.ModelConfig.Model)
	}
	return ret
}

func (s *Session) Summary() string {
	return strings.Join(s.Models(), " vs ")
}
