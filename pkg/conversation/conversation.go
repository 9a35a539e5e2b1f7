package conversation

import (
	"fmt"
	"strings"

	"github.com/huandu/go-clone"
)

const DefaultGreeting = "Hello there! Let's chat?"

// Renderer displays messages as they are added. It is a display concern and
// may be nil.
type Renderer interface {
	RenderMessage(m Message)
}

// Conversation is one model's thread together with the configuration used to
// generate its assistant turns. A Conversation is owned by a single session
// and is not safe for concurrent mutation.
type Conversation struct {
	Messages    []Message   `json:"messages" yaml:"messages" jsonschema:"required"`
	ModelConfig ModelConfig `json:"model_config" yaml:"model_config" jsonschema:"required"`
	HasError    bool        `json:"has_error,omitempty" yaml:"has_error,omitempty"`
	Feedback    *bool       `json:"feedback,omitempty" yaml:"feedback,omitempty"`

	renderer Renderer
}

type Option func(*Conversation)

func WithRenderer(r Renderer) Option {
	return func(c *Conversation) {
		c.renderer = r
	}
}

// New creates a conversation holding only the default assistant greeting.
func New(cfg ModelConfig, options ...Option) *Conversation {
	ret := &Conversation{
		ModelConfig: cfg,
	}
	ret.AddMessage(NewAssistantMessage(DefaultGreeting), false)

	for _, option := range options {
		option(ret)
	}

	return ret
}

func (c *Conversation) SetRenderer(r Renderer) {
	c.renderer = r
}

// AddMessage appends m. When render is false the renderer is not notified,
// which is what history replay wants.
func (c *Conversation) AddMessage(m Message, render bool) {
	c.Messages = append(c.Messages, m)
	if render && c.renderer != nil {
		c.renderer.RenderMessage(m)
	}
}

// RenderLast hands the last message to the renderer, once its content is
// final.
func (c *Conversation) RenderLast() {
	if len(c.Messages) == 0 || c.renderer == nil {
		return
	}
	c.renderer.RenderMessage(c.Messages[len(c.Messages)-1])
}

func (c *Conversation) ResetMessages() {
	c.Messages = []Message{}
}

// Clear resets the thread back to the greeting and drops the error flag.
func (c *Conversation) Clear() {
	c.ResetMessages()
	c.AddMessage(NewAssistantMessage(DefaultGreeting), false)
	c.HasError = false
	c.Feedback = nil
}

// AppendToLast grows the content of the last message. It is used while a
// response streams in.
func (c *Conversation) AppendToLast(delta string) {
	if len(c.Messages) == 0 {
		return
	}
	c.Messages[len(c.Messages)-1].Content += delta
}

// TruncateLastExchange removes the last two messages (the most recent
// assistant reply and the user message before it). The greeting is never
// removed: with fewer than three messages nothing happens and
// ErrNothingToRegenerate is returned.
func (c *Conversation) TruncateLastExchange() ([]Message, error) {
	if len(c.Messages) < 3 {
		return nil, ErrNothingToRegenerate
	}
	n := len(c.Messages)
	removed := make([]Message, 2)
	copy(removed, c.Messages[n-2:])
	c.Messages = c.Messages[:n-2]
	return removed, nil
}

// LastUserMessage returns the most recent user message.
func (c *Conversation) LastUserMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

func (c *Conversation) Len() int {
	return len(c.Messages)
}

// SetFeedback records a human preference on this conversation.
func (c *Conversation) SetFeedback(positive bool) {
	c.Feedback = &positive
}

func (c *Conversation) HasFeedback() bool {
	return c.Feedback != nil
}

// MessagesToText renders the thread as markdown, one "**role:** content"
// paragraph per message.
func (c *Conversation) MessagesToText() string {
	var sb strings.Builder
	for i, m := range c.Messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("**%s:** %s", m.Role, m.Content))
	}
	return sb.String()
}

// Clone deep-copies the conversation. The renderer is not carried over.
func (c *Conversation) Clone() *Conversation {
	ret := &Conversation{
		Messages:    clone.Clone(c.Messages).([]Message),
		ModelConfig: c.ModelConfig.Clone(),
		HasError:    c.HasError,
	}
	if c.Feedback != nil {
		f := *c.Feedback
		ret.Feedback = &f
	}
	if ret.Messages == nil {
		ret.Messages = []Message{}
	}
	return ret
}
