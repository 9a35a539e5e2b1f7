package conversation

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// ParseRole accepts the three chat roles, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system":
		return RoleSystem, nil
	case "assistant":
		return RoleAssistant, nil
	case "user":
		return RoleUser, nil
	default:
		return "", errors.Errorf("unknown role %q", s)
	}
}

func (r *Role) UnmarshalText(b []byte) error {
	role, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Message is a single chat turn. Content is only mutated in place while a
// response is streaming in, see Conversation.AppendToLast.
type Message struct {
	Role    Role   `json:"role" yaml:"role" jsonschema:"required,enum=user,enum=assistant,enum=system"`
	Content string `json:"content" yaml:"content" jsonschema:"required"`
}

func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

func (m Message) String() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}

// Preview returns the content cut to n runes, with an ellipsis when cut.
func (m Message) Preview(n int) string {
	runes := []rune(m.Content)
	if len(runes) <= n {
		return m.Content
	}
	return string(runes[:n]) + "..."
}
