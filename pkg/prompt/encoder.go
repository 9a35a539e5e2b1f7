package prompt

import (
	"strings"

	"github.com/go-go-golems/llm-eval/pkg/conversation"
)

type encodeFunc func(messages []conversation.Message) string

var encoders = map[Family]encodeFunc{
	FamilyArctic:  encodeChatML,
	FamilyChatML:  encodeChatML,
	FamilyLlama3:  encodeLlama3,
	FamilyMistral: encodeMistral,
}

// Encoder turns role-tagged messages into the raw prompt a model expects.
// Encoding is a pure function of the model family and the messages.
type Encoder struct {
	registry *Registry
}

func NewEncoder(registry *Registry) *Encoder {
	if registry == nil {
		registry = NewDefaultRegistry()
	}
	return &Encoder{registry: registry}
}

func (e *Encoder) Registry() *Registry {
	return e.registry
}

// Encode renders messages for model. Unknown identifiers fail with
// ErrUnsupportedModel.
func (e *Encoder) Encode(model string, messages []conversation.Message) (string, error) {
	family, err := e.registry.FamilyOf(model)
	if err != nil {
		return "", err
	}
	encode, ok := encoders[family]
	if !ok {
		return "", ErrUnsupportedModel
	}
	return encode(messages), nil
}

// EncodeConversation prepends the configured system prompt to the messages
// of c and encodes them. c is not modified.
func (e *Encoder) EncodeConversation(c *conversation.Conversation) (string, error) {
	return e.Encode(c.ModelConfig.Model, WithSystemPrompt(c.ModelConfig.SystemPrompt, c.Messages))
}

// WithSystemPrompt returns a new slice with a leading system message when
// system is not empty.
func WithSystemPrompt(system string, messages []conversation.Message) []conversation.Message {
	if system == "" {
		return messages
	}
	ret := make([]conversation.Message, 0, len(messages)+1)
	ret = append(ret, conversation.NewSystemMessage(system))
	ret = append(ret, messages...)
	return ret
}

func encodeChatML(messages []conversation.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString("<|im_start|>")
		sb.WriteString(string(m.Role))
		sb.WriteString("\n")
		sb.WriteString(m.Content)
		sb.WriteString("<|im_end|>\n")
	}
	sb.WriteString("<|im_start|>assistant\n")
	return sb.String()
}

func encodeLlama3(messages []conversation.Message) string {
	var sb strings.Builder
	sb.WriteString("<|begin_of_text|>")
	for _, m := range messages {
		sb.WriteString("<|start_header_id|>")
		sb.WriteString(string(m.Role))
		sb.WriteString("<|end_header_id|>\n\n")
		sb.WriteString(m.Content)
		sb.WriteString("<|eot_id|>")
	}
	sb.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return sb.String()
}

// Mistral has no system role, system messages are folded into the next
// instruction.
func encodeMistral(messages []conversation.Message) string {
	var sb strings.Builder
	sb.WriteString("<s>")
	pendingSystem := []string{}

	writeInst := func(content string) {
		sb.WriteString("[INST] ")
		if len(pendingSystem) > 0 {
			sb.WriteString(strings.Join(pendingSystem, "\n\n"))
			if content != "" {
				sb.WriteString("\n\n")
			}
			pendingSystem = pendingSystem[:0]
		}
		sb.WriteString(content)
		sb.WriteString(" [/INST]")
	}

	for _, m := range messages {
		switch m.Role {
		case conversation.RoleSystem:
			pendingSystem = append(pendingSystem, m.Content)
		case conversation.RoleUser:
			writeInst(m.Content)
		case conversation.RoleAssistant:
			sb.WriteString(m.Content)
			sb.WriteString("</s>")
		}
	}
	if len(pendingSystem) > 0 {
		writeInst("")
	}
	return sb.String()
}
