package prompt

import (
	"strings"
	"testing"

	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessages() []conversation.Message {
	return []conversation.Message{
		conversation.NewAssistantMessage(conversation.DefaultGreeting),
		conversation.NewUserMessage("What is the capital of France?"),
		conversation.NewAssistantMessage("Paris."),
		conversation.NewUserMessage("And of Italy?"),
	}
}

func TestEncodeFormats(t *testing.T) {
	e := NewEncoder(nil)
	msgs := []conversation.Message{
		conversation.NewSystemMessage("be brief"),
		conversation.NewUserMessage("hi"),
	}

	testCases := []struct {
		model    string
		expected string
	}{
		{
			model: "snowflake/snowflake-arctic-instruct",
			expected: "<|im_start|>system\nbe brief<|im_end|>\n" +
				"<|im_start|>user\nhi<|im_end|>\n" +
				"<|im_start|>assistant\n",
		},
		{
			model: "meta/meta-llama-3-8b-instruct",
			expected: "<|begin_of_text|>" +
				"<|start_header_id|>system<|end_header_id|>\n\nbe brief<|eot_id|>" +
				"<|start_header_id|>user<|end_header_id|>\n\nhi<|eot_id|>" +
				"<|start_header_id|>assistant<|end_header_id|>\n\n",
		},
		{
			model:    "mistralai/mistral-7b-instruct-v0.2",
			expected: "<s>[INST] be brief\n\nhi [/INST]",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.model, func(t *testing.T) {
			got, err := e.Encode(tc.model, msgs)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestEncodeMistralConversation(t *testing.T) {
	got, err := NewEncoder(nil).Encode("Mistral 7B", testMessages())
	require.NoError(t, err)
	assert.Equal(t,
		"<s>"+conversation.DefaultGreeting+"</s>"+
			"[INST] What is the capital of France? [/INST]Paris.</s>"+
			"[INST] And of Italy? [/INST]",
		got)
}

func TestEncodeIsDeterministicAndMonotonic(t *testing.T) {
	e := NewEncoder(nil)
	msgs := append([]conversation.Message{conversation.NewSystemMessage("sys")}, testMessages()...)

	for _, model := range e.Registry().Models() {
		t.Run(model, func(t *testing.T) {
			prev := -1
			for n := 0; n <= len(msgs); n++ {
				a, err := e.Encode(model, msgs[:n])
				require.NoError(t, err)
				b, err := e.Encode(model, msgs[:n])
				require.NoError(t, err)
				assert.Equal(t, a, b)
				assert.GreaterOrEqual(t, len(a), prev)
				prev = len(a)
			}
		})
	}
}

func TestEncodeUnsupportedModel(t *testing.T) {
	_, err := NewEncoder(nil).Encode("acme/unknown", testMessages())
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestRegisterModel(t *testing.T) {
	r := NewDefaultRegistry()
	r.Register("local/qwen", FamilyChatML)
	got, err := NewEncoder(r).Encode("local/qwen", []conversation.Message{conversation.NewUserMessage("hi")})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, "<|im_start|>assistant\n"))
}

func TestEncodeConversationDoesNotPersistSystemPrompt(t *testing.T) {
	cfg := conversation.DefaultModelConfig()
	cfg.SystemPrompt = "You are a pirate."
	c := conversation.New(cfg)
	c.AddMessage(conversation.NewUserMessage("hi"), false)

	got, err := NewEncoder(nil).EncodeConversation(c)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "<|im_start|>system\nYou are a pirate.<|im_end|>\n"))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, conversation.RoleAssistant, c.Messages[0].Role)
}

func TestParseFamily(t *testing.T) {
	f, err := ParseFamily("Llama3")
	require.NoError(t, err)
	assert.Equal(t, FamilyLlama3, f)
	assert.Equal(t, "llama3", f.String())

	_, err = ParseFamily("gpt")
	assert.Error(t, err)
}

func TestAugment(t *testing.T) {
	got, err := Augment("  What is streamlit? ", []string{"Streamlit is a framework.", "", "  It renders apps. "})
	require.NoError(t, err)
	assert.Contains(t, got, "Context:\nStreamlit is a framework.\n\nIt renders apps.\n")
	assert.True(t, strings.HasSuffix(got, "Question: What is streamlit?"))

	plain, err := Augment("hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", plain)
}

func TestCountTokens(t *testing.T) {
	n, err := CountTokens("hello world")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
