package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleLine = `{"conversations":[{"messages":[{"role":"user","content":"..."}],"model_config":{"model":"...","temperature":0.7,"top_p":1.0,"max_new_tokens":1024}}],"user":"alice","title":"Trip planning"}`

func newTestRecord() *Record {
	a := New(ModelConfig{Model: "m1", Temperature: 0.7, TopP: 1, MaxNewTokens: 1024, SystemPrompt: "be brief"})
	b := New(ModelConfig{Model: "m2", Temperature: 0.2, TopP: 0.9, MaxNewTokens: 500, UseRAG: true})
	for _, c := range []*Conversation{a, b} {
		c.AddMessage(NewUserMessage("hi"), false)
	}
	a.AddMessage(NewAssistantMessage("hello from m1"), false)
	b.AddMessage(NewAssistantMessage("hello from m2"), false)
	b.HasError = true
	a.SetFeedback(true)
	return NewRecord("alice", "Greetings", a, b)
}

func TestRecordRoundTrip(t *testing.T) {
	r := newTestRecord()

	b, err := r.ToJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "\n")

	parsed, err := ParseRecordLine(b)
	require.NoError(t, err)

	assert.Equal(t, r.ID, parsed.ID)
	assert.Equal(t, r.User, parsed.User)
	assert.Equal(t, r.Title, parsed.Title)
	require.Len(t, parsed.Conversations, 2)
	for i := range r.Conversations {
		assert.Equal(t, r.Conversations[i].Messages, parsed.Conversations[i].Messages)
		assert.Equal(t, r.Conversations[i].ModelConfig, parsed.Conversations[i].ModelConfig)
		assert.Equal(t, r.Conversations[i].HasError, parsed.Conversations[i].HasError)
		assert.Equal(t, r.Conversations[i].Feedback, parsed.Conversations[i].Feedback)
	}
}

func TestParseExampleLineWithoutID(t *testing.T) {
	r1, err := ParseRecordLine([]byte(exampleLine))
	require.NoError(t, err)
	r2, err := ParseRecordLine([]byte(exampleLine))
	require.NoError(t, err)

	assert.NotEmpty(t, r1.ID)
	assert.Equal(t, r1.ID, r2.ID, "derived ids are stable")
	assert.Equal(t, "alice", r1.User)
	assert.Equal(t, "Trip planning", r1.Title)
	assert.Equal(t, 1024, r1.Conversations[0].ModelConfig.MaxNewTokens)
}

func TestParseRecordLineRejectsMalformed(t *testing.T) {
	testCases := []struct {
		name string
		line string
	}{
		{name: "not json", line: `{"conversations": [`},
		{name: "unknown role", line: strings.Replace(exampleLine, `"role":"user"`, `"role":"robot"`, 1)},
		{name: "missing model config", line: `{"conversations":[{"messages":[]}],"user":"a","title":"t"}`},
		{name: "temperature out of range", line: strings.Replace(exampleLine, `"temperature":0.7`, `"temperature":7`, 1)},
		{name: "null conversations", line: `{"conversations":null,"user":"a","title":"t"}`},
		{name: "unequal message counts", line: `{"id":"x","conversations":[` +
			`{"messages":[{"role":"assistant","content":"hi"}],"model_config":{"model":"a","temperature":0,"top_p":1,"max_new_tokens":100}},` +
			`{"messages":[],"model_config":{"model":"b","temperature":0,"top_p":1,"max_new_tokens":100}}]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRecordLine([]byte(tc.line))
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestParseRecordLineAcceptsNullsAndExtraKeys(t *testing.T) {
	line := strings.Replace(exampleLine, `"title":"Trip planning"`, `"title":null,"created_at":"2024-05-01"`, 1)
	line = strings.Replace(line, `"max_new_tokens":1024}`, `"max_new_tokens":1024,"system_prompt":null,"seed":3}`, 1)

	r, err := ParseRecordLine([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, "", r.Title)
	assert.Equal(t, "", r.Conversations[0].ModelConfig.SystemPrompt)

	v, ok := r.Extra("created_at")
	require.True(t, ok)
	assert.JSONEq(t, `"2024-05-01"`, string(v))

	b, err := r.Clone().ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"created_at":"2024-05-01"`)

	again, err := ParseRecordLine(b)
	require.NoError(t, err)
	assert.Equal(t, r.ID, again.ID)
	_, ok = again.Extra("created_at")
	assert.True(t, ok)
}

func TestRecordCloneIsDeep(t *testing.T) {
	r := newTestRecord()
	cp := r.Clone()
	cp.Conversations[0].Messages[0].Content = "changed"
	cp.Title = "other"

	assert.Equal(t, DefaultGreeting, r.Conversations[0].Messages[0].Content)
	assert.Equal(t, "Greetings", r.Title)
}

func TestRecordToHTML(t *testing.T) {
	html, err := RecordToHTML(newTestRecord())
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>Greetings</h1>")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "hello from m2")
}

func TestRecordSchemaIsJSON(t *testing.T) {
	b, err := RecordSchema()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"conversations"`)
	assert.NotContains(t, string(b), "$schema")
}
