package conversation

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// RecordToMarkdown renders every pane of a record as a markdown section.
func RecordToMarkdown(r *Record) string {
	var sb strings.Builder
	title := r.Title
	if title == "" {
		title = "Untitled conversation"
	}
	sb.WriteString(fmt.Sprintf("# %s\n\n", title))
	if r.User != "" {
		sb.WriteString(fmt.Sprintf("_user: %s, id: %s_\n\n", r.User, r.ID))
	}
	for i, c := range r.Conversations {
		cfg := c.ModelConfig
		sb.WriteString(fmt.Sprintf("## Pane %d: %s\n\n", i+1, cfg.Model))
		sb.WriteString(fmt.Sprintf("| temperature | top_p | max_new_tokens | rag |\n|---|---|---|---|\n| %.1f | %.1f | %d | %t |\n\n",
			cfg.Temperature, cfg.TopP, cfg.MaxNewTokens, cfg.UseRAG))
		switch {
		case c.Feedback == nil:
			sb.WriteString("Feedback missing\n\n")
		case *c.Feedback:
			sb.WriteString("Feedback submitted: positive\n\n")
		default:
			sb.WriteString("Feedback submitted: negative\n\n")
		}
		if c.HasError {
			sb.WriteString("**The last response failed.**\n\n")
		}
		sb.WriteString(c.MessagesToText())
		sb.WriteString("\n\n")
	}
	return sb.String()
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RecordToHTML renders the record transcript as an HTML fragment.
func RecordToHTML(r *Record) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(RecordToMarkdown(r)), &buf); err != nil {
		return "", errors.Wrapf(err, "could not render record %s", r.ID)
	}
	return buf.String(), nil
}
