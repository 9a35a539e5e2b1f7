package prompt

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
)

const augmentTemplate = `Use the following pieces of context to answer the question at the end.
If the context does not contain the answer, say that you don't know, don't try to make up an answer.

Context:
{{ .Context | trim }}

Question: {{ .Query | trim }}`

var augmentTmpl = template.Must(
	template.New("augment").Funcs(sprig.TxtFuncMap()).Parse(augmentTemplate),
)

// JoinContext joins passage texts with blank lines, dropping empty ones.
func JoinContext(passages []string) string {
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Augment builds the user content for a retrieval-augmented turn. Without
// passages the query is returned unchanged.
func Augment(query string, passages []string) (string, error) {
	ctx := JoinContext(passages)
	if ctx == "" {
		return query, nil
	}
	var buf bytes.Buffer
	err := augmentTmpl.Execute(&buf, map[string]string{
		"Context": ctx,
		"Query":   query,
	})
	if err != nil {
		return "", errors.Wrap(err, "could not render augmented prompt")
	}
	return buf.String(), nil
}
