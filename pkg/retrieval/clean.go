package retrieval

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	htmlTagRegexp    = regexp.MustCompile(`<[a-zA-Z][^>]*>`)
	blankLinesRegexp = regexp.MustCompile(`\n{3,}`)
	spacesRegexp     = regexp.MustCompile(`[ \t\x{00a0}]+`)
)

// CleanPassage flattens HTML passages to text. Plain text is only
// whitespace-normalized.
func CleanPassage(text string) string {
	if htmlTagRegexp.MatchString(text) {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			doc.Find("script, style, noscript").Remove()
			doc.Find("br").ReplaceWithHtml("\n")
			doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, tr").Each(func(_ int, s *goquery.Selection) {
				s.AppendHtml("\n")
			})
			text = doc.Text()
		}
	}

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spacesRegexp.ReplaceAllString(l, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLinesRegexp.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
