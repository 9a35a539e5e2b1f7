package doc

import (
	"embed"

	"github.com/go-go-golems/glazed/pkg/help"
	"github.com/pkg/errors"
)

//go:embed topics/*
var docFS embed.FS

// Topics are the slugs of the bundled help pages.
var Topics = []string{
	"records-file",
	"configuration",
	"models",
	"chat-repl",
	"server-api",
	"scoring",
}

// AddDocToHelpSystem loads the bundled pages and fails when one of Topics
// did not load, which catches a broken frontmatter at startup.
func AddDocToHelpSystem(helpSystem *help.HelpSystem) error {
	if err := helpSystem.LoadSectionsFromFS(docFS, "topics"); err != nil {
		return err
	}
	for _, slug := range Topics {
		if _, err := helpSystem.GetSectionWithSlug(slug); err != nil {
			return errors.Wrapf(err, "help topic %s", slug)
		}
	}
	return nil
}
