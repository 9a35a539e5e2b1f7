package doc

import (
	"testing"

	"github.com/go-go-golems/glazed/pkg/help"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDocToHelpSystem_LoadsTopics(t *testing.T) {
	hs := help.NewHelpSystem()
	require.NoError(t, AddDocToHelpSystem(hs))

	for _, slug := range Topics {
		section, err := hs.GetSectionWithSlug(slug)
		require.NoError(t, err, "expected slug %q to load", slug)
		require.NotNil(t, section)
		require.NotEmpty(t, section.Title, "expected slug %q to have title", slug)
	}
}

func TestScoringTopicNamesCommands(t *testing.T) {
	hs := help.NewHelpSystem()
	require.NoError(t, AddDocToHelpSystem(hs))

	section, err := hs.GetSectionWithSlug("scoring")
	require.NoError(t, err)
	assert.Contains(t, section.Commands, "score")
	assert.Contains(t, section.Content, "Context Relevance")
}
