package session

import (
	"context"

	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/go-go-golems/llm-eval/pkg/feedback"
	"github.com/go-go-golems/llm-eval/pkg/retrieval"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNothingToScore is returned when a pane has no finished exchange yet.
var ErrNothingToScore = errors.New("nothing to score yet")

// Interaction returns the last exchange of pane for scoring. For augmented
// panes the passages retrieved during that turn are attached.
func (s *Session) Interaction(ctx context.Context, pane int) (feedback.Interaction, error) {
	s.mu.Lock()
	if pane < 0 || pane >= len(s.Conversations) {
		s.mu.Unlock()
		return feedback.Interaction{}, errors.Errorf("no pane %d", pane)
	}
	c := s.Conversations[pane]
	interaction, ok := feedback.LastInteraction(c)
	useRAG := c.ModelConfig.UseRAG
	if ok && pane < len(s.passages) {
		interaction.Contexts = append([]string{}, s.passages[pane]...)
	}
	s.mu.Unlock()

	if !ok {
		return interaction, ErrNothingToScore
	}
	if useRAG && len(interaction.Contexts) == 0 {
		// loaded sessions do not carry the passages of their last turn
		interaction.Contexts = retrieveContexts(ctx, s.deps, interaction.Input)
	}
	return interaction, nil
}

// RecordInteraction returns the last exchange of pane of a stored record.
// Records do not store passages, they are retrieved again for augmented
// panes.
func RecordInteraction(ctx context.Context, deps Deps, r *conversation.Record, pane int) (feedback.Interaction, error) {
	if pane < 0 || pane >= len(r.Conversations) {
		return feedback.Interaction{}, errors.Errorf("record %s has no pane %d", r.ID, pane)
	}
	c := r.Conversations[pane]
	interaction, ok := feedback.LastInteraction(c)
	if !ok {
		return interaction, ErrNothingToScore
	}
	if c.ModelConfig.UseRAG {
		interaction.Contexts = retrieveContexts(ctx, deps, interaction.Input)
	}
	return interaction, nil
}

// retrieveContexts returns nil when retrieval is not configured or fails,
// the context rubric is then skipped.
func retrieveContexts(ctx context.Context, deps Deps, query string) []string {
	if deps.Retriever == nil {
		return nil
	}
	passages, err := deps.Retriever.Retrieve(ctx, query)
	if err == nil {
		passages, err = retrieval.LimitTokens(passages, deps.MaxContextTokens)
	}
	if err != nil {
		log.Warn().Err(err).Msg("Could not retrieve context for scoring")
		deps.Metrics.RetrievalFailed()
		return nil
	}
	return retrieval.Texts(passages)
}
