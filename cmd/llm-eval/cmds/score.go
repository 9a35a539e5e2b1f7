package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/llm-eval/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type ScoreSettings struct {
	Record string `glazed.parameter:"record"`
	Pane   []int  `glazed.parameter:"pane"`
	Judge  string `glazed.parameter:"judge"`
}

// ScoreCommand rates the last exchange of recorded conversations with an
// LLM judge.
type ScoreCommand struct {
	*glazed_cmds.CommandDescription
}

var _ glazed_cmds.GlazeCommand = &ScoreCommand{}

func NewScoreCommand() (*cobra.Command, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	c := &ScoreCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"score",
			glazed_cmds.WithShort("Score the last exchange of a record with an LLM judge"),
			glazed_cmds.WithFlags(
				parameters.NewParameterDefinition(
					"pane",
					parameters.ParameterTypeIntegerList,
					parameters.WithHelp("Panes to score (default: all)"),
				),
				parameters.NewParameterDefinition(
					"judge",
					parameters.ParameterTypeString,
					parameters.WithHelp("Model asked to judge (default: the pane's own model)"),
				),
			),
			glazed_cmds.WithArguments(
				parameters.NewParameterDefinition(
					"record",
					parameters.ParameterTypeString,
					parameters.WithHelp("Record id or title"),
					parameters.WithRequired(true),
				),
			),
			glazed_cmds.WithLayersList(glazedParameterLayer),
		),
	}
	return cli.BuildCobraCommandFromGlazeCommand(c)
}

func (c *ScoreCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &ScoreSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "error initializing settings")
	}

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close()
	}()

	r, err := a.Store.GetByID(s.Record)
	if err != nil {
		r, err = a.Store.GetByTitle(s.Record)
		if err != nil {
			return err
		}
	}

	panes := s.Pane
	if len(panes) == 0 {
		for i := range r.Conversations {
			panes = append(panes, i)
		}
	}

	for _, pane := range panes {
		if pane < 0 || pane >= len(r.Conversations) {
			return errors.Errorf("record %s has no pane %d", r.ID, pane)
		}
		conv := r.Conversations[pane]
		interaction, err := session.RecordInteraction(ctx, a.Deps(), r, pane)
		if err != nil {
			log.Warn().Err(err).Int("pane", pane).Msg("Nothing to score")
			continue
		}
		judge := s.Judge
		if judge == "" {
			judge = conv.ModelConfig.Model
		}

		scores, err := a.Scorer(judge).Score(ctx, interaction)
		if err != nil {
			// partial results are still reported
			log.Warn().Err(err).Int("pane", pane).Str("judge", judge).Msg("Some scores failed")
		}
		for _, score := range scores {
			row := types.NewRow(
				types.MRP("record", r.ID),
				types.MRP("pane", pane),
				types.MRP("model", conv.ModelConfig.Model),
				types.MRP("judge", judge),
				types.MRP("metric", score.Name),
				types.MRP("value", score.Value),
				types.MRP("higher_is_better", score.HigherIsBetter),
				types.MRP("reason", score.Reason),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
	}
	return nil
}
