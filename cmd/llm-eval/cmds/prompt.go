package cmds

import (
	"context"
	"fmt"

	"github.com/go-go-golems/glazed/pkg/cli"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/llm-eval/pkg/app"
	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/go-go-golems/llm-eval/pkg/prompt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newEncoder() (*prompt.Encoder, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	registry, err := app.NewModelRegistry(s.Models)
	if err != nil {
		return nil, err
	}
	return prompt.NewEncoder(registry), nil
}

type ModelsCommand struct {
	*glazed_cmds.CommandDescription
}

var _ glazed_cmds.GlazeCommand = &ModelsCommand{}

func NewModelsCommand() (*ModelsCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}
	return &ModelsCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"models",
			glazed_cmds.WithShort("List the models prompts can be encoded for"),
			glazed_cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *ModelsCommand) RunIntoGlazeProcessor(ctx context.Context, _ *layers.ParsedLayers, gp middlewares.Processor) error {
	encoder, err := newEncoder()
	if err != nil {
		return err
	}
	registry := encoder.Registry()

	names := map[string]string{}
	for name, id := range registry.FriendlyNames() {
		names[id] = name
	}
	for _, id := range registry.Models() {
		family, err := registry.FamilyOf(id)
		if err != nil {
			return err
		}
		row := types.NewRow(
			types.MRP("id", id),
			types.MRP("name", names[id]),
			types.MRP("family", family.String()),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func NewPromptCommand() (*cobra.Command, error) {
	promptCmd := &cobra.Command{
		Use:   "prompt",
		Short: "Inspect how conversations are encoded for each model",
	}

	modelsCmd, err := NewModelsCommand()
	if err != nil {
		return nil, err
	}
	modelsCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(modelsCmd)
	if err != nil {
		return nil, err
	}

	encodeCmd := &cobra.Command{
		Use:   "encode <messages-file>",
		Short: "Encode a YAML or JSON message list for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoder, err := newEncoder()
			if err != nil {
				return err
			}
			messages, err := conversation.LoadMessagesFromFile(args[0])
			if err != nil {
				return err
			}
			model, _ := cmd.Flags().GetString("model")
			system, _ := cmd.Flags().GetString("system")
			encoded, err := encoder.Encode(model, prompt.WithSystemPrompt(system, messages))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if _, err := fmt.Fprint(out, encoded); err != nil {
				return err
			}
			if count, _ := cmd.Flags().GetBool("count"); count {
				n, err := prompt.CountTokens(encoded)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "\n\n--- %d tokens\n", n)
				return err
			}
			return nil
		},
	}
	encodeCmd.Flags().String("model", conversation.DefaultModel, "Model identifier or friendly name")
	encodeCmd.Flags().String("system", "", "System prompt to prepend")
	encodeCmd.Flags().Bool("count", false, "Print the approximate token count")

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of one records file line",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := conversation.RecordSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}

	promptCmd.AddCommand(modelsCobraCmd, encodeCmd, schemaCmd)
	return promptCmd, nil
}
