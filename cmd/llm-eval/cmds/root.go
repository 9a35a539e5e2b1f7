package cmds

import (
	"context"

	"github.com/go-go-golems/llm-eval/pkg/app"
	"github.com/go-go-golems/llm-eval/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// AddToRootCommand registers every subcommand on rootCmd.
func AddToRootCommand(rootCmd *cobra.Command) error {
	recordsCmd, err := NewRecordsCommand()
	if err != nil {
		return err
	}
	promptCmd, err := NewPromptCommand()
	if err != nil {
		return err
	}
	scoreCmd, err := NewScoreCommand()
	if err != nil {
		return err
	}

	rootCmd.AddCommand(
		NewChatCommand(),
		recordsCmd,
		promptCmd,
		scoreCmd,
		NewServeCommand(),
	)
	return nil
}

func loadSettings() (*config.Settings, error) {
	return config.Load(viper.GetViper())
}

func loadApp(ctx context.Context) (*app.App, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, s)
}
