package cmds

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/glazed/pkg/cli"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/go-go-golems/llm-eval/pkg/conversation/store"
	"github.com/mattn/go-isatty"
	"github.com/mb0/glob"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func openStore() (*store.FileRecordStore, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	return store.NewFileRecordStore(s.RecordsFile, store.WithStrictLoad(s.StrictLoad))
}

type ListRecordsSettings struct {
	User      string `glazed.parameter:"user"`
	TitleGlob string `glazed.parameter:"title-glob"`
	Models    bool   `glazed.parameter:"models"`
}

type ListRecordsCommand struct {
	*glazed_cmds.CommandDescription
}

var _ glazed_cmds.GlazeCommand = &ListRecordsCommand{}

func NewListRecordsCommand() (*ListRecordsCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	return &ListRecordsCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"list",
			glazed_cmds.WithShort("List conversation records"),
			glazed_cmds.WithFlags(
				parameters.NewParameterDefinition(
					"user",
					parameters.ParameterTypeString,
					parameters.WithHelp("Only list records of this user"),
				),
				parameters.NewParameterDefinition(
					"title-glob",
					parameters.ParameterTypeString,
					parameters.WithHelp("Only list records whose title matches this glob"),
				),
				parameters.NewParameterDefinition(
					"models",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Output one row per conversation with its model config"),
					parameters.WithDefault(false),
				),
			),
			glazed_cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *ListRecordsCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &ListRecordsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "error initializing settings")
	}

	st, err := openStore()
	if err != nil {
		return err
	}

	var user *string
	if s.User != "" {
		user = &s.User
	}
	for _, r := range st.ListRecords(user) {
		if s.TitleGlob != "" {
			matching, err := glob.Match(s.TitleGlob, r.Title)
			if err != nil {
				return err
			}
			if !matching {
				continue
			}
		}

		if !s.Models {
			models := []string{}
			feedback := 0
			messages := 0
			lastInput := ""
			if len(r.Conversations) > 0 {
				if m, ok := r.Conversations[0].LastUserMessage(); ok {
					lastInput = m.Preview(40)
				}
			}
			for _, c := range r.Conversations {
				models = append(models, c.ModelConfig.Model)
				if c.HasFeedback() {
					feedback++
				}
				messages = c.Len()
			}
			row := types.NewRow(
				types.MRP("id", r.ID),
				types.MRP("user", r.User),
				types.MRP("title", r.Title),
				types.MRP("models", strings.Join(models, ", ")),
				types.MRP("messages", messages),
				types.MRP("last_input", lastInput),
				types.MRP("feedback", feedback),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
			continue
		}

		for i, c := range r.Conversations {
			row := types.NewRow(
				types.MRP("id", r.ID),
				types.MRP("title", r.Title),
				types.MRP("pane", i),
				types.MRP("model", c.ModelConfig.Model),
				types.MRP("temperature", c.ModelConfig.Temperature),
				types.MRP("top_p", c.ModelConfig.TopP),
				types.MRP("max_new_tokens", c.ModelConfig.MaxNewTokens),
				types.MRP("has_error", c.HasError),
				types.MRP("feedback", feedbackString(c)),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func feedbackString(c *conversation.Conversation) string {
	if c.Feedback == nil {
		return ""
	}
	if *c.Feedback {
		return "+"
	}
	return "-"
}

type UsersCommand struct {
	*glazed_cmds.CommandDescription
}

var _ glazed_cmds.GlazeCommand = &UsersCommand{}

func NewUsersCommand() (*UsersCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}
	return &UsersCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"users",
			glazed_cmds.WithShort("List users with their record counts"),
			glazed_cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *UsersCommand) RunIntoGlazeProcessor(ctx context.Context, _ *layers.ParsedLayers, gp middlewares.Processor) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	for _, user := range st.ListUsers() {
		u := user
		stats := st.Stats(&u)
		row := types.NewRow(
			types.MRP("user", user),
			types.MRP("records", stats.Records),
			types.MRP("conversations", stats.Conversations),
			types.MRP("with_feedback", stats.WithFeedback),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func NewRecordsCommand() (*cobra.Command, error) {
	recordsCmd := &cobra.Command{
		Use:   "records",
		Short: "Browse and manage the conversation records",
	}

	listCmd, err := NewListRecordsCommand()
	if err != nil {
		return nil, err
	}
	listCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(listCmd)
	if err != nil {
		return nil, err
	}
	usersCmd, err := NewUsersCommand()
	if err != nil {
		return nil, err
	}
	usersCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(usersCmd)
	if err != nil {
		return nil, err
	}

	recordsCmd.AddCommand(
		listCobraCmd,
		usersCobraCmd,
		newShowCommand(),
		newExportCommand(),
		newImportCommand(),
		newDeleteCommand(),
		newCheckCommand(),
	)
	return recordsCmd, nil
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id-or-title>",
		Short: "Print a record as markdown, or html with --html",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			r, err := st.GetByID(args[0])
			if errors.Is(err, conversation.ErrNotFound) {
				r, err = st.GetByTitle(args[0])
			}
			if err != nil {
				return err
			}

			asHTML, _ := cmd.Flags().GetBool("html")
			if asHTML {
				html, err := conversation.RecordToHTML(r)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), html)
				return err
			}

			md := conversation.RecordToMarkdown(r)
			raw, _ := cmd.Flags().GetBool("raw")
			if !raw && isatty.IsTerminal(os.Stdout.Fd()) {
				styled, err := glamour.Render(md, "dark")
				if err == nil {
					md = styled
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), md)
			return err
		},
	}
	cmd.Flags().Bool("html", false, "Render as HTML")
	cmd.Flags().Bool("raw", false, "Print the markdown without styling")
	return cmd
}

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [id...]",
		Short: "Write records as line-delimited JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if path, _ := cmd.Flags().GetString("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer func() {
					_ = f.Close()
				}()
				out = f
			}
			if user, _ := cmd.Flags().GetString("user"); user != "" {
				return st.ExportUser(out, user)
			}
			return st.Export(out, args...)
		},
	}
	cmd.Flags().String("user", "", "Export every record of this user")
	cmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	return cmd
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Merge records from a line-delimited JSON file into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() {
				_ = f.Close()
			}()
			report, err := st.Import(f, true)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d records, skipped %d lines\n",
				report.Loaded, len(report.Skipped))
			return err
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := st.Delete(id, false); err != nil {
					return err
				}
			}
			return st.Persist()
		},
	}
}

// newCheckCommand reports the lines of the records file that do not load.
func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the records file and report malformed lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			report := st.LastLoadReport()
			out := cmd.OutOrStdout()
			for _, s := range report.Skipped {
				_, _ = fmt.Fprintf(out, "%s:%d: %v\n", st.Path(), s.Line, s.Err)
			}
			_, err = fmt.Fprintf(out, "%d records loaded, %d lines skipped\n", report.Loaded, len(report.Skipped))
			if err == nil && len(report.Skipped) > 0 {
				return errors.Errorf("%d malformed lines", len(report.Skipped))
			}
			return err
		},
	}
}
