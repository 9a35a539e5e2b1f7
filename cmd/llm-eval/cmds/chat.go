package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/llm-eval/pkg/app"
	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/go-go-golems/llm-eval/pkg/events"
	"github.com/go-go-golems/llm-eval/pkg/session"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"
)

const chatHelp = `Commands:
  /regen               ask every model again for the last input
  /clear               start a new conversation
  /title [text]        set the title, or generate one
  /feedback <pane> +|- record a preference for a pane
  /score <pane>        let a judge model rate the last answer of a pane
  /save                save the conversation to the records file
  /export <file>       write the conversation as JSONL
  /history             print the conversations
  /models              print the compared models
  /quit                leave`

type chatSettings struct {
	User         string
	Models       []string
	System       string
	RAG          bool
	Temperature  float64
	TopP         float64
	MaxNewTokens int
	Title        string
	Load         string
	Stream       bool
	AutoTitle    bool
	AutoSave     bool
	Markdown     bool
}

// terminal serializes output of concurrently finishing panes.
type terminal struct {
	mu       sync.Mutex
	out      io.Writer
	markdown bool
}

func (t *terminal) printf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) render(header string, md string) {
	if t.markdown {
		if styled, err := glamour.Render(md, "dark"); err == nil {
			md = styled
		}
	}
	t.printf("\n%s\n%s\n", header, strings.TrimRight(md, "\n"))
}

// paneRenderer prints the final assistant messages of one pane.
type paneRenderer struct {
	t     *terminal
	pane  int
	model string
}

func (r *paneRenderer) RenderMessage(m conversation.Message) {
	if m.Role != conversation.RoleAssistant {
		return
	}
	r.t.render(fmt.Sprintf("[%d] %s", r.pane, r.model), m.Content)
}

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with several models side by side",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := chatSettingsFromFlags(cmd)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cs, os.Stdin, cmd.OutOrStdout())
		},
	}
	defaultUser := os.Getenv("USER")
	cmd.Flags().String("user", defaultUser, "User owning the conversation")
	cmd.Flags().StringSlice("model", nil, "Model to compare, repeatable (default: the first two presets)")
	cmd.Flags().String("system", "", "System prompt of every pane")
	cmd.Flags().Bool("rag", false, "Augment prompts with retrieved context")
	cmd.Flags().Float64("temperature", conversation.DefaultTemperature, "Sampling temperature")
	cmd.Flags().Float64("top-p", conversation.DefaultTopP, "Nucleus sampling top_p")
	cmd.Flags().Int("max-new-tokens", conversation.DefaultMaxNewTokens, "Maximum number of generated tokens")
	cmd.Flags().String("title", "", "Conversation title")
	cmd.Flags().String("load", "", "Continue a saved record, by id or title")
	cmd.Flags().Bool("stream", false, "Print tokens as they arrive (single model only)")
	cmd.Flags().Bool("auto-title", true, "Generate a title from the first input")
	cmd.Flags().Bool("auto-save", false, "Save after every turn")
	cmd.Flags().Bool("no-markdown", false, "Do not style answers as markdown")
	return cmd
}

func chatSettingsFromFlags(cmd *cobra.Command) (*chatSettings, error) {
	f := cmd.Flags()
	ret := &chatSettings{}
	ret.User, _ = f.GetString("user")
	ret.Models, _ = f.GetStringSlice("model")
	ret.System, _ = f.GetString("system")
	ret.RAG, _ = f.GetBool("rag")
	ret.Temperature, _ = f.GetFloat64("temperature")
	ret.TopP, _ = f.GetFloat64("top-p")
	ret.MaxNewTokens, _ = f.GetInt("max-new-tokens")
	ret.Title, _ = f.GetString("title")
	ret.Load, _ = f.GetString("load")
	ret.Stream, _ = f.GetBool("stream")
	ret.AutoTitle, _ = f.GetBool("auto-title")
	ret.AutoSave, _ = f.GetBool("auto-save")
	noMarkdown, _ := f.GetBool("no-markdown")
	ret.Markdown = !noMarkdown && isatty.IsTerminal(os.Stdout.Fd())
	if ret.User == "" {
		return nil, errors.New("--user is required")
	}
	return ret, nil
}

func newChatSession(a *app.App, cs *chatSettings) (*session.Session, error) {
	s, err := a.NewSession(cs.User, cs.Models, session.WithTitle(cs.Title))
	if err != nil {
		return nil, err
	}
	configs := []conversation.ModelConfig{}
	for _, c := range s.Conversations {
		cfg := c.ModelConfig
		cfg.Temperature = cs.Temperature
		cfg.TopP = cs.TopP
		cfg.MaxNewTokens = cs.MaxNewTokens
		cfg.SystemPrompt = cs.System
		cfg.UseRAG = cs.RAG
		configs = append(configs, cfg)
	}
	if err := s.Reconfigure(configs...); err != nil {
		return nil, err
	}

	if cs.Load != "" {
		r, err := a.Store.GetByID(cs.Load)
		if errors.Is(err, conversation.ErrNotFound) {
			r, err = a.Store.GetByTitle(cs.Load)
		}
		if err != nil {
			return nil, err
		}
		if err := s.Load(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func attachRenderers(s *session.Session, t *terminal) {
	for i, c := range s.Conversations {
		c.SetRenderer(&paneRenderer{t: t, pane: i, model: c.ModelConfig.Model})
	}
}

func runChat(ctx context.Context, cs *chatSettings, in io.Reader, out io.Writer) error {
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close()
	}()

	s, err := newChatSession(a, cs)
	if err != nil {
		return err
	}
	if cs.RAG && a.Retriever == nil {
		log.Warn().Msg("--rag is set but no retrieval store is configured")
	}

	t := &terminal{out: out, markdown: cs.Markdown}
	streaming := cs.Stream && len(s.Conversations) == 1
	if streaming {
		a.Events.AddEventHandler("terminal", func(_ context.Context, ev events.Event) error {
			switch ev.Type {
			case events.EventTypeStart:
				t.printf("\n[%d] %s\n", ev.Pane, ev.Model)
			case events.EventTypePartial:
				t.printf("%s", ev.Delta)
			case events.EventTypeFinal, events.EventTypeError:
				t.printf("\n")
			}
			return nil
		})
	} else {
		attachRenderers(s, t)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return a.Events.Run(gctx)
	})

	eg.Go(func() error {
		defer cancel()
		select {
		case <-a.Events.Running():
		case <-gctx.Done():
			return nil
		}
		r := &chatREPL{
			app:       a,
			session:   s,
			settings:  cs,
			terminal:  t,
			streaming: streaming,
			ui:        &input.UI{Reader: in, Writer: out},
		}
		return r.run(gctx)
	})

	return eg.Wait()
}

type chatREPL struct {
	app       *app.App
	session   *session.Session
	settings  *chatSettings
	terminal  *terminal
	streaming bool
	ui        *input.UI
}

func (r *chatREPL) run(ctx context.Context) error {
	r.terminal.printf("Comparing %s. Type /help for commands.\n", r.session.Summary())
	for {
		line, err := r.ui.Ask(">", &input.Options{
			Required:  true,
			Loop:      true,
			HideOrder: true,
		})
		if err != nil {
			// EOF or interrupt ends the chat
			log.Debug().Err(err).Msg("Stopped reading input")
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				r.terminal.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		first := r.session.Snapshot().LastInput == ""
		res, err := r.session.Submit(ctx, line)
		if err != nil {
			r.terminal.printf("error: %v\n", err)
			continue
		}
		r.report(res)

		if first && r.settings.AutoTitle && r.session.Export().Title == "" {
			title, err := r.session.GenerateTitle(ctx, r.titleModel(), line)
			if err != nil {
				log.Warn().Err(err).Msg("Could not generate title")
			} else {
				r.terminal.printf("(title: %s)\n", title)
			}
		}
		if r.settings.AutoSave {
			if _, err := r.session.Save(r.app.Store, true); err != nil {
				r.terminal.printf("error: %v\n", err)
			}
		}
	}
}

func (r *chatREPL) titleModel() string {
	models := r.session.Models()
	if len(models) == 0 {
		return ""
	}
	return models[0]
}

// report prints the panes the renderer did not show.
func (r *chatREPL) report(res *session.TurnResult) {
	for _, p := range res.Panes {
		if p.Err == nil {
			continue
		}
		if p.Response != "" && !r.streaming {
			r.terminal.render(fmt.Sprintf("[%d] %s (partial)", p.Pane, p.Model), p.Response)
		}
		r.terminal.printf("[%d] %s failed: %v\n", p.Pane, p.Model, p.Err)
	}
	for _, p := range res.Panes {
		if p.RetrievalErr != nil {
			r.terminal.printf("[%d] retrieval failed, answered without context\n", p.Pane)
		}
	}
	if res.State == session.StateErrored {
		r.terminal.printf("every model failed, try /regen\n")
	}
}

func (r *chatREPL) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	args := fields[1:]
	s := r.session

	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		r.terminal.printf("%s\n", chatHelp)

	case "/regen":
		res, err := s.Regenerate(ctx)
		if err != nil {
			return false, err
		}
		r.report(res)

	case "/clear":
		s.Clear()
		r.terminal.printf("cleared\n")

	case "/title":
		if len(args) > 0 {
			s.SetTitle(strings.Join(args, " "))
			return false, nil
		}
		lastInput := s.Snapshot().LastInput
		if lastInput == "" {
			return false, errors.New("nothing to summarize yet")
		}
		title, err := s.GenerateTitle(ctx, r.titleModel(), lastInput)
		if err != nil {
			return false, err
		}
		r.terminal.printf("title: %s\n", title)

	case "/feedback":
		if len(args) != 2 || (args[1] != "+" && args[1] != "-") {
			return false, errors.New("usage: /feedback <pane> +|-")
		}
		pane, err := strconv.Atoi(args[0])
		if err != nil {
			return false, err
		}
		return false, s.RecordFeedback(ctx, pane, args[1] == "+")

	case "/score":
		if len(args) != 1 {
			return false, errors.New("usage: /score <pane>")
		}
		return false, r.score(ctx, args[0])

	case "/save":
		rec, err := s.Save(r.app.Store, true)
		if err != nil {
			return false, err
		}
		r.terminal.printf("saved %s\n", rec.ID)

	case "/export":
		if len(args) != 1 {
			return false, errors.New("usage: /export <file>")
		}
		b, err := s.Export().ToJSON()
		if err != nil {
			return false, err
		}
		if err := os.WriteFile(args[0], append(b, '\n'), 0o644); err != nil {
			return false, err
		}
		r.terminal.printf("exported to %s\n", args[0])

	case "/history":
		rec := s.Export()
		r.terminal.render("", conversation.RecordToMarkdown(rec))

	case "/models":
		for i, m := range s.Models() {
			r.terminal.printf("[%d] %s\n", i, m)
		}

	default:
		return false, errors.Errorf("unknown command %s, try /help", fields[0])
	}
	return false, nil
}

func (r *chatREPL) score(ctx context.Context, arg string) error {
	pane, err := strconv.Atoi(arg)
	if err != nil {
		return err
	}
	interaction, err := r.session.Interaction(ctx, pane)
	if err != nil {
		return err
	}
	scores, err := r.app.Scorer(r.session.Models()[pane]).Score(ctx, interaction)
	for _, sc := range scores {
		r.terminal.printf("%-22s %.2f\n", sc.Name, sc.Value)
	}
	return err
}
