package cmds

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/llm-eval/pkg/conversation/store"
	"github.com/go-go-golems/llm-eval/pkg/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the comparison API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				_ = a.Close()
			}()

			addr, _ := cmd.Flags().GetString("addr")
			secret, _ := cmd.Flags().GetString("cookie-secret")
			watch, _ := cmd.Flags().GetBool("watch")

			srv := server.New(a, server.WithCookieSecret(secret))

			eg, gctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return a.Events.Run(gctx)
			})
			eg.Go(func() error {
				select {
				case <-a.Events.Running():
				case <-gctx.Done():
					return nil
				}
				return srv.Serve(gctx, addr)
			})
			eg.Go(func() error {
				srv.RunExpiry(gctx, time.Minute)
				return nil
			})
			if watch {
				eg.Go(func() error {
					return a.Store.Watch(gctx, func(report store.LoadReport) {
						if len(report.Skipped) > 0 {
							log.Warn().Int("skipped", len(report.Skipped)).Msg("Reloaded records file has malformed lines")
						}
					})
				})
			}

			err = eg.Wait()
			if err != nil && ctx.Err() == nil {
				return err
			}
			log.Info().Msg("Server stopped")
			return nil
		},
	}
	cmd.Flags().String("addr", ":8080", "Listen address")
	cmd.Flags().String("cookie-secret", os.Getenv("LLM_EVAL_COOKIE_SECRET"), "Key used to sign session cookies")
	cmd.Flags().Bool("watch", false, "Reload the records file when another process rewrites it")
	return cmd
}
