package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docindex/internal/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the ingestion workers",
		Long: `Start the HTTP API. Jobs left unfinished by a previous run are resumed
before the server starts listening. SIGINT or SIGTERM stops the server and
drains the ingestion queue for up to 30 seconds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.NewApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer closeApp(a)

			return app.Serve(ctx, a, closeTimeout)
		},
	}
}
