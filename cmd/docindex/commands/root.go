// Package commands defines the Cobra commands of the docindex binary.
package commands

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docindex/internal/app"
	"github.com/markdave123-py/docindex/internal/config"
	"github.com/markdave123-py/docindex/internal/logging"
)

const closeTimeout = 30 * time.Second

type rootOptions struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

// NewRootCmd constructs the root command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "docindex",
		Short: "Ingest documents into a vector index and search them",
		Long: `docindex extracts text from documents, splits it into overlapping chunks,
embeds every chunk and stores the vectors in Postgres (pgvector) or SQLite.

Settings come from the environment (and a .env file), optionally layered over a
YAML file given with --config. Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.configPath != "" {
				if err := os.Setenv("CONFIG_FILE", opts.configPath); err != nil {
					return err
				}
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file")

	root.AddCommand(
		newServeCmd(opts),
		newIngestCmd(opts),
		newSearchCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

// openApp builds the application for a one-shot command. The live status
// store stays in memory so the command can run next to a server that holds
// the status directory.
func (o *rootOptions) openApp(ctx context.Context) (*app.App, error) {
	cfg := *o.cfg
	cfg.StatusDir = ""
	return app.NewApp(ctx, &cfg, o.logger)
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		a.Logger.Warn("close failed", "error", err)
	}
}
