package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"stationear/internal/bootstrap"
	"stationear/internal/config"
	"stationear/internal/domain"
)

type options struct {
	apiBase string
	dbPath  string
	verbose bool
	plain   bool

	cfg config.Config
}

// NewRootCommand returns the stationear-cli command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "stationear-cli",
		Short:         "Record transit announcements and inspect their processing sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if base := strings.TrimSpace(opts.apiBase); base != "" {
				cfg.API.BaseURL = strings.TrimRight(base, "/")
			}
			if path := strings.TrimSpace(opts.dbPath); path != "" {
				cfg.Storage.DBPath = path
			}
			opts.cfg = cfg
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.apiBase, "api", "", "backend base URL (overrides STATIONEAR_API_BASE)")
	flags.StringVar(&opts.dbPath, "db", "", "local database path (overrides STATIONEAR_DB_PATH)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "write runtime logs to stderr")
	flags.BoolVar(&opts.plain, "plain", false, "disable colored output")

	root.AddCommand(
		newRecordCommand(opts),
		newStatusCommand(opts),
		newResultsCommand(opts),
		newKeywordsCommand(opts),
		newCleanupCommand(opts),
		newAlertsCommand(opts),
	)
	return root
}

// Execute runs the command tree against the process arguments.
func Execute(ctx context.Context) int {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "stationear-cli: %v\n", err)
		return 1
	}
	return 0
}

// build wires the runtime for one command invocation. Events are printed to
// the command's error stream.
func (o *options) build(cmd *cobra.Command) (bootstrap.Services, *eventPrinter, error) {
	events := newEventPrinter(cmd.ErrOrStderr(), o.plain)

	logOutput := cmd.ErrOrStderr()
	if !o.verbose {
		logOutput = nil
	}
	services, err := bootstrap.BuildWith(o.cfg, events, logOutput)
	if err != nil {
		return bootstrap.Services{}, nil, err
	}
	return services, events, nil
}

func (o *options) view(cmd *cobra.Command) renderer {
	return newRenderer(cmd.OutOrStdout(), o.plain)
}

// targetSession returns the explicit id argument, or the most recently created
// session in local history.
func targetSession(ctx context.Context, services bootstrap.Services, args []string) (domain.SessionID, error) {
	if len(args) > 0 {
		if id := domain.SessionID(strings.TrimSpace(args[0])); !id.IsZero() {
			return id, nil
		}
	}
	history, err := services.Storage.SessionHistory(ctx)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", fmt.Errorf("no session id given and local history is empty")
	}
	return history[len(history)-1], nil
}

// endedSession is targetSession for commands that read what was recorded: without
// an argument it prefers the last ended session over the newest history entry.
func endedSession(ctx context.Context, services bootstrap.Services, args []string) (domain.SessionID, error) {
	if len(args) == 0 {
		ended, err := services.Storage.LastEnded(ctx)
		if err != nil {
			return "", err
		}
		if !ended.IsZero() {
			return ended, nil
		}
	}
	return targetSession(ctx, services, args)
}
