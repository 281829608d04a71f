package cli

import (
	"context"
	"fmt"
	"io"

	"studysync/internal/app"
	"studysync/internal/config"
	"studysync/internal/logging"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version and Commit are set at build time via ldflags
	Version = "dev"
	Commit  = ""
)

type options struct {
	configPath string
	verbose    bool
}

// NewRootCmd builds the queuectl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "queuectl",
		Short: "Inspect and operate the offline study sync queue",
		Long: `queuectl works directly against the configured queue store.

It can show queue depth, queue new actions, run a sync pass, reset failed
actions and clean up delivered ones.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("queuectl version %s\ncommit: %s\n", Version, Commit))

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", app.ConfigPath(), "path to config.yaml")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level to stderr")

	root.AddCommand(
		newStatusCmd(opts),
		newListCmd(opts),
		newEnqueueCmd(opts),
		newSyncCmd(opts),
		newRetryCmd(opts),
		newSweepCmd(opts),
		newClearCmd(opts),
	)
	return root
}

// withApp loads config, builds the app and closes it after fn returns.
func withApp(ctx context.Context, opts *options, stderr io.Writer, fn func(*app.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// CLI output owns stdout; logs go to stderr
	cfg.Logging.Output = "stderr"
	cfg.Logging.Format = "console"
	cfg.Logging.Level = "warn"
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	if stderr != nil {
		l := logger.Output(zerolog.ConsoleWriter{Out: stderr, NoColor: true})
		logger = &l
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
