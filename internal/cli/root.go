// Package cli implements the storyteller command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"storyteller/internal/config"
	"storyteller/internal/eventlog"
	"storyteller/internal/logging"
	"storyteller/internal/session"
)

// RootOptions holds global flags and what they load.
type RootOptions struct {
	Root       string
	ConfigPath string
	LogLevel   string
	Verbose    bool

	cfg    *config.Config
	loader *config.Loader
	logger *logging.Logger
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "storyteller",
		Short: "Record and replay the history of a code project",
		Long: `storyteller records every edit, file change and paste in a project as an
ordered event history, and rebuilds the project as it was at any point.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.loader != nil {
				opts.loader.Close()
			}
			if opts.logger != nil {
				return opts.logger.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Root, "root", "C", ".", "project root directory")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: <root>/.storyteller/config.toml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewCaptureCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewTreeCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewDeveloperCommand(opts))

	return cmd
}

func (o *RootOptions) setup(cmd *cobra.Command) error {
	root, err := filepath.Abs(o.Root)
	if err != nil {
		return WrapExitError(ExitCommandError, "resolve root", err)
	}
	o.Root = root

	loader := config.NewProjectLoader(root)
	if o.ConfigPath != "" {
		loader = config.NewLoader(o.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	o.cfg = cfg
	o.loader = loader

	logger, err := o.newLogger(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "set up logging", err)
	}
	o.logger = logger
	return nil
}

func (o *RootOptions) newLogger(cmd *cobra.Command) (*logging.Logger, error) {
	lc := o.cfg.Logging
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		if level, err = logging.ParseLevel(o.LogLevel); err != nil {
			return nil, err
		}
	}
	if o.Verbose {
		level = logging.LevelDebug
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return nil, err
	}

	lcfg := logging.DefaultConfig()
	lcfg.Level = level
	lcfg.Format = format
	lcfg.Output = lc.Output
	lcfg.FilePath = o.cfg.LogPath(o.Root)
	lcfg.MaxSize = int64(lc.MaxSizeMB)
	lcfg.MaxBackups = lc.MaxBackups
	if lc.Output == "stderr" {
		lcfg.Writer = cmd.ErrOrStderr()
	}
	logger, err := logging.New(lcfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("logging configured", "level", logging.LevelString(level), "output", lc.Output, "config", o.loader.Path())
	return logger, nil
}

// sessionOptions maps the loaded configuration for the session package.
func (o *RootOptions) sessionOptions() session.Options {
	so := session.OptionsFromConfig(o.Root, o.cfg)
	so.Logger = o.logger.Logger
	return so
}

// open opens the project for writing.
func (o *RootOptions) open(ctx context.Context) (*session.Session, error) {
	s, err := session.Open(ctx, o.sessionOptions())
	if err != nil {
		return nil, projectError(err)
	}
	return s, nil
}

// history loads the recorded events without locking the project.
func (o *RootOptions) history(ctx context.Context) (eventlog.Snapshot, error) {
	snap, err := session.History(ctx, o.sessionOptions())
	if err != nil {
		return eventlog.Snapshot{}, projectError(err)
	}
	return snap, nil
}

func (o *RootOptions) log() *slog.Logger {
	return o.logger.WithComponent("cli")
}

func projectError(err error) error {
	switch {
	case errors.Is(err, session.ErrNotInitialized):
		return WrapExitError(ExitCommandError, "no project here; run storyteller init", err)
	case errors.Is(err, session.ErrLocked):
		return WrapExitError(ExitCommandError, "another storyteller session is running", err)
	}
	return WrapExitError(ExitCommandError, "open project", err)
}

func projectName(o *RootOptions) string {
	if o.cfg.Project.Name != "" {
		return o.cfg.Project.Name
	}
	return filepath.Base(o.Root)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
