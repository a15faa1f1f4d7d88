package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"storyteller/internal/config"
	"storyteller/internal/session"
	"storyteller/internal/store"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Name    string
	Storage string
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Start recording a project",
		Long: `Create the history of the project at --root. Files and directories that
already exist are recorded as setup events, which playback skips.

Examples:
  storyteller init
  storyteller init --name website --storage wal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "project name (default: root directory name)")
	cmd.Flags().StringVar(&opts.Storage, "storage", "", "history backend (sqlite|wal|postgres|memory)")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	cfgPath := config.ConfigPath(opts.Root)
	_, statErr := os.Stat(cfgPath)
	writeConfig := errors.Is(statErr, os.ErrNotExist) && opts.ConfigPath == ""
	if opts.Name != "" {
		opts.cfg.Project.Name = opts.Name
	}
	if opts.Storage != "" {
		opts.cfg.Storage.Type = opts.Storage
		opts.cfg.Storage.Path = ""
		if opts.Storage == store.TypeSQLite || opts.Storage == store.TypeWAL {
			opts.cfg.Storage.Path = filepath.Base(store.DefaultPath("", opts.Storage))
		}
		if err := opts.cfg.Validate(); err != nil {
			return WrapExitError(ExitCommandError, "invalid storage", err)
		}
	}

	if err := opts.cfg.EnsureDirectories(opts.Root); err != nil {
		return WrapExitError(ExitFailure, "create state directory", err)
	}

	s, err := session.Init(ctx, opts.sessionOptions())
	if err != nil {
		if errors.Is(err, session.ErrAlreadyInitialized) {
			return WrapExitError(ExitCommandError, "project already initialized", err)
		}
		return WrapExitError(ExitCommandError, "initialize project", err)
	}
	n := s.Len()
	if err := s.Close(); err != nil {
		return WrapExitError(ExitFailure, "close project", err)
	}

	if writeConfig {
		opts.cfg.Project.Name = projectName(opts.RootOptions)
		if err := config.SaveConfig(opts.cfg, cfgPath); err != nil {
			return WrapExitError(ExitFailure, "write config", err)
		}
	}

	printf(cmd, "Initialized %s in %s (%d setup events)\n", projectName(opts.RootOptions), opts.Root, n)
	return nil
}
