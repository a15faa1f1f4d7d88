package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"storyteller/internal/export"
	"storyteller/internal/session"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the history as a JSON document",
		Long: `Write every recorded event to a JSON document that import accepts.

Examples:
  storyteller export > history.json
  storyteller export -o history.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	snap, err := opts.history(context.Background())
	if err != nil {
		return err
	}
	doc := export.New(projectName(opts.RootOptions), snap.Events(), time.Now())

	var w io.Writer = cmd.OutOrStdout()
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return WrapExitError(ExitCommandError, "create output", err)
		}
		defer f.Close()
		w = f
	}
	if err := export.Write(w, doc); err != nil {
		return WrapExitError(ExitFailure, "write export", err)
	}
	if f, ok := w.(*os.File); ok && opts.Output != "" {
		if err := f.Close(); err != nil {
			return WrapExitError(ExitFailure, "write export", err)
		}
		opts.log().Info("exported history", "events", len(doc.Events), "path", opts.Output)
	}
	return nil
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create a project history from an exported document",
		Long: `Check an exported document and make it the history of the project at
--root, which must not have one yet. Use "-" to read standard input.

Examples:
  storyteller import history.json
  storyteller -C ./copy import - < history.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, cmd, args[0])
		},
	}
	return cmd
}

func runImport(opts *RootOptions, cmd *cobra.Command, name string) error {
	var r io.Reader = cmd.InOrStdin()
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "open document", err)
		}
		defer f.Close()
		r = f
	}

	doc, err := export.Read(r)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid document", err)
	}
	n, err := session.Import(context.Background(), opts.sessionOptions(), doc)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyInitialized) || errors.Is(err, export.ErrNotEmpty) {
			return WrapExitError(ExitCommandError, "project already has a history", err)
		}
		return projectError(err)
	}
	printf(cmd, "Imported %d events\n", n)
	return nil
}
