package cli

import (
	"context"

	"github.com/spf13/cobra"

	"storyteller/internal/reconcile"
	"storyteller/internal/session"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	policyFlags
	DryRun bool
	Format string
}

// ReconcileResult is the JSON and YAML form of a reconcile run.
type ReconcileResult struct {
	Found    reconcile.Discrepancies `json:"found" yaml:"found"`
	Resolved bool                    `json:"resolved" yaml:"resolved"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Bring the history in line with the project on disk",
		Long: `Compare the recorded history with the files on disk and settle every
difference: files modified, paths never recorded and recorded nodes that
are missing. By default whatever is on disk wins and is recorded.

Exit codes:
  0 - history and disk agree
  1 - differences found with --dry-run, or left unresolved
  2 - command error

Examples:
  storyteller reconcile --dry-run
  storyteller reconcile --modified recreate --missing recreate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	opts.policyFlags.register(cmd)
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "only list the differences")
	cmd.Flags().StringVar(&opts.Format, "format", FormatText, "output format (text|json|yaml)")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	if err := checkFormat(opts.Format, FormatText, FormatJSON, FormatYAML); err != nil {
		return err
	}
	plan, err := opts.policyFlags.plan(opts.cfg)
	if err != nil {
		return err
	}

	s, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	found, err := s.FindDiscrepancies(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "find discrepancies", err)
	}
	result := ReconcileResult{Found: found, Resolved: found.Empty()}

	if !found.Empty() && !opts.DryRun {
		if err := s.ResolveAll(ctx, found, plan); err != nil {
			return WrapExitError(ExitFailure, "reconcile", err)
		}
		if err := s.Verify(ctx); err != nil {
			return WrapExitError(ExitFailure, "verify", err)
		}
		result.Resolved = true
	}

	if opts.Format != FormatText {
		if err := encode(cmd.OutOrStdout(), opts.Format, result); err != nil {
			return err
		}
	} else {
		printDiscrepancies(opts, cmd, s, found)
	}
	if !result.Resolved {
		return NewExitError(ExitFailure, "history and disk differ")
	}
	return nil
}

func printDiscrepancies(opts *ReconcileOptions, cmd *cobra.Command, s *session.Session, d reconcile.Discrepancies) {
	path := func(id string) string {
		if p, err := s.Path(id); err == nil {
			return p
		}
		return id
	}
	if d.Empty() {
		printf(cmd, "History and disk agree\n")
		return
	}
	for _, p := range d.UntrackedDirs {
		printf(cmd, "untracked  %s/\n", p)
	}
	for _, p := range d.UntrackedFiles {
		printf(cmd, "untracked  %s\n", p)
	}
	for _, id := range d.ModifiedFileIDs {
		printf(cmd, "modified   %s\n", path(id))
	}
	for _, id := range d.MissingDirectoryIDs {
		printf(cmd, "missing    %s/\n", path(id))
	}
	for _, id := range d.MissingFileIDs {
		printf(cmd, "missing    %s\n", path(id))
	}
	if !opts.DryRun {
		printf(cmd, "Resolved %d discrepancies\n", d.Count())
	}
}
