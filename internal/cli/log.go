package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"storyteller/internal/event"
	"storyteller/internal/store"
	"storyteller/internal/wal"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Since  int
	Limit  int
	Format string
	WAL    bool
}

// LogEntry is one listed event.
type LogEntry struct {
	Sequence  int64     `json:"sequence" yaml:"sequence"`
	ID        string    `json:"id" yaml:"id"`
	Kind      string    `json:"kind" yaml:"kind"`
	Target    string    `json:"target" yaml:"target"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Group     string    `json:"developerGroupId,omitempty" yaml:"developerGroupId,omitempty"`
	Setup     bool      `json:"setup,omitempty" yaml:"setup,omitempty"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "List recorded events",
		Long: `List the recorded events in order. Setup events recorded by init are
marked with an asterisk.

Examples:
  storyteller log
  storyteller log --since 120 --limit 20
  storyteller log --format json
  storyteller log --wal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Since, "since", 0, "first sequence number to list")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "list at most this many events (0 for all)")
	cmd.Flags().StringVar(&opts.Format, "format", FormatText, "output format (text|json|yaml)")
	cmd.Flags().BoolVar(&opts.WAL, "wal", false, "report on the journal file of a wal backend")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	if err := checkFormat(opts.Format, FormatText, FormatJSON, FormatYAML); err != nil {
		return err
	}
	if opts.WAL {
		return runWALReport(opts, cmd)
	}

	snap, err := opts.history(context.Background())
	if err != nil {
		return err
	}

	var entries []LogEntry
	for _, ev := range snap.Events() {
		if ev.Sequence < int64(opts.Since) {
			continue
		}
		if opts.Limit > 0 && len(entries) == opts.Limit {
			break
		}
		entries = append(entries, LogEntry{
			Sequence:  ev.Sequence,
			ID:        ev.ID,
			Kind:      ev.Kind().String(),
			Target:    event.Target(ev.Payload),
			Timestamp: ev.Timestamp,
			Group:     ev.DeveloperGroupID,
			Setup:     ev.Relevance == event.NeverRelevant,
		})
	}

	if opts.Format != FormatText {
		if entries == nil {
			entries = []LogEntry{}
		}
		return encode(cmd.OutOrStdout(), opts.Format, entries)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, e := range entries {
		mark := " "
		if e.Setup {
			mark = "*"
		}
		fmt.Fprintf(tw, "%d%s\t%s\t%s\t%s\n", e.Sequence, mark, e.Timestamp.Local().Format(time.DateTime), e.Kind, e.Target)
	}
	return tw.Flush()
}

func runWALReport(opts *LogOptions, cmd *cobra.Command) error {
	if opts.cfg.Storage.Type != store.TypeWAL {
		return NewExitError(ExitCommandError, fmt.Sprintf("--wal needs a wal backend, not %q", opts.cfg.Storage.Type))
	}
	path := opts.cfg.StoragePath(opts.Root)
	report, err := wal.Inspect(path)
	if err != nil {
		return WrapExitError(ExitFailure, "inspect journal", err)
	}
	if opts.Format != FormatText {
		return encode(cmd.OutOrStdout(), opts.Format, report)
	}
	printf(cmd, "journal:    %s\n", path)
	printf(cmd, "created:    %s\n", report.CreatedAt.Local().Format(time.DateTime))
	printf(cmd, "entries:    %d\n", report.Entries)
	printf(cmd, "size:       %d bytes\n", report.Size)
	if report.TornBytes > 0 {
		printf(cmd, "torn tail:  %d bytes (dropped on next open)\n", report.TornBytes)
	}
	return nil
}
