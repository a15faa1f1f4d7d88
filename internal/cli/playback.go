package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"storyteller/internal/playback"
	"storyteller/internal/tree"
)

// AtOptions holds the position flag shared by show and tree.
type AtOptions struct {
	*RootOptions
	At     int
	Format string
}

func (o *AtOptions) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.At, "at", -1, "number of events to replay (default: all)")
}

// engine opens playback over the recorded history and returns the position
// asked for.
func (o *AtOptions) engine(ctx context.Context) (*playback.Engine, int, error) {
	snap, err := o.history(ctx)
	if err != nil {
		return nil, 0, err
	}
	e, err := playback.New(snap, playback.WithSkipIrrelevant(o.cfg.Playback.SkipIrrelevant))
	if err != nil {
		return nil, 0, WrapExitError(ExitFailure, "replay history", err)
	}
	pos := o.At
	if pos < 0 {
		pos = e.Len()
	}
	if pos > e.Len() {
		return nil, 0, NewExitError(ExitCommandError, fmt.Sprintf("--at %d is past the end of the history (%d events)", pos, e.Len()))
	}
	return e, pos, nil
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AtOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <path>",
		Short: "Print a file as it was at a point in the history",
		Long: `Print the content of a project file after the first --at events.
Paths are project paths such as /src/main.go.

Examples:
  storyteller show /README.md
  storyteller show /src/main.go --at 250`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, cmd, args[0])
		},
	}
	opts.register(cmd)
	return cmd
}

func runShow(opts *AtOptions, cmd *cobra.Command, p string) error {
	e, pos, err := opts.engine(context.Background())
	if err != nil {
		return err
	}
	entries, err := e.TreeAt(pos)
	if err != nil {
		return WrapExitError(ExitFailure, "replay history", err)
	}
	p = tree.Clean(p)
	for _, entry := range entries {
		if entry.Path != p {
			continue
		}
		if entry.Kind != tree.File {
			return NewExitError(ExitCommandError, fmt.Sprintf("%s is a directory", p))
		}
		text, err := e.FileContentAt(entry.ID, pos)
		if err != nil {
			return WrapExitError(ExitFailure, "replay file", err)
		}
		_, err = io.WriteString(cmd.OutOrStdout(), text)
		return err
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%s does not exist after %d events", p, pos))
}

// NewTreeCommand creates the tree command.
func NewTreeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AtOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the directory tree at a point in the history",
		Long: `Print every file and directory that existed after the first --at events.

Examples:
  storyteller tree
  storyteller tree --at 40 --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTree(opts, cmd)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&opts.Format, "format", FormatText, "output format (text|json|yaml)")
	return cmd
}

func runTree(opts *AtOptions, cmd *cobra.Command) error {
	if err := checkFormat(opts.Format, FormatText, FormatJSON, FormatYAML); err != nil {
		return err
	}
	e, pos, err := opts.engine(context.Background())
	if err != nil {
		return err
	}
	entries, err := e.TreeAt(pos)
	if err != nil {
		return WrapExitError(ExitFailure, "replay history", err)
	}
	if opts.Format != FormatText {
		if entries == nil {
			entries = []tree.Entry{}
		}
		return encode(cmd.OutOrStdout(), opts.Format, entries)
	}
	return renderTree(cmd.OutOrStdout(), entries)
}

// renderTree draws entries, which are in path order, as an indented tree.
func renderTree(w io.Writer, entries []tree.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	children := make(map[string][]tree.Entry)
	for _, e := range entries[1:] {
		children[e.ParentID] = append(children[e.ParentID], e)
	}

	var b strings.Builder
	b.WriteString(tree.Root + "\n")
	var walk func(id, indent string)
	walk = func(id, indent string) {
		kids := children[id]
		for i, e := range kids {
			branch, next := "├── ", "│   "
			if i == len(kids)-1 {
				branch, next = "└── ", "    "
			}
			_, name := tree.Split(e.Path)
			if e.Kind == tree.Directory {
				name += "/"
			}
			b.WriteString(indent + branch + name + "\n")
			walk(e.ID, indent+next)
		}
	}
	walk(entries[0].ID, "")
	_, err := io.WriteString(w, b.String())
	return err
}
