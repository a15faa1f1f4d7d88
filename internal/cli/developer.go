package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"storyteller/internal/developer"
)

// NewDeveloperCommand creates the developer command and its subcommands.
func NewDeveloperCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "developer",
		Short: "Manage the developers credited with new events",
		Long: `Events are credited to the group of active developers. A new project
starts with an anonymous developer, replaced by the first one added.`,
	}
	cmd.AddCommand(newDeveloperAddCommand(rootOpts))
	cmd.AddCommand(newDeveloperListCommand(rootOpts))
	cmd.AddCommand(newDeveloperActivateCommand(rootOpts, true))
	cmd.AddCommand(newDeveloperActivateCommand(rootOpts, false))
	return cmd
}

// withDevelopers runs fn with the developers of the open project.
func withDevelopers(opts *RootOptions, fn func(*developer.Manager) error) error {
	s, err := opts.open(context.Background())
	if err != nil {
		return err
	}
	err = fn(s.Developers())
	if cerr := s.Close(); err == nil && cerr != nil {
		err = WrapExitError(ExitFailure, "close project", cerr)
	}
	return err
}

func newDeveloperAddCommand(opts *RootOptions) *cobra.Command {
	var activate bool
	cmd := &cobra.Command{
		Use:   `add "Name email"`,
		Short: "Register a developer",
		Example: `  storyteller developer add "Ada Lovelace ada@example.com"
  storyteller developer add "Grace Hopper grace@example.com" --activate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, email, err := developer.ParseInfo(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "developer", err)
			}
			return withDevelopers(opts, func(m *developer.Manager) error {
				add := m.Create
				if _, err := m.Find(developer.AnonymousEmail); err == nil {
					// The first real developer takes over from the anonymous one.
					add = m.ReplaceAnonymous
				}
				d, err := add(name, email)
				if err != nil {
					return WrapExitError(ExitCommandError, "add developer", err)
				}
				if activate {
					if err := m.Activate(d.ID); err != nil {
						return WrapExitError(ExitFailure, "activate developer", err)
					}
				}
				printf(cmd, "Added %s (%s)\n", d, d.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activate, "activate", false, "also add the developer to the active group")
	return cmd
}

func newDeveloperListCommand(opts *RootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List developers; active ones are marked with an asterisk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format, FormatText, FormatJSON, FormatYAML); err != nil {
				return err
			}
			return withDevelopers(opts, func(m *developer.Manager) error {
				active := make(map[string]bool)
				for _, d := range m.Active() {
					active[d.ID] = true
				}
				if format != FormatText {
					return encode(cmd.OutOrStdout(), format, map[string]any{
						"activeGroupId": m.ActiveGroupID(),
						"active":        m.Active(),
						"inactive":      m.Inactive(),
					})
				}
				for _, d := range m.Developers() {
					mark := " "
					if active[d.ID] {
						mark = "*"
					}
					printf(cmd, "%s %s\n", mark, d)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", FormatText, "output format (text|json|yaml)")
	return cmd
}

func newDeveloperActivateCommand(opts *RootOptions, activate bool) *cobra.Command {
	use, short := "activate", "Add developers to the active group"
	if !activate {
		use, short = "deactivate", "Remove developers from the active group"
	}
	return &cobra.Command{
		Use:   use + " <id|email>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevelopers(opts, func(m *developer.Manager) error {
				change := m.Activate
				if !activate {
					change = m.Deactivate
				}
				if err := change(args...); err != nil {
					return WrapExitError(ExitFailure, use, err)
				}
				printf(cmd, "Active: %s\n", listNames(m.Active()))
				return nil
			})
		},
	}
}

func listNames(devs []developer.Developer) string {
	if len(devs) == 0 {
		return "nobody"
	}
	names := make([]string, len(devs))
	for i, d := range devs {
		names[i] = d.String()
	}
	return strings.Join(names, ", ")
}
