package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"storyteller/internal/config"
	"storyteller/internal/disambig"
	"storyteller/internal/reconcile"
	"storyteller/internal/session"
	"storyteller/internal/watcher"
)

// logFlushInterval is how often a long capture flushes its log file.
const logFlushInterval = 30 * time.Second

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	policyFlags
	NoReconcile bool
	For         time.Duration
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record file system changes until interrupted",
		Long: `Reconcile the history with the project on disk, then record every file
and directory created, deleted, moved or renamed below --root until the
process receives SIGINT or SIGTERM.

Examples:
  storyteller capture
  storyteller capture --untracked delete
  storyteller capture --for 10m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(opts, cmd)
		},
	}

	opts.policyFlags.register(cmd)
	cmd.Flags().BoolVar(&opts.NoReconcile, "no-reconcile", false, "skip reconciliation before capture")
	cmd.Flags().DurationVar(&opts.For, "for", 0, "stop after this long (default: until interrupted)")

	return cmd
}

func runCapture(opts *CaptureOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := opts.log()

	plan, err := opts.policyFlags.plan(opts.cfg)
	if err != nil {
		return err
	}

	so := opts.sessionOptions()
	so.OnDecision = func(d disambig.Decision, err error) {
		if err == nil && opts.Verbose {
			printf(cmd, "%s %s\n", d.Op, d.Path)
		}
	}
	s, err := session.Open(ctx, so)
	if err != nil {
		return projectError(err)
	}
	defer s.Close()
	start := s.Len()

	if !opts.NoReconcile {
		found, err := s.FindDiscrepancies(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "find discrepancies", err)
		}
		if !found.Empty() {
			printf(cmd, "Reconciling %d discrepancies\n", found.Count())
			if err := s.ResolveAll(ctx, found, plan); err != nil {
				return WrapExitError(ExitFailure, "reconcile", err)
			}
		}
	}

	if !opts.cfg.Capture.Watch {
		log.Info("watching disabled by configuration")
		return s.Close()
	}

	w, err := watcher.New(watcher.Config{
		Root:   s.Root(),
		Ignore: s.IgnoredOS,
		Logger: opts.logger.WithComponent("watcher"),
	}, s)
	if err != nil {
		return WrapExitError(ExitCommandError, "create watcher", err)
	}
	if err := w.Start(); err != nil {
		return WrapExitError(ExitCommandError, "start watcher", err)
	}
	printf(cmd, "Capturing %s\n", s.Root())
	opts.watchConfig()

	watchCtx := ctx
	if opts.For > 0 {
		var cancel context.CancelFunc
		watchCtx, cancel = context.WithTimeout(ctx, opts.For)
		defer cancel()
	}
	errs := w.Errors()
	flush := time.NewTicker(logFlushInterval)
	defer flush.Stop()
loop:
	for {
		select {
		case <-watchCtx.Done():
			break loop
		case <-s.Halted():
			w.Stop()
			return WrapExitError(ExitFailure, "capture stopped", s.Err())
		case <-flush.C:
			if err := opts.logger.Sync(); err != nil {
				log.Warn("flush log file", "error", err)
			}
		case err, ok := <-errs:
			if !ok {
				break loop
			}
			log.Warn("watcher error", "error", err)
		}
	}

	if err := w.Stop(); err != nil {
		log.Warn("stop watcher", "error", err)
	}
	recorded := s.Len() - start
	if err := s.Close(); err != nil {
		return WrapExitError(ExitFailure, "close project", err)
	}
	if err := s.Err(); err != nil {
		return WrapExitError(ExitFailure, "capture stopped", err)
	}
	printf(cmd, "Recorded %d events\n", recorded)
	return nil
}

// watchConfig reports edits to the configuration file while capturing. The
// running session keeps the settings it was opened with.
func (o *CaptureOptions) watchConfig() {
	log := o.logger.WithComponent("config")
	if err := o.loader.Watch(); err != nil {
		log.Warn("config changes will not be noticed", "error", err)
		return
	}
	o.loader.OnChange(func(cfg *config.Config) {
		if err := cfg.Validate(); err != nil {
			log.Warn("edited config is invalid", "path", o.loader.Path(), "error", err)
			return
		}
		log.Info("config changed; restart capture to apply", "path", o.loader.Path())
	})
}

// policyFlags are the reconciliation policy overrides shared by capture and
// reconcile.
type policyFlags struct {
	Modified  string
	Untracked string
	Missing   string
}

func (p *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.Modified, "modified", "", "policy for modified files (accept-changes|recreate)")
	cmd.Flags().StringVar(&p.Untracked, "untracked", "", "policy for untracked paths (create|delete)")
	cmd.Flags().StringVar(&p.Missing, "missing", "", "policy for missing nodes (recreate|accept-delete)")
}

// plan combines the flags with the configured policies.
func (p *policyFlags) plan(cfg *config.Config) (reconcile.Plan, error) {
	modified, untracked, missing := cfg.Reconcile.Modified, cfg.Reconcile.Untracked, cfg.Reconcile.Missing
	if p.Modified != "" {
		modified = p.Modified
	}
	if p.Untracked != "" {
		untracked = p.Untracked
	}
	if p.Missing != "" {
		missing = p.Missing
	}

	var plan reconcile.Plan
	var err error
	if plan.Modified, err = reconcile.ParsePolicy(reconcile.Modified, modified); err != nil {
		return plan, WrapExitError(ExitCommandError, "--modified", err)
	}
	if plan.Untracked, err = reconcile.ParsePolicy(reconcile.Untracked, untracked); err != nil {
		return plan, WrapExitError(ExitCommandError, "--untracked", err)
	}
	if plan.Missing, err = reconcile.ParsePolicy(reconcile.Missing, missing); err != nil {
		return plan, WrapExitError(ExitCommandError, "--missing", err)
	}
	return plan, nil
}
