package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"coachcal/internal/calsync"
	appLog "coachcal/internal/log"
	"coachcal/internal/schedule"
	"coachcal/internal/web"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath string
	listen     string
	debug      bool
	jsonOutput bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "coachcal",
		Short:         "Keep your calendar in step with your training plan",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "/etc/coachcal/config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.listen, "listen", "", "HTTP listen address (overrides config if set)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "debug logging")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newSyncSessionCommand(opts))
	cmd.AddCommand(newClearCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newEnableCommand(opts, true))
	cmd.AddCommand(newEnableCommand(opts, false))
	cmd.AddCommand(newServeCommand(opts))

	return cmd
}

// withApp opens the app for one command and reports its error on stderr.
func withApp(opts *rootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(opts, cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return err
	}
	defer a.Close()

	if err := fn(cmd.Context(), a); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return err
	}
	return nil
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the calendar with the active schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				sum, err := a.runner.RunOnce(ctx, "cli")
				if err != nil {
					return err
				}
				return printSummary(cmd.OutOrStdout(), opts, sum)
			})
		},
	}
}

func newSyncSessionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-session <id>",
		Short: "Push one session of the active schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				sum, err := a.runner.SyncSession(ctx, args[0])
				if err != nil {
					return err
				}
				return printSummary(cmd.OutOrStdout(), opts, sum)
			})
		},
	}
}

func newClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every synced session from the calendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				sum, err := a.runner.Clear(ctx)
				if err != nil {
					return err
				}
				return printSummary(cmd.OutOrStdout(), opts, sum)
			})
		},
	}
}

type statusOutput struct {
	Enabled     bool       `json:"enabled"`
	Access      string     `json:"access"`
	ContainerID string     `json:"container_id,omitempty"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
	Mapped      int        `json:"mapped_sessions"`
	Schedule    string     `json:"schedule"`
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync settings and the mapping table size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				m, err := a.engine.Mapping(ctx)
				if err != nil {
					return err
				}
				out := statusOutput{
					Enabled:     a.state.Enabled(),
					Access:      a.engine.Gate().State().String(),
					ContainerID: a.state.ContainerID(),
					Mapped:      len(m),
					Schedule:    a.provider.Path(),
				}
				if ts := a.state.LastSync(); !ts.IsZero() {
					out.LastSync = &ts
				}

				w := cmd.OutOrStdout()
				if opts.jsonOutput {
					return writeJSON(w, out)
				}
				fmt.Fprintf(w, "enabled:     %t\n", out.Enabled)
				fmt.Fprintf(w, "access:      %s\n", out.Access)
				fmt.Fprintf(w, "calendar:    %s\n", orDash(out.ContainerID))
				if out.LastSync != nil {
					fmt.Fprintf(w, "last sync:   %s\n", out.LastSync.In(a.loc).Format(time.RFC3339))
				} else {
					fmt.Fprintln(w, "last sync:   -")
				}
				fmt.Fprintf(w, "mapped:      %d\n", out.Mapped)
				fmt.Fprintf(w, "schedule:    %s\n", out.Schedule)
				return nil
			})
		},
	}
}

func newEnableCommand(opts *rootOptions, on bool) *cobra.Command {
	use, short := "enable", "Allow sync passes to run"
	if !on {
		use, short = "disable", "Stop sync passes without touching the calendar"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				if err := a.state.SetEnabled(on); err != nil {
					return err
				}
				appLog.Info("sync enablement changed", "enabled", on)
				fmt.Fprintf(cmd.OutOrStdout(), "sync %sd\n", use)
				return nil
			})
		},
	}
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run periodic sync, the schedule watcher and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				appLog.Info("coachcal starting", "version", version, "listen", a.cfg.Listen)

				g, ctx := errgroup.WithContext(ctx)

				var changes <-chan struct{}
				if a.cfg.Sync.Watch {
					w, err := schedule.NewWatcher(a.cfg.SchedulePath, schedule.DefaultDebounce)
					if err != nil {
						return err
					}
					changes = w.Changes()
					g.Go(func() error {
						w.Run(ctx)
						return nil
					})
				}

				g.Go(func() error { return a.runner.Serve(ctx, changes) })

				srv := web.NewServer(&a.cfg, a.runner, a.state, a.engine.Gate().State)
				g.Go(func() error { return srv.Run(ctx) })

				err := g.Wait()
				appLog.Info("coachcal exiting")
				return err
			})
		},
	}
}

func printSummary(w io.Writer, opts *rootOptions, sum calsync.Summary) error {
	if opts.jsonOutput {
		return writeJSON(w, sum)
	}
	_, err := fmt.Fprintf(w, "calendar %s: %d created, %d updated, %d unchanged, %d removed, %d skipped, %d soft failures\n",
		sum.ContainerID, sum.Created, sum.Updated, sum.Unchanged, sum.Removed, sum.Skipped, sum.SoftFailures)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
