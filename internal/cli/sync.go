package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tillpos/internal/report"
	"github.com/roach88/tillpos/internal/syncer"
)

// NewSyncCommand creates the sync command group.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay committed sales, shifts and cancellations to the cloud",
		Long: `Every committed sale, shift change and cancellation is queued in the
till's outbox in the same transaction. Sync drains that outbox to the
cloud ledger in batches; a batch that fails stays queued and is sent
again. The cloud applies each item once, so resending is safe.`,
	}
	cmd.AddCommand(newSyncRunCommand(rootOpts))
	cmd.AddCommand(newSyncOnceCommand(rootOpts))
	cmd.AddCommand(newSyncStatusCommand(rootOpts))
	cmd.AddCommand(newSyncPruneCommand(rootOpts))
	return cmd
}

func newSyncRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Drain the outbox in the background until interrupted",
		Long: `Drain on start and then every sync.interval until Ctrl-C. Failed pushes
are logged and retried on the next tick; they never stop the loop.
Acknowledged entries older than sync.retention are pruned on each tick.

Till commands only queue their records. This loop notices new outbox
entries within a couple of seconds and sends them. Only one process drains
a till database at a time; sync once exits while this loop is pushing.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				eng, err := a.engine()
				if err != nil {
					return err
				}

				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(sigChan)

				go func() {
					select {
					case sig := <-sigChan:
						a.logger.WithField("signal", sig.String()).Info("received signal, shutting down")
						cancel()
					case <-ctx.Done():
					}
				}()

				go func() {
					ticker := time.NewTicker(a.cfg.Sync.Interval)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return
						case <-ticker.C:
							if _, err := eng.Prune(ctx, a.cfg.Sync.Retention); err != nil && ctx.Err() == nil {
								a.logger.WithError(err).Warn("prune failed")
							}
						}
					}
				}()

				fmt.Fprintf(a.out.GetErrWriter(), "Syncing %s to %s. Press Ctrl-C to stop.\n", a.cfg.Till.ID, a.cfg.Sync.URL)
				if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					return WrapExitError(ExitFailure, "sync loop failed", err)
				}
				return a.out.Render(eng.Status(), func(w io.Writer) error {
					return report.WriteSyncStatus(w, eng.Status())
				})
			})
		},
	}
}

func newSyncOnceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "once",
		Short:         "Drain the outbox now and report what was sent",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				eng, err := a.engine()
				if err != nil {
					return err
				}
				n, runErr := eng.RunOnce(ctx)
				status := eng.Status()
				if runErr != nil {
					if errors.Is(runErr, syncer.ErrRunInProgress) {
						return a.out.Fail(WrapExitError(ExitFailure, "another process is draining the outbox", runErr))
					}
					var rejected *syncer.RejectedError
					if errors.As(runErr, &rejected) {
						return a.out.Fail(WrapExitError(ExitFailure, "cloud rejected the batch", runErr))
					}
					return a.out.Fail(WrapExitError(ExitFailure, fmt.Sprintf("sync failed after %d entries", n), runErr))
				}
				data := map[string]interface{}{"sent": n, "status": status}
				return a.out.Render(data, func(w io.Writer) error {
					fmt.Fprintf(w, "Sent %d entries\n", n)
					return report.WriteSyncStatus(w, status)
				})
			})
		},
	}
}

func newSyncStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show how many entries wait in the outbox",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				pending, err := a.store.PendingCount(ctx)
				if err != nil {
					return err
				}
				status := syncer.Status{Pending: pending}
				return a.out.Render(status, func(w io.Writer) error {
					return report.WriteSyncStatus(w, status)
				})
			})
		},
	}
}

func newSyncPruneCommand(rootOpts *RootOptions) *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:           "prune",
		Short:         "Delete acknowledged outbox entries older than the retention",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				keep := a.cfg.Sync.Retention
				if cmd.Flags().Changed("retention") {
					keep = retention
				}
				// Pruning never pushes, so it works without a configured cloud.
				eng := syncer.New(a.store, nil, syncer.WithLogger(a.logger))
				n, err := eng.Prune(ctx, keep)
				if err != nil {
					return err
				}
				return a.out.Render(map[string]int64{"pruned": n}, func(w io.Writer) error {
					fmt.Fprintf(w, "Pruned %d sent entries\n", n)
					return nil
				})
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "keep sent entries this long (default sync.retention)")
	return cmd
}
