package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/report"
)

// NewShiftCommand creates the shift command group.
func NewShiftCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shift",
		Short: "Open, close and report cashier shifts",
		Long: `A shift brackets every sale on the till. Exactly one shift can be open
per till; closing it records the counted cash and card amounts and the
variance against what the shift expected.`,
	}
	cmd.AddCommand(newShiftOpenCommand(rootOpts))
	cmd.AddCommand(newShiftCloseCommand(rootOpts))
	cmd.AddCommand(newShiftCurrentCommand(rootOpts))
	cmd.AddCommand(newShiftHistoryCommand(rootOpts))
	cmd.AddCommand(newShiftReportCommand(rootOpts))
	cmd.AddCommand(newShiftExportCommand(rootOpts))
	return cmd
}

func newShiftOpenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		cashier     string
		openingCash int64
	)
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a shift on this till",
		Example: `  tillpos shift open --cashier u-1 --cash 50000
  tillpos shift open --cashier u-1 --till bar-2 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				shift, err := a.svc.OpenShift(ctx, a.cfg.Till.ID, cashier, openingCash)
				if err != nil {
					return err
				}
				return a.out.Render(shift, func(w io.Writer) error {
					fmt.Fprintf(w, "Shift %s opened on %s by %s with %d in the drawer\n",
						shift.ID, shift.TillID, shift.CashierID, shift.OpeningCash)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&cashier, "cashier", "", "cashier ID (required)")
	cmd.Flags().Int64Var(&openingCash, "cash", 0, "opening cash in the drawer")
	_ = cmd.MarkFlagRequired("cashier")
	return cmd
}

func newShiftCloseCommand(rootOpts *RootOptions) *cobra.Command {
	var closingCash, closingCard int64
	cmd := &cobra.Command{
		Use:           "close",
		Short:         "Close the open shift with the counted amounts",
		Example:       `  tillpos shift close --cash 48000 --card 12000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				sess, err := a.session(ctx)
				if err != nil {
					return err
				}
				shift, err := a.svc.CloseShift(ctx, sess, closingCash, closingCard)
				if err != nil {
					return err
				}
				return a.out.Render(shift, func(w io.Writer) error {
					return report.WriteShift(w, shift, nil)
				})
			})
		},
	}
	cmd.Flags().Int64Var(&closingCash, "cash", 0, "counted cash")
	cmd.Flags().Int64Var(&closingCard, "card", 0, "card terminal total")
	return cmd
}

func newShiftCurrentCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "current",
		Short:         "Show the open shift and its running totals",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				shift, err := a.svc.CurrentShift(ctx, a.cfg.Till.ID)
				if err != nil {
					return err
				}
				return a.out.Render(shift, func(w io.Writer) error {
					return report.WriteShift(w, shift, nil)
				})
			})
		},
	}
}

func newShiftHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:           "history",
		Short:         "List recent shifts, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				shifts, err := a.svc.ShiftHistory(ctx, limit)
				if err != nil {
					return err
				}
				if shifts == nil {
					shifts = []domain.Shift{}
				}
				return a.out.Render(shifts, func(w io.Writer) error {
					if len(shifts) == 0 {
						fmt.Fprintln(w, "No shifts recorded.")
						return nil
					}
					return report.WriteShiftHistory(w, shifts)
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of shifts")
	return cmd
}

// ShiftReport is a shift with its settlements.
type ShiftReport struct {
	Shift       domain.Shift        `json:"shift"`
	Settlements []domain.Settlement `json:"settlements"`
}

func newShiftReportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report [shift-id]",
		Short: "Print a shift's totals and settlements",
		Long: `Print a shift's per-instrument totals, its close-out and one row per
settlement. Without an ID the open shift is reported.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				var shiftID string
				if len(args) == 1 {
					shiftID = args[0]
				} else {
					current, err := a.svc.CurrentShift(ctx, a.cfg.Till.ID)
					if err != nil {
						return err
					}
					shiftID = current.ID
				}
				shift, settlements, err := a.svc.ShiftSettlements(ctx, shiftID)
				if err != nil {
					return err
				}
				if settlements == nil {
					settlements = []domain.Settlement{}
				}
				return a.out.Render(ShiftReport{Shift: shift, Settlements: settlements}, func(w io.Writer) error {
					return report.WriteShift(w, shift, settlements)
				})
			})
		},
	}
}

func newShiftExportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		output string
		limit  int
	)
	cmd := &cobra.Command{
		Use:           "export",
		Short:         "Export recent shifts and their settlements to XLSX",
		Example:       `  tillpos shift export --out shifts.xlsx --limit 31`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				shifts, err := a.svc.ShiftHistory(ctx, limit)
				if err != nil {
					return err
				}
				byShift := make(map[string][]domain.Settlement, len(shifts))
				count := 0
				for _, s := range shifts {
					_, settlements, err := a.svc.ShiftSettlements(ctx, s.ID)
					if err != nil {
						return err
					}
					byShift[s.ID] = settlements
					count += len(settlements)
				}

				f, err := os.Create(output)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to create output file", err)
				}
				if err := report.ExportXLSX(f, shifts, byShift); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("close %s: %w", output, err)
				}

				data := map[string]interface{}{"file": output, "shifts": len(shifts), "settlements": count}
				return a.out.Render(data, func(w io.Writer) error {
					fmt.Fprintf(w, "Wrote %d shifts and %d settlements to %s\n", len(shifts), count, output)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "out", "o", "shifts.xlsx", "output file")
	cmd.Flags().IntVar(&limit, "limit", 31, "maximum number of shifts")
	return cmd
}
