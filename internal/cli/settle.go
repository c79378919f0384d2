package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/till"
)

// SettleOptions holds flags for the settle command.
type SettleOptions struct {
	*RootOptions
	Cash     int64
	Card     int64
	Transfer int64
	Debt     int64
	DueDate  string
	Customer string
	Bonus    int64
}

// SettlementView is what settle reports.
type SettlementView struct {
	Settlement domain.Settlement `json:"settlement"`
	Printed    bool              `json:"printed"`
}

// NewSettleCommand creates the settle command.
func NewSettleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SettleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "settle <table>",
		Short: "Pay a table's order",
		Long: `Pay a table's order with one or more tenders.

The tenders plus any redeemed bonus must cover the payable amount
exactly. A mismatch is rejected and the table stays in payment. A debt
tender needs a customer and a due date.

Exit codes:
  0 - Settled
  1 - Rejected (AMOUNT_MISMATCH, MISSING_DEBT_INFO, NO_OPEN_SHIFT, ...)
  2 - Command error (config, database)

Examples:
  tillpos settle t-1 --cash 22000
  tillpos settle t-1 --cash 10000 --card 10000 --customer c-disc
  tillpos settle t-1 --cash 17000 --debt 5000 --customer c-tab --due-date 2026-04-01`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				return runSettle(ctx, a, opts, args[0])
			})
		},
	}

	cmd.Flags().Int64Var(&opts.Cash, "cash", 0, "cash tendered")
	cmd.Flags().Int64Var(&opts.Card, "card", 0, "card tendered")
	cmd.Flags().Int64Var(&opts.Transfer, "transfer", 0, "bank transfer tendered")
	cmd.Flags().Int64Var(&opts.Debt, "debt", 0, "amount put on the customer's tab")
	cmd.Flags().StringVar(&opts.DueDate, "due-date", "", "due date of the debt (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Customer, "customer", "", "customer to settle for (defaults to the order's)")
	cmd.Flags().Int64Var(&opts.Bonus, "bonus", 0, "cashback bonus to redeem")

	return cmd
}

// tenders builds the tender list from the flags, skipping zero amounts.
func (o *SettleOptions) tenders() ([]domain.Tender, error) {
	var tenders []domain.Tender
	for _, t := range []struct {
		instrument domain.Instrument
		amount     int64
	}{
		{domain.InstrumentCash, o.Cash},
		{domain.InstrumentCard, o.Card},
		{domain.InstrumentTransfer, o.Transfer},
		{domain.InstrumentDebt, o.Debt},
	} {
		if t.amount != 0 {
			tenders = append(tenders, domain.Tender{Instrument: t.instrument, Amount: t.amount})
		}
	}
	if o.DueDate == "" {
		return tenders, nil
	}
	due, err := time.Parse(time.DateOnly, o.DueDate)
	if err != nil {
		return nil, domain.Errorf(domain.CodeMissingDebtInfo, "due date %q is not YYYY-MM-DD", o.DueDate)
	}
	for i := range tenders {
		if tenders[i].Instrument == domain.InstrumentDebt {
			tenders[i].DueDate = &due
		}
	}
	return tenders, nil
}

func runSettle(ctx context.Context, a *tillApp, opts *SettleOptions, tableID string) error {
	tenders, err := opts.tenders()
	if err != nil {
		return err
	}
	sess, err := a.session(ctx)
	if err != nil {
		return err
	}

	res, err := a.svc.Settle(ctx, sess, tableID, till.SettleRequest{
		Tenders:    tenders,
		CustomerID: opts.Customer,
		Bonus:      opts.Bonus,
	})
	if err != nil {
		return err
	}
	if res.PrintErr != nil {
		a.logger.WithError(res.PrintErr).Warn("receipt not printed")
	}

	st := res.Settlement
	view := SettlementView{Settlement: st, Printed: res.PrintErr == nil}
	return a.out.Render(view, func(w io.Writer) error {
		fmt.Fprintf(w, "Settled check #%d on %s\n", st.CheckNumber, st.TableName)
		writeQuote(w, QuoteView{
			Subtotal:      st.Subtotal,
			ServiceCharge: st.ServiceCharge,
			Discount:      st.Discount,
			DiscountKind:  st.DiscountKind,
			Payable:       st.Payable,
		})
		for _, t := range st.Tenders {
			fmt.Fprintf(w, "  %-15s %d\n", t.Instrument, t.Amount)
		}
		return nil
	})
}
