package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/reconcile"
)

// QuoteView is the JSON form of a priced order.
type QuoteView struct {
	Subtotal      int64               `json:"subtotal"`
	ServiceCharge int64               `json:"service_charge"`
	Discount      int64               `json:"discount"`
	DiscountKind  domain.DiscountKind `json:"discount_kind"`
	Payable       int64               `json:"payable"`
}

func quoteView(q reconcile.Quote) QuoteView {
	return QuoteView{
		Subtotal:      q.Subtotal,
		ServiceCharge: q.ServiceCharge,
		Discount:      q.Discount,
		DiscountKind:  q.DiscountKind,
		Payable:       q.Payable,
	}
}

func writeQuote(w io.Writer, q QuoteView) {
	fmt.Fprintf(w, "  subtotal        %d\n", q.Subtotal)
	fmt.Fprintf(w, "  service charge  %d\n", q.ServiceCharge)
	if q.Discount != 0 {
		fmt.Fprintf(w, "  %-15s %d\n", q.DiscountKind, -q.Discount)
	}
	fmt.Fprintf(w, "  payable         %d\n", q.Payable)
}

// NewOrderCommand creates the order command group.
func NewOrderCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Add, return and move order lines",
		Long: `Operate on the open order of a table. The first line added to a free
table opens its order; cancelling, settling or removing the last line
frees the table again. Every command needs an open shift.`,
	}
	cmd.AddCommand(newOrderShowCommand(rootOpts))
	cmd.AddCommand(newOrderAddCommand(rootOpts))
	cmd.AddCommand(newOrderRemoveCommand(rootOpts))
	cmd.AddCommand(newOrderReturnCommand(rootOpts))
	cmd.AddCommand(newOrderCheckCommand(rootOpts))
	cmd.AddCommand(newOrderCancelCommand(rootOpts))
	cmd.AddCommand(newOrderMoveCommand(rootOpts))
	cmd.AddCommand(newOrderMergeCommand(rootOpts))
	cmd.AddCommand(newOrderCustomerCommand(rootOpts))
	cmd.AddCommand(newOrderGuestsCommand(rootOpts))
	cmd.AddCommand(newOrderQuoteCommand(rootOpts))
	return cmd
}

func parseQty(s string) (decimal.Decimal, error) {
	qty, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, domain.Errorf(domain.CodeInvalidQuantity, "quantity %q is not a number", s)
	}
	return qty, nil
}

func newOrderShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <table>",
		Short:         "Show the open order of a table",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				order, err := a.svc.OrderForTable(ctx, args[0])
				if err != nil {
					return err
				}
				return a.out.Render(order, func(w io.Writer) error {
					fmt.Fprintf(w, "Order %s on %s (%d guests)\n", order.ID, order.TableID, order.Guests)
					for _, it := range order.Items {
						fmt.Fprintf(w, "  %-12s %-24s %6s x %d\n", it.ID, it.Name, it.Qty, it.UnitPrice)
					}
					fmt.Fprintf(w, "  total %d\n", order.Total())
					return nil
				})
			})
		},
	}
}

func newOrderAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <table> <product> [qty]",
		Short: "Add a product to a table's order",
		Example: `  tillpos order add t-1 p-plov
  tillpos order add t-1 p-tea 0.5`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				qty := decimal.NewFromInt(1)
				if len(args) == 3 {
					var err error
					if qty, err = parseQty(args[2]); err != nil {
						return err
					}
				}
				sess, err := a.session(ctx)
				if err != nil {
					return err
				}
				item, err := a.svc.AddItem(ctx, sess, args[0], args[1], qty)
				if err != nil {
					return err
				}
				return a.out.Render(item, func(w io.Writer) error {
					fmt.Fprintf(w, "Added %s x %s to %s (item %s)\n", item.Qty, item.Name, args[0], item.ID)
					return nil
				})
			})
		},
	}
}

func newOrderRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <item>",
		Short:         "Remove a line that was not served",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				sess, err := a.session(ctx)
				if err != nil {
					return err
				}
				if err := a.svc.RemoveItem(ctx, sess, args[0]); err != nil {
					return err
				}
				return a.out.Render(map[string]string{"removed": args[0]}, func(w io.Writer) error {
					fmt.Fprintf(w, "Removed item %s\n", args[0])
					return nil
				})
			})
		},
	}
}

func newOrderReturnCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:           "return <item> <qty>",
		Short:         "Take back part or all of a line",
		Example:       `  tillpos order return it-7 1 --reason "cold"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				qty, err := parseQty(args[1])
				if err != nil {
					return err
				}
				sess, err := a.session(ctx)
				if err != nil {
					return err
				}
				ret, err := a.svc.ReturnItem(ctx, sess, args[0], qty, reason)
				if err != nil {
					return err
				}
				return a.out.Render(ret, func(w io.Writer) error {
					fmt.Fprintf(w, "Returned %s of item %s\n", ret.Qty, ret.OrderItemID)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the line came back")
	return cmd
}

// CheckView is the JSON form of a printed check.
type CheckView struct {
	TableID     string             `json:"table_id"`
	Status      domain.TableStatus `json:"status"`
	CheckNumber int64              `json:"check_number"`
	Quote       QuoteView          `json:"quote"`
}

func newOrderCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "check <table>",
		Short:         "Print the check and move the table to payment",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				sess, err := a.session(ctx)
				if err != nil {
					return err
				}
				check, err := a.svc.PrintCheck(ctx, sess, args[0])
				if check.Order.ID == "" && err != nil {
					return err
				}
				if err != nil {
					// The table is in payment; only the paper failed.
					a.logger.WithError(err).Warn("check not printed")
				}
				view := CheckView{
					TableID:     check.Table.ID,
					Status:      check.Table.Status,
					CheckNumber: check.Order.CheckNumber,
					Quote:       quoteView(check.Quote),
				}
				return a.out.Render(view, func(w io.Writer) error {
					fmt.Fprintf(w, "Check #%d for %s\n", view.CheckNumber, view.TableID)
					writeQuote(w, view.Quote)
					return nil
				})
			})
		},
	}
}

func newOrderCancelCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:           "cancel <table>",
		Short:         "Void the table's order and free the table",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				sess, err := a.session(ctx)
				if err != nil {
					return err
				}
				cancelled, err := a.svc.CancelOrder(ctx, sess, args[0], reason)
				if err != nil {
					return err
				}
				return a.out.Render(cancelled, func(w io.Writer) error {
					fmt.Fprintf(w, "Cancelled order %s on %s (total %d)\n", cancelled.OrderID, cancelled.TableName, cancelled.Total)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the order was voided")
	return cmd
}

// twoTables builds move and merge, which share their shape.
func twoTables(rootOpts *RootOptions, use, short, done string, op func(ctx context.Context, a *tillApp, from, to string) error) *cobra.Command {
	return &cobra.Command{
		Use:           use + " <from-table> <to-table>",
		Short:         short,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				if err := op(ctx, a, args[0], args[1]); err != nil {
					return err
				}
				return a.out.Render(map[string]string{"from": args[0], "to": args[1]}, func(w io.Writer) error {
					fmt.Fprintf(w, "%s %s to %s\n", done, args[0], args[1])
					return nil
				})
			})
		},
	}
}

func newOrderMoveCommand(rootOpts *RootOptions) *cobra.Command {
	return twoTables(rootOpts, "move", "Move an order to a free table", "Moved",
		func(ctx context.Context, a *tillApp, from, to string) error {
			sess, err := a.session(ctx)
			if err != nil {
				return err
			}
			return a.svc.MoveOrder(ctx, sess, from, to)
		})
}

func newOrderMergeCommand(rootOpts *RootOptions) *cobra.Command {
	return twoTables(rootOpts, "merge", "Merge an order into another table's order", "Merged",
		func(ctx context.Context, a *tillApp, from, to string) error {
			sess, err := a.session(ctx)
			if err != nil {
				return err
			}
			return a.svc.MergeOrders(ctx, sess, from, to)
		})
}

func newOrderCustomerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "customer <table> [customer]",
		Short:         "Attach a loyalty customer, or detach with no ID",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				customer := ""
				if len(args) == 2 {
					customer = args[1]
				}
				sess, err := a.session(ctx)
				if err != nil {
					return err
				}
				if err := a.svc.SetCustomer(ctx, sess, args[0], customer); err != nil {
					return err
				}
				return a.out.Render(map[string]string{"table": args[0], "customer": customer}, func(w io.Writer) error {
					if customer == "" {
						fmt.Fprintf(w, "Detached customer from %s\n", args[0])
						return nil
					}
					fmt.Fprintf(w, "Attached %s to %s\n", customer, args[0])
					return nil
				})
			})
		},
	}
}

func newOrderGuestsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "guests <table> <count>",
		Short:         "Record how many guests are seated",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				guests, err := strconv.Atoi(args[1])
				if err != nil {
					return domain.Errorf(domain.CodeInvalidQuantity, "guest count %q is not a number", args[1])
				}
				sess, err := a.session(ctx)
				if err != nil {
					return err
				}
				if err := a.svc.SetGuests(ctx, sess, args[0], guests); err != nil {
					return err
				}
				return a.out.Render(map[string]interface{}{"table": args[0], "guests": guests}, func(w io.Writer) error {
					fmt.Fprintf(w, "%s seats %d\n", args[0], guests)
					return nil
				})
			})
		},
	}
}

func newOrderQuoteCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		customer string
		bonus    int64
	)
	cmd := &cobra.Command{
		Use:           "quote <table>",
		Short:         "Price the order without settling it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				q, err := a.svc.Quote(ctx, args[0], customer, bonus)
				if err != nil {
					return err
				}
				view := quoteView(q)
				return a.out.Render(view, func(w io.Writer) error {
					fmt.Fprintf(w, "Quote for %s\n", args[0])
					writeQuote(w, view)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "price for this customer instead of the order's")
	cmd.Flags().Int64Var(&bonus, "bonus", 0, "cashback bonus to redeem")
	return cmd
}
