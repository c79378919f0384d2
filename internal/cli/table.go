package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/roach88/tillpos/internal/domain"
)

// NewTableCommand creates the table command group.
func NewTableCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Show the floor and manage reservations",
	}
	cmd.AddCommand(newTableListCommand(rootOpts))
	cmd.AddCommand(newTableReserveCommand(rootOpts, true))
	cmd.AddCommand(newTableReserveCommand(rootOpts, false))
	return cmd
}

func newTableListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List every table with its status and running total",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				tables, err := a.svc.Tables(ctx)
				if err != nil {
					return err
				}
				if tables == nil {
					tables = []domain.Table{}
				}
				return a.out.Render(tables, func(w io.Writer) error {
					return writeTables(w, tables)
				})
			})
		},
	}
}

func writeTables(w io.Writer, tables []domain.Table) error {
	tw := tablewriter.NewWriter(w)
	tw.Header("Table", "Hall", "Name", "Status", "Total")
	for _, t := range tables {
		if err := tw.Append(t.ID, t.HallID, t.Name, string(t.Status), strconv.FormatInt(t.Total, 10)); err != nil {
			return err
		}
	}
	return tw.Render()
}

func newTableReserveCommand(rootOpts *RootOptions, reserve bool) *cobra.Command {
	use, short, done := "reserve", "Reserve a free table", "Reserved"
	if !reserve {
		use, short, done = "unreserve", "Release a reservation", "Released"
	}
	return &cobra.Command{
		Use:           use + " <table>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				sess, err := a.session(ctx)
				if err != nil {
					return err
				}
				if reserve {
					err = a.svc.Reserve(ctx, sess, args[0])
				} else {
					err = a.svc.Unreserve(ctx, sess, args[0])
				}
				if err != nil {
					return err
				}
				t, err := a.svc.Table(ctx, args[0])
				if err != nil {
					return err
				}
				return a.out.Render(t, func(w io.Writer) error {
					fmt.Fprintf(w, "%s %s (%s)\n", done, t.Name, t.Status)
					return nil
				})
			})
		},
	}
}
