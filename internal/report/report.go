// Package report renders shift and sync data for operators: text tables on
// the terminal and an XLSX workbook for the back office. It only reads what
// the till already recorded.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/syncer"
)

const timeLayout = "2006-01-02 15:04"

// WriteShift prints a shift's per-instrument totals, its close-out when
// closed, and one row per settlement.
func WriteShift(w io.Writer, shift domain.Shift, settlements []domain.Settlement) error {
	fmt.Fprintf(w, "Shift %s  till %s  cashier %s\n", shift.ID, shift.TillID, shift.CashierID)
	fmt.Fprintf(w, "Opened %s", shift.OpenedAt.Format(timeLayout))
	if shift.ClosedAt != nil {
		fmt.Fprintf(w, "  closed %s", shift.ClosedAt.Format(timeLayout))
	}
	fmt.Fprintln(w)

	totals := tablewriter.NewWriter(w)
	totals.Header("Instrument", "Amount")
	for _, i := range domain.Instruments {
		if err := totals.Append(string(i), money(shift.Totals.Get(i))); err != nil {
			return err
		}
	}
	rows := [][]string{
		{"sales", money(shift.TotalSales)},
		{"settlements", strconv.FormatInt(shift.SettlementCount, 10)},
		{"opening cash", money(shift.OpeningCash)},
		{"expected cash", money(shift.ExpectedCash())},
	}
	if shift.ClosedAt != nil {
		rows = append(rows,
			[]string{"closing cash", optMoney(shift.ClosingCash)},
			[]string{"cash variance", optMoney(shift.CashVariance)},
			[]string{"drawer variance", optMoney(shift.DrawerVariance())},
			[]string{"closing card", optMoney(shift.ClosingCard)},
			[]string{"card variance", optMoney(shift.CardVariance)},
		)
	}
	for _, r := range rows {
		if err := totals.Append(r[0], r[1]); err != nil {
			return err
		}
	}
	if err := totals.Render(); err != nil {
		return fmt.Errorf("render shift totals: %w", err)
	}

	if len(settlements) == 0 {
		return nil
	}
	list := tablewriter.NewWriter(w)
	list.Header("Check", "Table", "Time", "Subtotal", "Service", "Discount", "Payable", "Tenders")
	for _, st := range settlements {
		err := list.Append(
			strconv.FormatInt(st.CheckNumber, 10),
			st.TableName,
			st.SettledAt.Format("15:04"),
			money(st.Subtotal),
			money(st.ServiceCharge),
			money(st.Discount),
			money(st.Payable),
			tenders(st.Tenders),
		)
		if err != nil {
			return err
		}
	}
	if err := list.Render(); err != nil {
		return fmt.Errorf("render settlements: %w", err)
	}
	return nil
}

// WriteShiftHistory prints one row per shift, newest first as given.
func WriteShiftHistory(w io.Writer, shifts []domain.Shift) error {
	table := tablewriter.NewWriter(w)
	table.Header("Shift", "Till", "Cashier", "Opened", "Closed", "Sales", "Count", "Cash var", "Card var")
	for _, s := range shifts {
		closed := "open"
		if s.ClosedAt != nil {
			closed = s.ClosedAt.Format(timeLayout)
		}
		err := table.Append(
			s.ID, s.TillID, s.CashierID,
			s.OpenedAt.Format(timeLayout), closed,
			money(s.TotalSales),
			strconv.FormatInt(s.SettlementCount, 10),
			optMoney(s.CashVariance), optMoney(s.CardVariance),
		)
		if err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render shift history: %w", err)
	}
	return nil
}

// WriteSyncStatus prints the sync indicator.
func WriteSyncStatus(w io.Writer, st syncer.Status) error {
	state := "offline"
	if st.Online {
		state = "online"
	}
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	rows := [][]string{
		{"state", state},
		{"pending", strconv.Itoa(st.Pending)},
		{"last attempt", stamp(st.LastAttempt)},
		{"last success", stamp(st.LastSuccess)},
		{"last error", st.LastError},
	}
	for _, r := range rows {
		if err := table.Append(r[0], r[1]); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render sync status: %w", err)
	}
	return nil
}

func money(v int64) string {
	return strconv.FormatInt(v, 10)
}

func optMoney(v *int64) string {
	if v == nil {
		return "-"
	}
	return money(*v)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func tenders(ts []domain.Tender) string {
	out := ""
	for i, t := range ts {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s:%d", t.Instrument, t.Amount)
	}
	return out
}
