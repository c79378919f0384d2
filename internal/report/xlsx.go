package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/roach88/tillpos/internal/domain"
)

// Sheet names of the exported workbook.
const (
	ShiftsSheet      = "Shifts"
	SettlementsSheet = "Settlements"
)

var shiftHeadings = []interface{}{
	"Shift", "Till", "Cashier", "Opened", "Closed", "Opening cash",
	"Cash", "Card", "Transfer", "Debt", "Sales", "Settlements",
	"Closing cash", "Cash variance", "Closing card", "Card variance",
}

var settlementHeadings = []interface{}{
	"Settlement", "Shift", "Check", "Table", "Customer", "Settled",
	"Subtotal", "Service", "Discount", "Discount kind", "Payable",
	"Cash", "Card", "Transfer", "Debt",
}

// ExportXLSX writes a workbook with one row per shift and one row per
// settlement. settlements is keyed by shift ID.
func ExportXLSX(w io.Writer, shifts []domain.Shift, settlements map[string][]domain.Settlement) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ShiftsSheet); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	if _, err := f.NewSheet(SettlementsSheet); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}

	if err := setRow(f, ShiftsSheet, 1, shiftHeadings); err != nil {
		return err
	}
	if err := setRow(f, SettlementsSheet, 1, settlementHeadings); err != nil {
		return err
	}

	next := 2
	for i, s := range shifts {
		if err := setRow(f, ShiftsSheet, i+2, shiftCells(s)); err != nil {
			return err
		}
		for _, st := range settlements[s.ID] {
			if err := setRow(f, SettlementsSheet, next, settlementCells(st)); err != nil {
				return err
			}
			next++
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("xlsx %s row %d: %w", sheet, row, err)
	}
	return nil
}

func shiftCells(s domain.Shift) []interface{} {
	closed := ""
	if s.ClosedAt != nil {
		closed = s.ClosedAt.Format(timeLayout)
	}
	return []interface{}{
		s.ID, s.TillID, s.CashierID, s.OpenedAt.Format(timeLayout), closed, s.OpeningCash,
		s.Totals.Cash, s.Totals.Card, s.Totals.Transfer, s.Totals.Debt, s.TotalSales, s.SettlementCount,
		optCell(s.ClosingCash), optCell(s.CashVariance), optCell(s.ClosingCard), optCell(s.CardVariance),
	}
}

func settlementCells(st domain.Settlement) []interface{} {
	return []interface{}{
		st.ID, st.ShiftID, st.CheckNumber, st.TableName, st.CustomerID, st.SettledAt.Format(timeLayout),
		st.Subtotal, st.ServiceCharge, st.Discount, string(st.DiscountKind), st.Payable,
		st.AmountFor(domain.InstrumentCash), st.AmountFor(domain.InstrumentCard),
		st.AmountFor(domain.InstrumentTransfer), st.AmountFor(domain.InstrumentDebt),
	}
}

func optCell(v *int64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
