package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/syncer"
)

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func ptr(v int64) *int64 { return &v }

func closedShift() domain.Shift {
	closedAt := testEpoch.Add(8 * time.Hour)
	return domain.Shift{
		ID:              "s-1",
		TillID:          "till-1",
		CashierID:       "u-1",
		OpenedAt:        testEpoch,
		ClosedAt:        &closedAt,
		OpeningCash:     1000,
		Totals:          domain.ShiftTotals{Cash: 7000, Card: 3000},
		TotalSales:      10000,
		SettlementCount: 2,
		ClosingCash:     ptr(6000),
		ClosingCard:     ptr(3000),
		CashVariance:    ptr(-1000),
		CardVariance:    ptr(0),
	}
}

func settlements() []domain.Settlement {
	return []domain.Settlement{
		{
			ID: "st-1", ShiftID: "s-1", CheckNumber: 1, TableName: "Table 1", Subtotal: 7000, Payable: 7000,
			DiscountKind: domain.DiscountNone, SettledAt: testEpoch.Add(time.Hour),
			Tenders: []domain.Tender{{Instrument: domain.InstrumentCash, Amount: 7000}},
		},
		{
			ID: "st-2", ShiftID: "s-1", CheckNumber: 2, TableName: "Table 2", Subtotal: 3000, Payable: 3000,
			DiscountKind: domain.DiscountNone, SettledAt: testEpoch.Add(2 * time.Hour),
			Tenders: []domain.Tender{{Instrument: domain.InstrumentCard, Amount: 3000}},
		},
	}
}

func TestWriteShift(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteShift(&buf, closedShift(), settlements()))

	out := buf.String()
	assert.Contains(t, out, "Shift s-1  till till-1  cashier u-1")
	assert.Contains(t, out, "closed 2026-03-14 17:00")
	assert.Contains(t, out, "expected cash")
	assert.Contains(t, out, "8000")
	assert.Contains(t, out, "-1000")
	assert.Contains(t, out, "drawer variance")
	assert.Contains(t, out, "-2000")
	assert.Contains(t, out, "Table 2")
	assert.Contains(t, out, "card:3000")
}

func TestWriteShift_OpenShiftHasNoCloseOut(t *testing.T) {
	s := closedShift()
	s.ClosedAt, s.ClosingCash, s.CashVariance = nil, nil, nil

	var buf bytes.Buffer
	require.NoError(t, WriteShift(&buf, s, nil))
	assert.NotContains(t, buf.String(), "cash variance")
	assert.NotContains(t, buf.String(), "Table 1")
}

func TestWriteShiftHistory(t *testing.T) {
	open := domain.Shift{ID: "s-2", TillID: "till-1", CashierID: "u-2", OpenedAt: testEpoch.Add(9 * time.Hour)}

	var buf bytes.Buffer
	require.NoError(t, WriteShiftHistory(&buf, []domain.Shift{open, closedShift()}))

	out := buf.String()
	assert.Contains(t, out, "s-2")
	assert.Contains(t, out, "open")
	assert.Contains(t, out, "-1000")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("s-2")), bytes.Index(buf.Bytes(), []byte("s-1")))
}

func TestWriteSyncStatus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSyncStatus(&buf, syncer.Status{Pending: 4, LastError: "connection refused"}))
	out := buf.String()
	assert.Contains(t, out, "offline")
	assert.Contains(t, out, "4")
	assert.Contains(t, out, "never")
	assert.Contains(t, out, "connection refused")
}

func TestExportXLSX(t *testing.T) {
	var buf bytes.Buffer
	s := closedShift()
	require.NoError(t, ExportXLSX(&buf, []domain.Shift{s}, map[string][]domain.Settlement{s.ID: settlements()}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(ShiftsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Shift", rows[0][0])
	assert.Equal(t, "s-1", rows[1][0])
	assert.Equal(t, "7000", rows[1][6])
	assert.Equal(t, "-1000", rows[1][13])

	rows, err = f.GetRows(SettlementsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "st-1", rows[1][0])
	assert.Equal(t, "7000", rows[1][11])
	assert.Equal(t, "3000", rows[2][12])
}
