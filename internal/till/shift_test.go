package till

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillpos/internal/domain"
)

func TestOpenShift_OnePerTill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CurrentShift(ctx, "till-1")
	require.ErrorIs(t, err, domain.ErrNoOpenShift)

	shift := f.openShift(t, 10000)
	assert.True(t, shift.Open())
	assert.Equal(t, int64(10000), shift.OpeningCash)
	assert.Zero(t, shift.Totals.Sum())

	_, err = f.svc.OpenShift(ctx, "till-1", "u-2", 0)
	assert.ErrorIs(t, err, domain.ErrShiftAlreadyOpen)

	other, err := f.svc.OpenShift(ctx, "till-2", "u-2", 0)
	require.NoError(t, err, "another till is independent")
	assert.NotEqual(t, shift.ID, other.ID)

	sess, err := f.svc.Session(ctx, "till-1")
	require.NoError(t, err)
	assert.Equal(t, Session{TillID: "till-1", CashierID: "u-1", ShiftID: shift.ID}, sess)

	_, err = f.svc.OpenShift(ctx, "till-3", "u-3", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestCloseShift_RecordsVariance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openShift(t, 0)

	f.add(t, "t-1", "p-plov", "5")
	_, err := f.svc.Settle(ctx, f.sess, "t-1", SettleRequest{Tenders: []domain.Tender{cash(50000)}})
	require.NoError(t, err)

	closed, err := f.svc.CloseShift(ctx, f.sess, 48000, 0)
	require.NoError(t, err, "a variance never blocks the close")
	assert.False(t, closed.Open())
	require.NotNil(t, closed.CashVariance)
	assert.Equal(t, int64(-2000), *closed.CashVariance)
	require.NotNil(t, closed.CardVariance)
	assert.Equal(t, int64(0), *closed.CardVariance)
	assert.Equal(t, int64(50000), closed.Totals.Cash)

	_, err = f.svc.CurrentShift(ctx, "till-1")
	assert.ErrorIs(t, err, domain.ErrNoOpenShift)
	_, err = f.svc.CloseShift(ctx, f.sess, 0, 0)
	assert.ErrorIs(t, err, domain.ErrNoOpenShift)

	entries := f.outbox(t)
	last := entries[len(entries)-1]
	assert.Equal(t, domain.DataTypeShifts, last.DataType)
	assert.Equal(t, domain.ActionUpdate, last.Action)
	var payload struct {
		ClosingCash  int64 `json:"closingCash"`
		CashVariance int64 `json:"cashVariance"`
	}
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	assert.Equal(t, int64(48000), payload.ClosingCash)
	assert.Equal(t, int64(-2000), payload.CashVariance)
}

func TestCloseShift_VarianceExcludesOpeningFloat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openShift(t, 10000)

	f.add(t, "t-1", "p-plov", "5")
	_, err := f.svc.Settle(ctx, f.sess, "t-1", SettleRequest{Tenders: []domain.Tender{cash(50000)}})
	require.NoError(t, err)

	closed, err := f.svc.CloseShift(ctx, f.sess, 48000, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(-2000), *closed.CashVariance)
	assert.Equal(t, int64(0), *closed.CardVariance)

	assert.Equal(t, int64(60000), closed.ExpectedCash())
	require.NotNil(t, closed.DrawerVariance())
	assert.Equal(t, int64(-12000), *closed.DrawerVariance())
}

func TestShiftCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.openShift(t, 0)
	f.add(t, "t-1", "p-plov", "1")
	_, err := f.svc.Settle(ctx, f.sess, "t-1", SettleRequest{Tenders: []domain.Tender{cash(10000)}})
	require.NoError(t, err)
	_, err = f.svc.CloseShift(ctx, f.sess, 10000, 0)
	require.NoError(t, err)

	second := f.openShift(t, 0)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Zero(t, second.Totals.Sum(), "a new shift starts from zero")

	history, err := f.svc.ShiftHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)

	shift, settlements, err := f.svc.ShiftSettlements(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), shift.SettlementCount)
	require.Len(t, settlements, 1)
	assert.Equal(t, int64(10000), settlements[0].Payable)

	_, _, err = f.svc.ShiftSettlements(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrShiftNotFound)

	// closing with a session bound to the old shift is refused
	stale := f.sess
	stale.ShiftID = first.ID
	_, err = f.svc.CloseShift(ctx, stale, 0, 0)
	assert.ErrorIs(t, err, domain.ErrNoOpenShift)
}
