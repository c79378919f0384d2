package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tillpos/internal/domain"
)

// ErrShiftOpen is returned by InsertShift when the till already has an
// open shift.
var ErrShiftOpen = errors.New("till already has an open shift")

const shiftColumns = `id, till_id, cashier_id, opened_at, closed_at, opening_cash,
	total_cash, total_card, total_transfer, total_debt, total_sales, settlement_count,
	closing_cash, closing_card, cash_variance, card_variance`

func scanShift(row rowScanner) (domain.Shift, error) {
	var (
		s                  domain.Shift
		openedAt           string
		closedAt           sql.NullString
		closeCash, closeCd sql.NullInt64
		varCash, varCard   sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.TillID, &s.CashierID, &openedAt, &closedAt, &s.OpeningCash,
		&s.Totals.Cash, &s.Totals.Card, &s.Totals.Transfer, &s.Totals.Debt, &s.TotalSales, &s.SettlementCount,
		&closeCash, &closeCd, &varCash, &varCard)
	if err != nil {
		return domain.Shift{}, err
	}
	if s.OpenedAt, err = parseTime(openedAt); err != nil {
		return domain.Shift{}, err
	}
	if s.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return domain.Shift{}, err
	}
	s.ClosingCash = intPtr(closeCash)
	s.ClosingCard = intPtr(closeCd)
	s.CashVariance = intPtr(varCash)
	s.CardVariance = intPtr(varCard)
	return s, nil
}

// InsertShift stores a newly opened shift. Returns ErrShiftOpen if the
// till's open-shift index already holds one.
func (q queries) InsertShift(ctx context.Context, s domain.Shift) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO shifts (id, till_id, cashier_id, opened_at, opening_cash)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.TillID, s.CashierID, formatTime(s.OpenedAt), s.OpeningCash)
	if err != nil {
		if isUniqueViolationOn(err, "shifts.till_id") {
			return fmt.Errorf("insert shift for till %q: %w", s.TillID, ErrShiftOpen)
		}
		return fmt.Errorf("insert shift: %w", err)
	}
	return nil
}

// UpdateShift writes the shift's accumulators and close-out fields.
func (q queries) UpdateShift(ctx context.Context, s domain.Shift) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE shifts SET
			closed_at = ?,
			total_cash = ?, total_card = ?, total_transfer = ?, total_debt = ?,
			total_sales = ?, settlement_count = ?,
			closing_cash = ?, closing_card = ?, cash_variance = ?, card_variance = ?
		WHERE id = ?
	`, formatNullTime(s.ClosedAt),
		s.Totals.Cash, s.Totals.Card, s.Totals.Transfer, s.Totals.Debt,
		s.TotalSales, s.SettlementCount,
		nullInt(s.ClosingCash), nullInt(s.ClosingCard), nullInt(s.CashVariance), nullInt(s.CardVariance),
		s.ID)
	if err != nil {
		return fmt.Errorf("update shift: %w", err)
	}
	return expectOne(res, "shift", s.ID)
}

// Shift returns a shift by ID.
func (q queries) Shift(ctx context.Context, id string) (domain.Shift, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = ?`, id)
	s, err := scanShift(row)
	if err != nil {
		return domain.Shift{}, notFound(err, "shift", id)
	}
	return s, nil
}

// OpenShift returns the till's open shift.
func (q queries) OpenShift(ctx context.Context, tillID string) (domain.Shift, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE till_id = ? AND closed_at IS NULL
	`, tillID)
	s, err := scanShift(row)
	if err != nil {
		return domain.Shift{}, notFound(err, "open shift for till", tillID)
	}
	return s, nil
}

// Shifts returns up to limit shifts, most recently opened first.
// A limit of zero or less returns all of them.
func (q queries) Shifts(ctx context.Context, limit int) ([]domain.Shift, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		ORDER BY opened_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query shifts: %w", err)
	}
	defer rows.Close()

	shifts := []domain.Shift{}
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shift: %w", err)
		}
		shifts = append(shifts, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shifts: %w", err)
	}
	return shifts, nil
}
