package till

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/notify"
	"github.com/roach88/tillpos/internal/store"
	"github.com/roach88/tillpos/internal/syncwire"
)

// OpenShift starts a cashier session on a till with zeroed totals.
// A till holds at most one open shift.
func (s *Service) OpenShift(ctx context.Context, tillID, cashierID string, openingCash int64) (domain.Shift, error) {
	if openingCash < 0 {
		return domain.Shift{}, domain.Errorf(domain.CodeInvalidQuantity, "opening cash must not be negative, got %d", openingCash)
	}
	shift := domain.Shift{
		ID:          s.ids.NewID(),
		TillID:      tillID,
		CashierID:   cashierID,
		OpenedAt:    s.now(),
		OpeningCash: openingCash,
	}
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertShift(ctx, shift); err != nil {
			if errors.Is(err, store.ErrShiftOpen) {
				return domain.Errorf(domain.CodeShiftAlreadyOpen, "till %s already has an open shift", tillID)
			}
			return err
		}
		return s.appendOutbox(ctx, tx, syncwire.ShiftFromDomain(shift), domain.ActionCreate)
	})
	if err != nil {
		return domain.Shift{}, err
	}

	sess := Session{TillID: tillID, CashierID: cashierID, ShiftID: shift.ID}
	s.publish(ctx, sess, notify.ShiftChanged, shift.ID)
	s.logger.WithFields(logrus.Fields{
		"shift":   shift.ID,
		"till":    tillID,
		"cashier": cashierID,
	}).Info("shift opened")
	return shift, nil
}

// CloseShift records the counted drawer and card terminal totals and closes
// the session's shift. Variances are recorded, never enforced. The opening
// float is not part of the cash variance; Shift.DrawerVariance counts it.
//
//	cash variance = closingCash - cash sales
//	card variance = closingCard - card sales
func (s *Service) CloseShift(ctx context.Context, sess Session, closingCash, closingCard int64) (domain.Shift, error) {
	var shift domain.Shift
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		shift, err = tx.OpenShift(ctx, sess.TillID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Errorf(domain.CodeNoOpenShift, "till %s has no open shift", sess.TillID)
		}
		if err != nil {
			return err
		}
		if sess.ShiftID != "" && sess.ShiftID != shift.ID {
			return domain.Errorf(domain.CodeNoOpenShift, "shift %s is no longer open on till %s", sess.ShiftID, sess.TillID)
		}

		closedAt := s.now()
		cashVariance := closingCash - shift.Totals.Cash
		cardVariance := closingCard - shift.Totals.Card
		shift.ClosedAt = &closedAt
		shift.ClosingCash = &closingCash
		shift.ClosingCard = &closingCard
		shift.CashVariance = &cashVariance
		shift.CardVariance = &cardVariance

		if err := tx.UpdateShift(ctx, shift); err != nil {
			return err
		}
		return s.appendOutbox(ctx, tx, syncwire.ShiftFromDomain(shift), domain.ActionUpdate)
	})
	if err != nil {
		return domain.Shift{}, err
	}

	s.publish(ctx, sess, notify.ShiftChanged, shift.ID)
	s.logger.WithFields(logrus.Fields{
		"shift":         shift.ID,
		"total_sales":   shift.TotalSales,
		"cash_variance": *shift.CashVariance,
		"card_variance": *shift.CardVariance,
	}).Info("shift closed")
	return shift, nil
}

// CurrentShift returns the till's open shift, or NO_OPEN_SHIFT.
func (s *Service) CurrentShift(ctx context.Context, tillID string) (domain.Shift, error) {
	shift, err := s.store.OpenShift(ctx, tillID)
	if err != nil {
		return domain.Shift{}, mapNotFound(err, domain.CodeNoOpenShift, "till %s has no open shift", tillID)
	}
	return shift, nil
}

// Session rebuilds the operating session of a till from its open shift.
func (s *Service) Session(ctx context.Context, tillID string) (Session, error) {
	shift, err := s.CurrentShift(ctx, tillID)
	if err != nil {
		return Session{}, err
	}
	return Session{TillID: shift.TillID, CashierID: shift.CashierID, ShiftID: shift.ID}, nil
}

// ShiftHistory returns up to limit shifts, most recent first.
func (s *Service) ShiftHistory(ctx context.Context, limit int) ([]domain.Shift, error) {
	return s.store.Shifts(ctx, limit)
}

// ShiftSettlements returns a shift with the settlements recorded in it.
func (s *Service) ShiftSettlements(ctx context.Context, shiftID string) (domain.Shift, []domain.Settlement, error) {
	shift, err := s.store.Shift(ctx, shiftID)
	if err != nil {
		return domain.Shift{}, nil, mapNotFound(err, domain.CodeShiftNotFound, "shift %s", shiftID)
	}
	settlements, err := s.store.SettlementsForShift(ctx, shiftID)
	if err != nil {
		return domain.Shift{}, nil, err
	}
	return shift, settlements, nil
}

// recordSettlement accumulates a settlement into its shift's totals.
func recordSettlement(shift domain.Shift, st domain.Settlement) domain.Shift {
	for _, t := range st.Tenders {
		shift.Totals = shift.Totals.Add(t.Instrument, t.Amount)
	}
	shift.TotalSales += st.Payable
	shift.SettlementCount++
	return shift
}
