package till

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/logging"
	"github.com/roach88/tillpos/internal/notify"
	"github.com/roach88/tillpos/internal/reconcile"
	"github.com/roach88/tillpos/internal/store"
	"github.com/roach88/tillpos/internal/syncwire"
)

// SettleRequest is the operator's payment for a table.
type SettleRequest struct {
	Tenders []domain.Tender

	// CustomerID overrides the customer attached to the order. Empty keeps
	// the order's own.
	CustomerID string

	// Bonus is the cashback the customer asks to redeem.
	Bonus int64
}

// SettleResult is a committed settlement. PrintErr reports a receipt that
// failed to print; the settlement stands regardless.
type SettleResult struct {
	Settlement domain.Settlement
	Shift      domain.Shift
	PrintErr   error
}

// Settle pays the table's order.
//
// The table moves to payment first. If reconciliation rejects the tenders,
// that transition is the only thing committed and the rejection is
// returned: the table stays in payment for the operator to retry. On success
// one transaction writes the settlement, the customer's bonus and debt, the
// shift totals and both outbox entries, then clears the order and frees the
// table.
func (s *Service) Settle(ctx context.Context, sess Session, tableID string, req SettleRequest) (SettleResult, error) {
	var (
		res       SettleResult
		rejection error
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		shift, err := tx.OpenShift(ctx, sess.TillID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Errorf(domain.CodeNoOpenShift, "till %s has no open shift", sess.TillID)
		}
		if err != nil {
			return err
		}
		if sess.ShiftID != "" && sess.ShiftID != shift.ID {
			return domain.Errorf(domain.CodeNoOpenShift, "shift %s is no longer open on till %s", sess.ShiftID, sess.TillID)
		}

		t, o, err := loadOrder(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if t.Status != domain.TablePayment {
			if err := setTable(ctx, tx, t, domain.TablePayment, o.ID); err != nil {
				return err
			}
			t.Version++
		}

		if req.CustomerID != "" {
			o.CustomerID = req.CustomerID
		}
		customer, err := orderCustomer(ctx, tx, o)
		if err != nil {
			return err
		}
		result, err := reconcile.Reconcile(reconcile.Request{
			Lines:                reconcile.LinesFromItems(o.Items),
			ServiceChargePercent: s.serviceCharge,
			Customer:             customer,
			BonusRequested:       req.Bonus,
			Tenders:              req.Tenders,
		})
		if err != nil {
			rejection = err
			return nil
		}

		if o.CheckNumber == 0 {
			if o.CheckNumber, err = tx.NextCounter(ctx, checkCounter); err != nil {
				return err
			}
		}
		items, err := itemsSnapshot(o.Items)
		if err != nil {
			return err
		}
		st := domain.Settlement{
			ID:            s.ids.NewID(),
			OrderID:       o.ID,
			TableID:       t.ID,
			TableName:     t.Name,
			ShiftID:       shift.ID,
			TillID:        sess.TillID,
			CashierID:     sess.CashierID,
			CheckNumber:   o.CheckNumber,
			CustomerID:    o.CustomerID,
			Subtotal:      result.Subtotal,
			ServiceCharge: result.ServiceCharge,
			Discount:      result.Discount,
			DiscountKind:  result.DiscountKind,
			Payable:       result.Payable,
			Tenders:       result.Tenders,
			Items:         items,
			SettledAt:     s.now(),
		}
		if err := tx.InsertSettlement(ctx, st); err != nil {
			return err
		}

		if customer != nil && (result.BonusUsed > 0 || result.DebtAdded > 0) {
			err := tx.AdjustCustomer(ctx, customer.ID, result.BonusUsed, result.DebtAdded)
			if errors.Is(err, store.ErrNotFound) {
				return domain.Errorf(domain.CodeConflict, "customer %s balance changed during settlement", customer.ID)
			}
			if err != nil {
				return err
			}
		}

		shift = recordSettlement(shift, st)
		if err := tx.UpdateShift(ctx, shift); err != nil {
			return err
		}

		if err := s.appendOutbox(ctx, tx, syncwire.SaleFromSettlement(st), domain.ActionCreate); err != nil {
			return err
		}
		if err := s.appendOutbox(ctx, tx, syncwire.ShiftFromDomain(shift), domain.ActionUpdate); err != nil {
			return err
		}

		if err := tx.DeleteOrder(ctx, o.ID); err != nil {
			return err
		}
		if err := setTable(ctx, tx, t, domain.TableFree, ""); err != nil {
			return err
		}

		res = SettleResult{Settlement: st, Shift: shift}
		return nil
	})
	if err != nil {
		return SettleResult{}, err
	}
	if rejection != nil {
		s.publish(ctx, sess, notify.TableChanged, tableID)
		return SettleResult{}, rejection
	}

	st := res.Settlement
	s.publish(ctx, sess, notify.SettlementRecorded, st.ID)
	s.publish(ctx, sess, notify.ShiftChanged, res.Shift.ID)
	s.publish(ctx, sess, notify.TableChanged, tableID)
	s.logger.WithFields(logrus.Fields{
		"settlement": st.ID,
		"table":      tableID,
		"check":      st.CheckNumber,
		"payable":    st.Payable,
		"discount":   st.Discount,
	}).Info("order settled")

	if s.printer != nil {
		if err := s.printer.PrintReceipt(ctx, st); err != nil {
			res.PrintErr = fmt.Errorf("print receipt %d: %w", st.CheckNumber, err)
			logging.LogError(s.logger, "till", "Settle", "print receipt", st.ID, err)
		}
	}
	return res, nil
}

// Quote prices the table's order as it would settle now, without tenders.
// bonus is the cashback the customer would redeem.
func (s *Service) Quote(ctx context.Context, tableID, customerID string, bonus int64) (reconcile.Quote, error) {
	var q reconcile.Quote
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		_, o, err := loadOrder(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if customerID != "" {
			o.CustomerID = customerID
		}
		customer, err := orderCustomer(ctx, tx, o)
		if err != nil {
			return err
		}
		q, err = s.price(o, customer, bonus)
		return err
	})
	return q, err
}

func (s *Service) price(o domain.Order, customer *domain.Customer, bonus int64) (reconcile.Quote, error) {
	return reconcile.Price(reconcile.Request{
		Lines:                reconcile.LinesFromItems(o.Items),
		ServiceChargePercent: s.serviceCharge,
		Customer:             customer,
		BonusRequested:       bonus,
	})
}
