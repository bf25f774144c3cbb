package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/medipagos/be-payment-orders/internal/errors"
	"github.com/medipagos/be-payment-orders/internal/repository"
)

// Aggregator keeps a payment order's monetary projection consistent with its
// linked settlement records. Recomputation is a full re-scan of the link set
// rather than an incremental delta, so the projection stays correct under
// concurrent edits and manual data fixes.
type Aggregator struct{}

// AddLink links a settlement to a mutable order and recomputes all totals in
// the same transaction as the insert. The order must already be locked.
func (a Aggregator) AddLink(ctx context.Context, tx repository.Tx, order *repository.PaymentOrder, settlementID string) error {
	if !order.Status.Mutable() {
		return errors.Newf(errors.ErrCodeState,
			"cannot modify links of order with status '%s'", order.Status)
	}

	// Serialize on the settlement row before the exclusivity check. A second
	// transaction linking the same settlement to a different order blocks
	// here until this one commits, then sees the committed link. Also
	// verifies the settlement exists.
	if err := tx.LockSettlement(ctx, settlementID); err != nil {
		return err
	}

	// Settlement exclusivity: one active order per settlement.
	other, err := tx.FindActiveOrderForSettlement(ctx, settlementID, order.ID)
	if err != nil {
		return err
	}
	if other != nil {
		return errors.Newf(errors.ErrCodeConflict,
			"settlement '%s' is already linked to active order '%s'", settlementID, *other)
	}

	if err := tx.InsertLink(ctx, order.ID, settlementID); err != nil {
		return err
	}

	return a.recompute(ctx, tx, order)
}

// RemoveLink unlinks a settlement from a mutable order and recomputes totals
// symmetrically.
func (a Aggregator) RemoveLink(ctx context.Context, tx repository.Tx, order *repository.PaymentOrder, settlementID string) error {
	if !order.Status.Mutable() {
		return errors.Newf(errors.ErrCodeState,
			"cannot modify links of order with status '%s'", order.Status)
	}

	removed, err := tx.DeleteLink(ctx, order.ID, settlementID)
	if err != nil {
		return err
	}
	if !removed {
		return errors.NotFound("settlement_link", settlementID)
	}

	return a.recompute(ctx, tx, order)
}

// recompute re-scans the order's current link set, sums every monetary column
// and both counts, and writes the projection back.
func (a Aggregator) recompute(ctx context.Context, tx repository.Tx, order *repository.PaymentOrder) error {
	links, err := tx.GetLinks(ctx, order.ID)
	if err != nil {
		return err
	}

	consumo := decimal.Zero
	descuento := decimal.Zero
	subtotal := decimal.Zero
	renta := decimal.Zero
	igv := decimal.Zero
	total := decimal.Zero
	comprobantes := 0

	for _, settlementID := range links {
		amounts, err := tx.GetSettlementAmounts(ctx, settlementID)
		if err != nil {
			return err
		}
		consumo = consumo.Add(amounts.Consumo)
		descuento = descuento.Add(amounts.Descuento)
		subtotal = subtotal.Add(amounts.Subtotal)
		renta = renta.Add(amounts.Renta)
		igv = igv.Add(amounts.IGV)
		total = total.Add(amounts.Total)
		comprobantes += amounts.CantComprobantes
	}

	order.Consumo = consumo
	order.Descuento = descuento
	order.Subtotal = subtotal
	order.Renta = renta
	order.IGV = igv
	order.Total = total
	order.CantComprobantes = comprobantes
	order.CantLiquidaciones = len(links)

	return tx.UpdateOrderTotals(ctx, order)
}
