package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// SelectLayers walks layers oldest-first and allocates the requested quantity
// across them, taking min(remaining, still needed) from each. Layers must be
// pre-sorted by (ReceiptDate, Seq); the repository guarantees that ordering.
// Returns InsufficientStockError when the layers cannot cover the request.
func SelectLayers(layers []CostLayer, required decimal.Decimal) (CostBreakdown, error) {
	if required.Sign() < 0 {
		return CostBreakdown{}, ErrInvalidQuantity
	}
	if required.IsZero() {
		return CostBreakdown{}, nil
	}

	var bd CostBreakdown
	remaining := required
	for _, layer := range layers {
		if layer.FullyConsumed || layer.RemainingQty.Sign() <= 0 {
			continue
		}
		take := decimal.Min(layer.RemainingQty, remaining)
		line := BreakdownLine{
			LayerID:     layer.ID,
			QtyUsed:     take,
			UnitCost:    layer.UnitCost,
			LineCost:    take.Mul(layer.UnitCost),
			ReceiptDate: layer.ReceiptDate,
			LotNumber:   layer.Key.LotNumber,
		}
		bd.Lines = append(bd.Lines, line)
		bd.TotalCost = bd.TotalCost.Add(line.LineCost)
		remaining = remaining.Sub(take)
		if remaining.IsZero() {
			break
		}
	}
	if remaining.Sign() > 0 {
		available := required.Sub(remaining)
		return CostBreakdown{}, &InsufficientStockError{Required: required, Available: available}
	}
	bd.AverageCost = bd.TotalCost.Div(required)
	return bd, nil
}

// AllocatedQty sums the quantity taken across all breakdown lines.
func (bd CostBreakdown) AllocatedQty() decimal.Decimal {
	total := decimal.Zero
	for _, line := range bd.Lines {
		total = total.Add(line.QtyUsed)
	}
	return total
}

// verifyBreakdown guards the layer-conservation invariant before any layer is
// touched: allocation must equal the requested quantity exactly.
func verifyBreakdown(bd CostBreakdown, required decimal.Decimal) error {
	if allocated := bd.AllocatedQty(); !allocated.Equal(required) {
		return &FIFOCalculationError{
			Reason: fmt.Sprintf("allocated %s does not match requested %s", allocated, required),
		}
	}
	return nil
}

// consumeBreakdown decrements each named layer's remaining quantity, marking
// layers fully consumed when they hit zero. A missing layer means another
// transaction consumed it after selection, which the per-key balance lock is
// supposed to prevent; it aborts the unit of work.
func consumeBreakdown(ctx context.Context, tx TxRepository, bd CostBreakdown) error {
	for _, line := range bd.Lines {
		layer, err := tx.GetLayer(ctx, line.LayerID)
		if err != nil {
			if errors.Is(err, ErrLayerNotFound) {
				return &FIFOCalculationError{
					Reason: fmt.Sprintf("layer %d disappeared before consumption", line.LayerID),
				}
			}
			return err
		}
		newRemaining := layer.RemainingQty.Sub(line.QtyUsed)
		if newRemaining.Sign() < 0 {
			return &FIFOCalculationError{
				Reason: fmt.Sprintf("layer %d over-consumed: remaining %s, used %s", layer.ID, layer.RemainingQty, line.QtyUsed),
			}
		}
		if err := tx.UpdateLayerRemaining(ctx, layer.ID, newRemaining, newRemaining.IsZero()); err != nil {
			return err
		}
	}
	return nil
}

// transferBreakdown consumes the selected source layers and recreates their
// value at the destination key. A destination layer sharing the same item,
// customer, lot, receipt date and unit cost absorbs the quantity; otherwise a
// new layer is created carrying the source receipt date and cost, so transfer
// never restarts the FIFO age clock.
func transferBreakdown(ctx context.Context, tx TxRepository, bd CostBreakdown, dst StockKey) error {
	for _, line := range bd.Lines {
		layer, err := tx.GetLayer(ctx, line.LayerID)
		if err != nil {
			if errors.Is(err, ErrLayerNotFound) {
				return &FIFOCalculationError{
					Reason: fmt.Sprintf("layer %d disappeared before transfer", line.LayerID),
				}
			}
			return err
		}
		newRemaining := layer.RemainingQty.Sub(line.QtyUsed)
		if newRemaining.Sign() < 0 {
			return &FIFOCalculationError{
				Reason: fmt.Sprintf("layer %d over-consumed: remaining %s, used %s", layer.ID, layer.RemainingQty, line.QtyUsed),
			}
		}
		if err := tx.UpdateLayerRemaining(ctx, layer.ID, newRemaining, newRemaining.IsZero()); err != nil {
			return err
		}
		if err := tx.MergeOrCreateLayer(ctx, layer, line.QtyUsed, dst); err != nil {
			return err
		}
	}
	return nil
}
