package integration

import (
	"context"
	"log/slog"

	"github.com/frostline-erp/frostline-erp/internal/inventory"
	"github.com/frostline-erp/frostline-erp/jobs"
)

// GLEnqueuer submits a completed transaction for ledger posting. The voucher
// construction itself happens downstream; this side only hands the event over.
type GLEnqueuer interface {
	EnqueueGLPost(ctx context.Context, payload jobs.GLPostPayload) error
}

// Hooks wires inventory events into the general-ledger posting queue.
type Hooks struct {
	enqueuer GLEnqueuer
	logger   *slog.Logger
}

// NewHooks constructs integration hooks.
func NewHooks(enqueuer GLEnqueuer, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{enqueuer: enqueuer, logger: logger}
}

// HandleInventoryTransactionPosted forwards the completed movement to the GL
// posting queue. The engine's unit of work has already committed; a queue
// failure here is surfaced but cannot roll the movement back.
func (h *Hooks) HandleInventoryTransactionPosted(ctx context.Context, evt inventory.TransactionPostedEvent) error {
	if h.enqueuer == nil {
		return nil
	}
	payload := jobs.GLPostPayload{
		Code:            evt.Code,
		Type:            string(evt.Type),
		ItemID:          evt.ItemID,
		CustomerID:      evt.CustomerID,
		WarehouseID:     evt.WarehouseID,
		FromWarehouseID: evt.FromWarehouseID,
		Quantity:        evt.Quantity.String(),
		UnitCost:        evt.UnitCost.String(),
		TotalCost:       evt.TotalCost.String(),
		PostedAt:        evt.PostedAt,
	}
	if err := h.enqueuer.EnqueueGLPost(ctx, payload); err != nil {
		h.logger.Error("enqueue gl posting", slog.String("code", evt.Code), slog.Any("error", err))
		return err
	}
	return nil
}
