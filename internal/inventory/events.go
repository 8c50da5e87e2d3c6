package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionPostedEvent carries a completed movement to the GL posting
// bridge. The bridge only reads from it; it never mutates engine state.
type TransactionPostedEvent struct {
	Code            string
	Type            TransactionType
	ItemID          int64
	CustomerID      int64
	WarehouseID     int64
	FromWarehouseID int64
	Quantity        decimal.Decimal
	UnitCost        decimal.Decimal
	TotalCost       decimal.Decimal
	PostedAt        time.Time
}
