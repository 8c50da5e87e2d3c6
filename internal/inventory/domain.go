package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	// TransactionTypeReceipt represents inbound stock from a supplier or customer delivery.
	TransactionTypeReceipt TransactionType = "RECEIPT"
	// TransactionTypeIssue represents outbound stock leaving the warehouse.
	TransactionTypeIssue TransactionType = "ISSUE"
	// TransactionTypeTransfer moves stock between warehouse locations.
	TransactionTypeTransfer TransactionType = "TRANSFER"
	// TransactionTypeAdjustment indicates manual corrections, positive or negative.
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
)

// Valid reports whether t is one of the known movement types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeReceipt, TransactionTypeIssue, TransactionTypeTransfer, TransactionTypeAdjustment:
		return true
	}
	return false
}

// StockKey identifies a distinct inventory pool. Movements sharing a key
// compete for the same cost layers and balance row; movements with any
// differing field are fully independent.
type StockKey struct {
	ItemID      int64
	CustomerID  int64
	WarehouseID int64
	RoomID      int64
	LotNumber   string
}

// String renders the key for lock names and log lines.
func (k StockKey) String() string {
	return fmt.Sprintf("%d:%d:%d:%d:%s", k.ItemID, k.CustomerID, k.WarehouseID, k.RoomID, k.LotNumber)
}

// Less imposes a total order on stock keys. Used to lock balance rows in a
// deterministic order when a movement touches two keys.
func (k StockKey) Less(other StockKey) bool {
	if k.ItemID != other.ItemID {
		return k.ItemID < other.ItemID
	}
	if k.CustomerID != other.CustomerID {
		return k.CustomerID < other.CustomerID
	}
	if k.WarehouseID != other.WarehouseID {
		return k.WarehouseID < other.WarehouseID
	}
	if k.RoomID != other.RoomID {
		return k.RoomID < other.RoomID
	}
	return k.LotNumber < other.LotNumber
}

// CostLayer records one receipt's unconsumed value. Layers are consumed
// oldest-first by (ReceiptDate, Seq).
type CostLayer struct {
	ID               int64
	Seq              int64
	Key              StockKey
	ReceiptDate      time.Time
	ReceiptReference string
	OriginalQty      decimal.Decimal
	RemainingQty     decimal.Decimal
	UnitCost         decimal.Decimal
	FullyConsumed    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Balance summarises current stock per stock key. QtyOnHand is maintained as
// a running total and must stay converged with the sum of remaining layer
// quantities at the same key; the integrity check verifies this.
type Balance struct {
	Key              StockKey
	QtyOnHand        decimal.Decimal
	QtyReserved      decimal.Decimal
	QtyAvailable     decimal.Decimal
	AvgCost          decimal.Decimal
	TotalValue       decimal.Decimal
	LastMovementAt   time.Time
	LastMovementType TransactionType
	UpdatedAt        time.Time
}

// Transaction is the immutable audit record of one completed movement. For
// Issue, Transfer and negative Adjustment the unit and total cost are derived
// from consumed layers, not supplied by the caller.
type Transaction struct {
	ID              int64
	Code            string
	Type            TransactionType
	TransactionDate time.Time
	Key             StockKey
	FromWarehouseID int64
	FromRoomID      int64
	ToWarehouseID   int64
	ToRoomID        int64
	Quantity        decimal.Decimal
	UnitOfMeasure   string
	UnitCost        decimal.Decimal
	TotalCost       decimal.Decimal
	BatchNumber     string
	ExpiryDate      time.Time
	PeriodID        string
	RefType         string
	RefID           string
	RefNumber       string
	Notes           string
	PostedToGL      bool
	PostedAt        time.Time
	CreatedBy       int64
	CreatedAt       time.Time
}

// MovementRequest is the inbound request shape handed over by the API layer.
// UnitCost is ignored for Issue and negative Adjustment.
type MovementRequest struct {
	Type            TransactionType
	TransactionDate time.Time
	ItemID          int64
	CustomerID      int64
	WarehouseID     int64
	RoomID          int64
	FromWarehouseID int64
	FromRoomID      int64
	ToWarehouseID   int64
	ToRoomID        int64
	Quantity        decimal.Decimal
	UnitOfMeasure   string
	UnitCost        decimal.Decimal
	LotNumber       string
	BatchNumber     string
	ExpiryDate      time.Time
	RefType         string
	RefID           string
	RefNumber       string
	Notes           string
	ActorID         int64
	Code            string
}

// BreakdownLine names one layer's contribution to a removal.
type BreakdownLine struct {
	LayerID     int64
	QtyUsed     decimal.Decimal
	UnitCost    decimal.Decimal
	LineCost    decimal.Decimal
	ReceiptDate time.Time
	LotNumber   string
}

// CostBreakdown is the FIFO selection result for a requested quantity.
type CostBreakdown struct {
	Lines       []BreakdownLine
	TotalCost   decimal.Decimal
	AverageCost decimal.Decimal
}

// BalanceFilter narrows balance queries by stock-key fields.
type BalanceFilter struct {
	ItemID      int64
	CustomerID  int64
	WarehouseID int64
	RoomID      int64
	LotNumber   string
	InStockOnly bool
	Limit       int
}

// TransactionFilter narrows transaction queries.
type TransactionFilter struct {
	ItemID      int64
	WarehouseID int64
	Type        TransactionType
	RefNumber   string
	From        time.Time
	To          time.Time
	Limit       int
}

// ErrNegativeStock triggered when a movement would drive on-hand quantity negative.
var ErrNegativeStock = errors.New("inventory: negative stock not allowed")

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrInvalidUnitCost indicates a negative cost value.
var ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")

// ErrInvalidTransaction indicates a structurally invalid movement request.
var ErrInvalidTransaction = errors.New("inventory: invalid transaction")

// ErrItemNotFound indicates the referenced item does not exist.
var ErrItemNotFound = errors.New("inventory: item not found")

// ErrItemInactive indicates the referenced item is not active.
var ErrItemInactive = errors.New("inventory: item is inactive")

// ErrCustomerNotFound indicates the referenced customer does not exist.
var ErrCustomerNotFound = errors.New("inventory: customer not found")

// ErrLayerNotFound indicates a cost layer referenced by a breakdown is missing.
var ErrLayerNotFound = errors.New("inventory: cost layer not found")

// ErrMovementConflict reports two movements racing on the same stock key.
// Nothing was posted; the movement can be retried as-is.
var ErrMovementConflict = errors.New("inventory: concurrent movement conflict, retry the movement")

// ErrInsufficientStock is the sentinel matched by errors.Is against
// InsufficientStockError values.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")

// ErrFIFOInconsistency is the sentinel matched by errors.Is against
// FIFOCalculationError values.
var ErrFIFOInconsistency = errors.New("inventory: fifo calculation inconsistency")

// InsufficientStockError reports how much was requested versus available so
// callers can act on the shortfall.
type InsufficientStockError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock: required %s, available %s", e.Required, e.Available)
}

// Is lets errors.Is(err, ErrInsufficientStock) match.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// FIFOCalculationError signals that layer allocation no longer matches the
// requested quantity or that a selected layer vanished mid-flight. It aborts
// the whole unit of work and is logged as a correctness alert.
type FIFOCalculationError struct {
	Reason string
}

func (e *FIFOCalculationError) Error() string {
	return "inventory: fifo calculation: " + e.Reason
}

// Is lets errors.Is(err, ErrFIFOInconsistency) match.
func (e *FIFOCalculationError) Is(target error) bool {
	return target == ErrFIFOInconsistency
}
