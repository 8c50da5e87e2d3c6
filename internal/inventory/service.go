package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/frostline-erp/frostline-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
}

// ItemInfo is the slice of the item master the processor validates against.
type ItemInfo struct {
	UnitOfMeasure string
	IsPerishable  bool
	StandardCost  decimal.Decimal
	IsActive      bool
}

// ItemPort looks up item master data.
type ItemPort interface {
	Lookup(ctx context.Context, itemID int64) (ItemInfo, error)
	SetLastCost(ctx context.Context, itemID int64, cost decimal.Decimal) error
}

// CustomerPort checks customer existence.
type CustomerPort interface {
	Exists(ctx context.Context, customerID int64) (bool, error)
}

// PeriodPort maps a date onto a fiscal period identifier. An empty period is
// not fatal; the transaction posts without one.
type PeriodPort interface {
	PeriodForDate(ctx context.Context, date time.Time) (string, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MovementRecorder counts posted and rejected movements per transaction type.
type MovementRecorder interface {
	RecordMovement(txType string)
	RecordMovementFailure(txType string)
}

// Service orchestrates movement processing: validate, cost, mutate, persist,
// all inside one repository transaction per movement.
type Service struct {
	repo        RepositoryPort
	items       ItemPort
	customers   CustomerPort
	periods     PeriodPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	integration IntegrationHandler
	cache       *BalanceCache
	metrics     MovementRecorder
	logger      *slog.Logger
	allowNeg    bool
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, items ItemPort, customers CustomerPort, periods PeriodPort, audit AuditPort, idem *shared.IdempotencyStore, cfg ServiceConfig, integration IntegrationHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		items:       items,
		customers:   customers,
		periods:     periods,
		audit:       audit,
		idempotency: idem,
		integration: integration,
		logger:      logger,
		allowNeg:    cfg.AllowNegativeStock,
	}
}

// AttachBalanceCache enables cached balance listings. Movements bump the
// cache version after commit so readers never see a pre-movement snapshot
// past the version check.
func (s *Service) AttachBalanceCache(cache *BalanceCache) {
	s.cache = cache
}

// AttachMovementMetrics enables per-type movement counters.
func (s *Service) AttachMovementMetrics(metrics MovementRecorder) {
	s.metrics = metrics
}

// Process validates and posts one movement. Any failure before commit leaves
// the cost layers and balances exactly as they were.
func (s *Service) Process(ctx context.Context, req MovementRequest) (Transaction, error) {
	txn, err := s.process(ctx, req)
	if s.metrics != nil {
		if err != nil {
			s.metrics.RecordMovementFailure(string(req.Type))
		} else {
			s.metrics.RecordMovement(string(req.Type))
		}
	}
	return txn, err
}

func (s *Service) process(ctx context.Context, req MovementRequest) (Transaction, error) {
	item, err := s.validate(ctx, &req)
	if err != nil {
		return Transaction{}, err
	}

	now := time.Now().UTC()
	if req.TransactionDate.IsZero() {
		req.TransactionDate = now
	}
	code := req.Code
	if code == "" {
		code = fmt.Sprintf("INV-%d", now.UnixNano())
	}
	if req.RefID != "" {
		if _, err := uuid.Parse(req.RefID); err != nil {
			return Transaction{}, fmt.Errorf("inventory: invalid ref id: %w", err)
		}
	}

	periodID := ""
	if s.periods != nil {
		periodID, err = s.periods.PeriodForDate(ctx, req.TransactionDate)
		if err != nil {
			return Transaction{}, err
		}
	}

	key := fmt.Sprintf("%s:%s:%d:%d", req.Type, code, req.WarehouseID, req.ItemID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return Transaction{}, err
		}
		insertedKey = true
	}

	txn := Transaction{
		Code:            code,
		Type:            req.Type,
		TransactionDate: req.TransactionDate,
		Key: StockKey{
			ItemID:      req.ItemID,
			CustomerID:  req.CustomerID,
			WarehouseID: req.WarehouseID,
			RoomID:      req.RoomID,
			LotNumber:   req.LotNumber,
		},
		Quantity:      req.Quantity.Abs(),
		UnitOfMeasure: req.UnitOfMeasure,
		UnitCost:      req.UnitCost,
		BatchNumber:   req.BatchNumber,
		ExpiryDate:    req.ExpiryDate,
		PeriodID:      periodID,
		RefType:       req.RefType,
		RefID:         req.RefID,
		RefNumber:     req.RefNumber,
		Notes:         req.Notes,
		PostedAt:      now,
		CreatedBy:     req.ActorID,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		switch req.Type {
		case TransactionTypeReceipt:
			return s.postReceipt(ctx, tx, req, &txn)
		case TransactionTypeIssue:
			return s.postIssue(ctx, tx, req, &txn)
		case TransactionTypeTransfer:
			return s.postTransfer(ctx, tx, req, &txn)
		case TransactionTypeAdjustment:
			return s.postAdjustment(ctx, tx, req, item, &txn)
		default:
			return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, req.Type)
		}
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		if errors.Is(err, ErrFIFOInconsistency) {
			s.logger.Error("fifo inconsistency aborted movement",
				slog.String("code", code),
				slog.String("type", string(req.Type)),
				slog.Any("error", err))
		}
		return Transaction{}, err
	}

	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump balance cache", slog.Any("error", err))
	}

	if req.Type == TransactionTypeReceipt && s.items != nil {
		if err := s.items.SetLastCost(ctx, req.ItemID, req.UnitCost); err != nil {
			s.logger.Warn("update item last cost", slog.Int64("item_id", req.ItemID), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  req.ActorID,
			Action:   fmt.Sprintf("inventory:%s", req.Type),
			Entity:   "inventory_tx",
			EntityID: code,
			Meta: map[string]any{
				"item_id":      req.ItemID,
				"warehouse_id": req.WarehouseID,
				"qty":          req.Quantity.String(),
				"unit_cost":    txn.UnitCost.String(),
				"total_cost":   txn.TotalCost.String(),
			},
		})
	}
	if s.integration != nil {
		evt := TransactionPostedEvent{
			Code:            txn.Code,
			Type:            txn.Type,
			ItemID:          txn.Key.ItemID,
			CustomerID:      txn.Key.CustomerID,
			WarehouseID:     txn.Key.WarehouseID,
			FromWarehouseID: txn.FromWarehouseID,
			Quantity:        txn.Quantity,
			UnitCost:        txn.UnitCost,
			TotalCost:       txn.TotalCost,
			PostedAt:        txn.PostedAt,
		}
		if err := s.integration.HandleInventoryTransactionPosted(ctx, evt); err != nil {
			return Transaction{}, err
		}
	}
	return txn, nil
}

// ListBalances exposes the read-only balance surface.
func (s *Service) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	return s.cache.Fetch(ctx, filter, func(ctx context.Context) ([]Balance, error) {
		return s.repo.ListBalances(ctx, filter)
	})
}

// ListTransactions exposes the read-only transaction surface.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, filter)
}

// validate performs every check that must pass before any mutation.
func (s *Service) validate(ctx context.Context, req *MovementRequest) (ItemInfo, error) {
	if !req.Type.Valid() {
		return ItemInfo{}, fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, req.Type)
	}
	if req.ItemID == 0 {
		return ItemInfo{}, fmt.Errorf("%w: item required", ErrInvalidTransaction)
	}
	if req.Quantity.IsZero() {
		return ItemInfo{}, ErrInvalidQuantity
	}
	// Adjustments carry direction in the sign; every other type must be positive.
	if req.Type != TransactionTypeAdjustment && req.Quantity.Sign() < 0 {
		return ItemInfo{}, ErrInvalidQuantity
	}
	if req.UnitCost.Sign() < 0 {
		return ItemInfo{}, ErrInvalidUnitCost
	}
	// Receipts value the layer they create; a zero cost here would seed
	// zero-cost layers that every later FIFO consumption inherits.
	if req.Type == TransactionTypeReceipt && req.UnitCost.Sign() <= 0 {
		return ItemInfo{}, fmt.Errorf("%w: receipt requires a positive unit cost", ErrInvalidUnitCost)
	}

	switch req.Type {
	case TransactionTypeTransfer:
		if req.FromWarehouseID == 0 || req.ToWarehouseID == 0 {
			return ItemInfo{}, fmt.Errorf("%w: transfer requires source and destination warehouse", ErrInvalidTransaction)
		}
		if req.FromWarehouseID == req.ToWarehouseID && req.FromRoomID == req.ToRoomID {
			return ItemInfo{}, fmt.Errorf("%w: source and destination must differ", ErrInvalidTransaction)
		}
		req.WarehouseID = req.FromWarehouseID
		req.RoomID = req.FromRoomID
	default:
		if req.WarehouseID == 0 {
			return ItemInfo{}, fmt.Errorf("%w: warehouse required", ErrInvalidTransaction)
		}
	}

	item, err := s.items.Lookup(ctx, req.ItemID)
	if err != nil {
		return ItemInfo{}, err
	}
	if !item.IsActive {
		return ItemInfo{}, ErrItemInactive
	}
	if req.UnitOfMeasure != "" && item.UnitOfMeasure != "" && req.UnitOfMeasure != item.UnitOfMeasure {
		return ItemInfo{}, fmt.Errorf("%w: unit of measure %q does not match item unit %q", ErrInvalidTransaction, req.UnitOfMeasure, item.UnitOfMeasure)
	}
	if item.IsPerishable && !req.ExpiryDate.IsZero() {
		txDate := req.TransactionDate
		if txDate.IsZero() {
			txDate = time.Now().UTC()
		}
		if !req.ExpiryDate.After(txDate) {
			return ItemInfo{}, fmt.Errorf("%w: expiry date must be after transaction date", ErrInvalidTransaction)
		}
	}

	if req.CustomerID != 0 && s.customers != nil {
		exists, err := s.customers.Exists(ctx, req.CustomerID)
		if err != nil {
			return ItemInfo{}, err
		}
		if !exists {
			return ItemInfo{}, ErrCustomerNotFound
		}
	}
	return item, nil
}

// postReceipt adds stock: positive balance movement plus a fresh cost layer.
func (s *Service) postReceipt(ctx context.Context, tx TxRepository, req MovementRequest, txn *Transaction) error {
	if err := s.applyMovement(ctx, tx, txn.Key, req.Quantity, req.UnitCost, txn.TransactionDate, txn.Type); err != nil {
		return err
	}
	layer := CostLayer{
		Key:              txn.Key,
		ReceiptDate:      txn.TransactionDate,
		ReceiptReference: txn.RefNumber,
		OriginalQty:      req.Quantity,
		RemainingQty:     req.Quantity,
		UnitCost:         req.UnitCost,
	}
	if _, err := tx.InsertLayer(ctx, layer); err != nil {
		return err
	}
	txn.TotalCost = req.Quantity.Mul(req.UnitCost)
	return s.persist(ctx, tx, txn)
}

// postIssue removes stock through the FIFO engine; the transaction's cost
// comes from the consumed layers, never from the caller.
func (s *Service) postIssue(ctx context.Context, tx TxRepository, req MovementRequest, txn *Transaction) error {
	bd, err := s.removeStock(ctx, tx, txn.Key, req.Quantity, txn.TransactionDate, txn.Type)
	if err != nil {
		return err
	}
	txn.UnitCost = bd.AverageCost
	txn.TotalCost = bd.TotalCost
	return s.persist(ctx, tx, txn)
}

// postTransfer moves stock between locations preserving each layer's receipt
// age and cost at the destination.
func (s *Service) postTransfer(ctx context.Context, tx TxRepository, req MovementRequest, txn *Transaction) error {
	srcKey := StockKey{
		ItemID:      req.ItemID,
		CustomerID:  req.CustomerID,
		WarehouseID: req.FromWarehouseID,
		RoomID:      req.FromRoomID,
		LotNumber:   req.LotNumber,
	}
	dstKey := StockKey{
		ItemID:      req.ItemID,
		CustomerID:  req.CustomerID,
		WarehouseID: req.ToWarehouseID,
		RoomID:      req.ToRoomID,
		LotNumber:   req.LotNumber,
	}
	txn.Key = srcKey
	txn.FromWarehouseID = req.FromWarehouseID
	txn.FromRoomID = req.FromRoomID
	txn.ToWarehouseID = req.ToWarehouseID
	txn.ToRoomID = req.ToRoomID

	// Lock both balance rows in key order so two opposite transfers on the
	// same pair of keys cannot deadlock.
	first, second := srcKey, dstKey
	if second.Less(first) {
		first, second = second, first
	}
	srcBal, err := lockBalance(ctx, tx, first)
	if err != nil {
		return err
	}
	dstBal, err := lockBalance(ctx, tx, second)
	if err != nil {
		return err
	}
	if first != srcKey {
		srcBal, dstBal = dstBal, srcBal
	}

	if srcBal.QtyAvailable.LessThan(req.Quantity) {
		return &InsufficientStockError{Required: req.Quantity, Available: srcBal.QtyAvailable}
	}
	layers, err := tx.SelectOpenLayersForUpdate(ctx, srcKey)
	if err != nil {
		return err
	}
	bd, err := SelectLayers(layers, req.Quantity)
	if err != nil {
		return err
	}
	if err := verifyBreakdown(bd, req.Quantity); err != nil {
		return err
	}

	srcBal, err = s.updateBalance(srcBal, req.Quantity.Neg(), bd.AverageCost, txn.TransactionDate, txn.Type)
	if err != nil {
		return err
	}
	dstBal, err = s.updateBalance(dstBal, req.Quantity, bd.AverageCost, txn.TransactionDate, txn.Type)
	if err != nil {
		return err
	}
	if err := tx.UpsertBalance(ctx, srcBal); err != nil {
		return err
	}
	if err := tx.UpsertBalance(ctx, dstBal); err != nil {
		return err
	}
	if err := transferBreakdown(ctx, tx, bd, dstKey); err != nil {
		return err
	}
	txn.UnitCost = bd.AverageCost
	txn.TotalCost = bd.TotalCost
	return s.persist(ctx, tx, txn)
}

// postAdjustment dispatches on the sign of the caller's quantity: negative is
// shrinkage handled like an issue, positive is found stock handled like a
// receipt valued at the supplied cost or the item's standard cost.
func (s *Service) postAdjustment(ctx context.Context, tx TxRepository, req MovementRequest, item ItemInfo, txn *Transaction) error {
	if req.Quantity.Sign() < 0 {
		qty := req.Quantity.Abs()
		bd, err := s.removeStock(ctx, tx, txn.Key, qty, txn.TransactionDate, txn.Type)
		if err != nil {
			return err
		}
		txn.Quantity = qty
		txn.UnitCost = bd.AverageCost
		txn.TotalCost = bd.TotalCost
		return s.persist(ctx, tx, txn)
	}

	unitCost := req.UnitCost
	if unitCost.IsZero() {
		unitCost = item.StandardCost
	}
	if err := s.applyMovement(ctx, tx, txn.Key, req.Quantity, unitCost, txn.TransactionDate, txn.Type); err != nil {
		return err
	}
	layer := CostLayer{
		Key:              txn.Key,
		ReceiptDate:      txn.TransactionDate,
		ReceiptReference: txn.RefNumber,
		OriginalQty:      req.Quantity,
		RemainingQty:     req.Quantity,
		UnitCost:         unitCost,
	}
	if _, err := tx.InsertLayer(ctx, layer); err != nil {
		return err
	}
	txn.UnitCost = unitCost
	txn.TotalCost = req.Quantity.Mul(unitCost)
	return s.persist(ctx, tx, txn)
}

// removeStock is the shared issue/shrinkage path: availability check, FIFO
// selection, consumption and the negative balance movement, in that order and
// under the balance row lock.
func (s *Service) removeStock(ctx context.Context, tx TxRepository, key StockKey, qty decimal.Decimal, at time.Time, typ TransactionType) (CostBreakdown, error) {
	bal, err := lockBalance(ctx, tx, key)
	if err != nil {
		return CostBreakdown{}, err
	}
	if bal.QtyAvailable.LessThan(qty) {
		return CostBreakdown{}, &InsufficientStockError{Required: qty, Available: bal.QtyAvailable}
	}
	layers, err := tx.SelectOpenLayersForUpdate(ctx, key)
	if err != nil {
		return CostBreakdown{}, err
	}
	bd, err := SelectLayers(layers, qty)
	if err != nil {
		return CostBreakdown{}, err
	}
	if err := verifyBreakdown(bd, qty); err != nil {
		return CostBreakdown{}, err
	}
	if err := consumeBreakdown(ctx, tx, bd); err != nil {
		return CostBreakdown{}, err
	}
	bal, err = s.updateBalance(bal, qty.Neg(), bd.AverageCost, at, typ)
	if err != nil {
		return CostBreakdown{}, err
	}
	if err := tx.UpsertBalance(ctx, bal); err != nil {
		return CostBreakdown{}, err
	}
	return bd, nil
}

// applyMovement loads the balance row under lock and applies one quantity
// change to it.
func (s *Service) applyMovement(ctx context.Context, tx TxRepository, key StockKey, qtyChange, unitCost decimal.Decimal, at time.Time, typ TransactionType) error {
	bal, err := lockBalance(ctx, tx, key)
	if err != nil {
		return err
	}
	bal, err = s.updateBalance(bal, qtyChange, unitCost, at, typ)
	if err != nil {
		return err
	}
	return tx.UpsertBalance(ctx, bal)
}

// updateBalance is the single choke point for the negative-stock guarantee.
// Additions fold the incoming cost into the weighted average; removals keep
// the prior average. The balance valuation therefore stays a weighted-average
// view even though transaction costs are FIFO-derived; the two diverge and
// that divergence is intentional.
func (s *Service) updateBalance(bal Balance, qtyChange, unitCost decimal.Decimal, at time.Time, typ TransactionType) (Balance, error) {
	newQty := bal.QtyOnHand.Add(qtyChange)
	if newQty.Sign() < 0 && !s.allowNeg {
		return Balance{}, &InsufficientStockError{Required: qtyChange.Neg(), Available: bal.QtyOnHand}
	}
	if qtyChange.Sign() > 0 {
		oldValue := bal.QtyOnHand.Mul(bal.AvgCost)
		addedValue := qtyChange.Mul(unitCost)
		bal.TotalValue = oldValue.Add(addedValue)
		if !newQty.IsZero() {
			bal.AvgCost = bal.TotalValue.Div(newQty)
		}
	} else {
		bal.TotalValue = newQty.Mul(bal.AvgCost)
	}
	bal.QtyOnHand = newQty
	bal.QtyAvailable = newQty.Sub(bal.QtyReserved)
	bal.LastMovementAt = at
	bal.LastMovementType = typ
	return bal, nil
}

// persist writes the transaction record inside the unit of work.
func (s *Service) persist(ctx context.Context, tx TxRepository, txn *Transaction) error {
	id, err := tx.InsertTransaction(ctx, *txn)
	if err != nil {
		return err
	}
	txn.ID = id
	return nil
}

// lockBalance fetches the balance row FOR UPDATE, creating a zeroed row view
// lazily for first movements at a key. The row lock serializes all movements
// on the same stock key from selection through commit.
func lockBalance(ctx context.Context, tx TxRepository, key StockKey) (Balance, error) {
	bal, err := tx.GetBalanceForUpdate(ctx, key)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return Balance{Key: key}, nil
		}
		return Balance{}, err
	}
	return bal, nil
}
