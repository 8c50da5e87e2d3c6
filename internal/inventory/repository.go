package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/frostline-erp/frostline-erp/internal/platform/db"
)

// defaultListLimit caps balance and transaction listings when the caller
// supplies no limit. The balance cache keys on the same normalized value.
const defaultListLimit = 200

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. All
// mutations of layers and balances go through this port inside one unit of
// work; nothing mutates them independently.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, key StockKey) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	SelectOpenLayersForUpdate(ctx context.Context, key StockKey) ([]CostLayer, error)
	GetLayer(ctx context.Context, layerID int64) (CostLayer, error)
	UpdateLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal, fullyConsumed bool) error
	InsertLayer(ctx context.Context, layer CostLayer) (int64, error)
	MergeOrCreateLayer(ctx context.Context, src CostLayer, qty decimal.Decimal, dst StockKey) error
	InsertTransaction(ctx context.Context, txn Transaction) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// ErrBalanceNotFound indicates missing balance row.
var ErrBalanceNotFound = errors.New("inventory balance not found")

// WithTx executes the callback inside a repeatable-read transaction.
// Serialization and deadlock failures surface as ErrMovementConflict so
// callers can retry the movement instead of treating it as a server fault.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", ErrMovementConflict, pgErr.Message)
	}
	return err
}

const balanceColumns = `item_id, customer_id, warehouse_id, room_id, lot_number,
qty_on_hand, qty_reserved, qty_available, avg_cost, total_value,
last_movement_at, last_movement_type, updated_at`

// ListBalances returns balance rows filtered by stock-key fields.
func (r *Repository) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.pool.Query(ctx, `SELECT `+balanceColumns+`
FROM inventory_balances
WHERE ($1 = 0 OR item_id = $1)
  AND ($2 = 0 OR customer_id = $2)
  AND ($3 = 0 OR warehouse_id = $3)
  AND ($4 = 0 OR room_id = $4)
  AND ($5 = '' OR lot_number = $5)
  AND (NOT $6::bool OR qty_on_hand > 0)
ORDER BY item_id, warehouse_id, room_id, lot_number
LIMIT $7`, filter.ItemID, filter.CustomerID, filter.WarehouseID, filter.RoomID, filter.LotNumber, filter.InStockOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	balances := []Balance{}
	for rows.Next() {
		bal, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// ListTransactions returns completed movement records.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.pool.Query(ctx, `SELECT id, code, tx_type, tx_date, item_id, customer_id, warehouse_id, room_id, lot_number,
from_warehouse_id, from_room_id, to_warehouse_id, to_room_id,
qty, uom, unit_cost, total_cost, batch_number, expiry_date, period_id,
ref_type, ref_id, ref_number, notes, posted_to_gl, posted_at, created_by, created_at
FROM inventory_tx
WHERE ($1 = 0 OR item_id = $1)
  AND ($2 = 0 OR warehouse_id = $2)
  AND ($3 = '' OR tx_type = $3)
  AND ($4 = '' OR ref_number = $4)
  AND tx_date BETWEEN COALESCE($5, '-infinity') AND COALESCE($6, 'infinity')
ORDER BY tx_date DESC, id DESC
LIMIT $7`, filter.ItemID, filter.WarehouseID, string(filter.Type), filter.RefNumber, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	txns := []Transaction{}
	for rows.Next() {
		var t Transaction
		var qty, unitCost, totalCost pgtype.Numeric
		var expiry, postedAt pgtype.Timestamptz
		var refID pgtype.Text
		var createdBy pgtype.Int8
		if err := rows.Scan(&t.ID, &t.Code, &t.Type, &t.TransactionDate,
			&t.Key.ItemID, &t.Key.CustomerID, &t.Key.WarehouseID, &t.Key.RoomID, &t.Key.LotNumber,
			&t.FromWarehouseID, &t.FromRoomID, &t.ToWarehouseID, &t.ToRoomID,
			&qty, &t.UnitOfMeasure, &unitCost, &totalCost, &t.BatchNumber, &expiry, &t.PeriodID,
			&t.RefType, &refID, &t.RefNumber, &t.Notes, &t.PostedToGL, &postedAt, &createdBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Quantity = numericToDecimal(qty)
		t.UnitCost = numericToDecimal(unitCost)
		t.TotalCost = numericToDecimal(totalCost)
		t.ExpiryDate = expiry.Time
		t.PostedAt = postedAt.Time
		t.RefID = refID.String
		t.CreatedBy = createdBy.Int64
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// BalanceDrift reports a stock key whose balance row disagrees with the sum
// of remaining layer quantities.
type BalanceDrift struct {
	Key        StockKey
	BalanceQty decimal.Decimal
	LayerQty   decimal.Decimal
}

// FindBalanceDrift compares each balance row against the layer totals at the
// same stock key. Any row returned is a convergence violation.
func (r *Repository) FindBalanceDrift(ctx context.Context) ([]BalanceDrift, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.item_id, b.customer_id, b.warehouse_id, b.room_id, b.lot_number,
b.qty_on_hand, COALESCE(l.total_remaining, 0)
FROM inventory_balances b
LEFT JOIN (
    SELECT item_id, customer_id, warehouse_id, room_id, lot_number, SUM(remaining_qty) AS total_remaining
    FROM inventory_layers
    GROUP BY item_id, customer_id, warehouse_id, room_id, lot_number
) l USING (item_id, customer_id, warehouse_id, room_id, lot_number)
WHERE b.qty_on_hand <> COALESCE(l.total_remaining, 0)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	drift := []BalanceDrift{}
	for rows.Next() {
		var d BalanceDrift
		var balQty, layerQty pgtype.Numeric
		if err := rows.Scan(&d.Key.ItemID, &d.Key.CustomerID, &d.Key.WarehouseID, &d.Key.RoomID, &d.Key.LotNumber, &balQty, &layerQty); err != nil {
			return nil, err
		}
		d.BalanceQty = numericToDecimal(balQty)
		d.LayerQty = numericToDecimal(layerQty)
		drift = append(drift, d)
	}
	return drift, rows.Err()
}

// FindCorruptLayers returns layers violating their own invariants: negative
// remaining quantity, remaining above original, or a consumed flag that
// disagrees with the remaining quantity.
func (r *Repository) FindCorruptLayers(ctx context.Context) ([]CostLayer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+layerColumns+`
FROM inventory_layers
WHERE remaining_qty < 0
   OR remaining_qty > original_qty
   OR fully_consumed <> (remaining_qty = 0)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	layers := []CostLayer{}
	for rows.Next() {
		layer, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

// DeleteConsumedLayersBefore hard-deletes fully consumed layers untouched
// since the cutoff. Housekeeping only; never part of movement processing.
func (r *Repository) DeleteConsumedLayersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM inventory_layers
WHERE fully_consumed AND remaining_qty = 0 AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const layerColumns = `id, seq, item_id, customer_id, warehouse_id, room_id, lot_number,
receipt_date, receipt_reference, original_qty, remaining_qty, unit_cost, fully_consumed, created_at, updated_at`

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, key StockKey) (Balance, error) {
	// Two attempts: if the row is missing, materialise a zeroed one so the
	// first movement at a key still holds a row lock before touching layers.
	// Two concurrent first movements then serialize on that row instead of
	// racing to the upsert.
	for attempt := 0; attempt < 2; attempt++ {
		row := r.tx.QueryRow(ctx, `SELECT `+balanceColumns+`
FROM inventory_balances
WHERE item_id=$1 AND customer_id=$2 AND warehouse_id=$3 AND room_id=$4 AND lot_number=$5
FOR UPDATE`, key.ItemID, key.CustomerID, key.WarehouseID, key.RoomID, key.LotNumber)
		bal, err := scanBalance(row)
		if err == nil {
			return bal, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, err
		}
		if _, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances
(item_id, customer_id, warehouse_id, room_id, lot_number)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (item_id, customer_id, warehouse_id, room_id, lot_number) DO NOTHING`,
			key.ItemID, key.CustomerID, key.WarehouseID, key.RoomID, key.LotNumber); err != nil {
			return Balance{}, err
		}
	}
	return Balance{Key: key}, ErrBalanceNotFound
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances
(item_id, customer_id, warehouse_id, room_id, lot_number, qty_on_hand, qty_reserved, qty_available, avg_cost, total_value, last_movement_at, last_movement_type, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
ON CONFLICT (item_id, customer_id, warehouse_id, room_id, lot_number) DO UPDATE SET
qty_on_hand=EXCLUDED.qty_on_hand, qty_reserved=EXCLUDED.qty_reserved, qty_available=EXCLUDED.qty_available,
avg_cost=EXCLUDED.avg_cost, total_value=EXCLUDED.total_value,
last_movement_at=EXCLUDED.last_movement_at, last_movement_type=EXCLUDED.last_movement_type, updated_at=NOW()`,
		balance.Key.ItemID, balance.Key.CustomerID, balance.Key.WarehouseID, balance.Key.RoomID, balance.Key.LotNumber,
		decimalToNumeric(balance.QtyOnHand), decimalToNumeric(balance.QtyReserved), decimalToNumeric(balance.QtyAvailable),
		decimalToNumeric(balance.AvgCost), decimalToNumeric(balance.TotalValue),
		balance.LastMovementAt, string(balance.LastMovementType))
	return err
}

func (r *txRepository) SelectOpenLayersForUpdate(ctx context.Context, key StockKey) ([]CostLayer, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+layerColumns+`
FROM inventory_layers
WHERE item_id=$1 AND customer_id=$2 AND warehouse_id=$3 AND room_id=$4 AND lot_number=$5
  AND remaining_qty > 0 AND NOT fully_consumed
ORDER BY receipt_date ASC, seq ASC
FOR UPDATE`, key.ItemID, key.CustomerID, key.WarehouseID, key.RoomID, key.LotNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	layers := []CostLayer{}
	for rows.Next() {
		layer, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func (r *txRepository) GetLayer(ctx context.Context, layerID int64) (CostLayer, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+layerColumns+` FROM inventory_layers WHERE id=$1 FOR UPDATE`, layerID)
	layer, err := scanLayer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CostLayer{}, ErrLayerNotFound
		}
		return CostLayer{}, err
	}
	return layer, nil
}

func (r *txRepository) UpdateLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal, fullyConsumed bool) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_layers
SET remaining_qty=$2, fully_consumed=$3, updated_at=NOW()
WHERE id=$1`, layerID, decimalToNumeric(remaining), fullyConsumed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLayerNotFound
	}
	return nil
}

func (r *txRepository) InsertLayer(ctx context.Context, layer CostLayer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_layers
(item_id, customer_id, warehouse_id, room_id, lot_number, receipt_date, receipt_reference, original_qty, remaining_qty, unit_cost, fully_consumed, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW()) RETURNING id`,
		layer.Key.ItemID, layer.Key.CustomerID, layer.Key.WarehouseID, layer.Key.RoomID, layer.Key.LotNumber,
		layer.ReceiptDate, layer.ReceiptReference,
		decimalToNumeric(layer.OriginalQty), decimalToNumeric(layer.RemainingQty), decimalToNumeric(layer.UnitCost),
		layer.RemainingQty.IsZero()).Scan(&id)
	return id, err
}

// MergeOrCreateLayer moves qty of the source layer's value to the destination
// key: the oldest destination layer with the same receipt date and unit cost
// absorbs it, otherwise a new layer is created carrying the source date and
// cost. Exactly one layer may absorb; duplicate (date, cost) layers at the
// destination would otherwise each gain qty and break layer conservation.
func (r *txRepository) MergeOrCreateLayer(ctx context.Context, src CostLayer, qty decimal.Decimal, dst StockKey) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_layers
SET original_qty = original_qty + $7, remaining_qty = remaining_qty + $7, fully_consumed = FALSE, updated_at = NOW()
WHERE id = (
    SELECT id FROM inventory_layers
    WHERE item_id=$1 AND customer_id=$2 AND warehouse_id=$3 AND room_id=$4 AND lot_number=$5
      AND receipt_date=$6 AND unit_cost=$8
    ORDER BY seq
    LIMIT 1)`,
		dst.ItemID, dst.CustomerID, dst.WarehouseID, dst.RoomID, dst.LotNumber,
		src.ReceiptDate, decimalToNumeric(qty), decimalToNumeric(src.UnitCost))
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = r.InsertLayer(ctx, CostLayer{
		Key:              dst,
		ReceiptDate:      src.ReceiptDate,
		ReceiptReference: src.ReceiptReference,
		OriginalQty:      qty,
		RemainingQty:     qty,
		UnitCost:         src.UnitCost,
	})
	return err
}

func (r *txRepository) InsertTransaction(ctx context.Context, txn Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_tx
(code, tx_type, tx_date, item_id, customer_id, warehouse_id, room_id, lot_number,
from_warehouse_id, from_room_id, to_warehouse_id, to_room_id,
qty, uom, unit_cost, total_cost, batch_number, expiry_date, period_id,
ref_type, ref_id, ref_number, notes, posted_to_gl, posted_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,NOW())
RETURNING id`,
		txn.Code, string(txn.Type), txn.TransactionDate,
		txn.Key.ItemID, txn.Key.CustomerID, txn.Key.WarehouseID, txn.Key.RoomID, txn.Key.LotNumber,
		txn.FromWarehouseID, txn.FromRoomID, txn.ToWarehouseID, txn.ToRoomID,
		decimalToNumeric(txn.Quantity), txn.UnitOfMeasure, decimalToNumeric(txn.UnitCost), decimalToNumeric(txn.TotalCost),
		txn.BatchNumber, nullTime(txn.ExpiryDate), txn.PeriodID,
		txn.RefType, nullString(txn.RefID), txn.RefNumber, txn.Notes, txn.PostedToGL, txn.PostedAt, nullInt(txn.CreatedBy)).Scan(&id)
	return id, err
}

func scanBalance(row pgx.Row) (Balance, error) {
	var bal Balance
	var onHand, reserved, available, avgCost, totalValue pgtype.Numeric
	var lastAt pgtype.Timestamptz
	var lastType pgtype.Text
	if err := row.Scan(&bal.Key.ItemID, &bal.Key.CustomerID, &bal.Key.WarehouseID, &bal.Key.RoomID, &bal.Key.LotNumber,
		&onHand, &reserved, &available, &avgCost, &totalValue, &lastAt, &lastType, &bal.UpdatedAt); err != nil {
		return Balance{}, err
	}
	bal.QtyOnHand = numericToDecimal(onHand)
	bal.QtyReserved = numericToDecimal(reserved)
	bal.QtyAvailable = numericToDecimal(available)
	bal.AvgCost = numericToDecimal(avgCost)
	bal.TotalValue = numericToDecimal(totalValue)
	bal.LastMovementAt = lastAt.Time
	bal.LastMovementType = TransactionType(lastType.String)
	return bal, nil
}

func scanLayer(row pgx.Row) (CostLayer, error) {
	var layer CostLayer
	var original, remaining, unitCost pgtype.Numeric
	if err := row.Scan(&layer.ID, &layer.Seq,
		&layer.Key.ItemID, &layer.Key.CustomerID, &layer.Key.WarehouseID, &layer.Key.RoomID, &layer.Key.LotNumber,
		&layer.ReceiptDate, &layer.ReceiptReference, &original, &remaining, &unitCost,
		&layer.FullyConsumed, &layer.CreatedAt, &layer.UpdatedAt); err != nil {
		return CostLayer{}, err
	}
	layer.OriginalQty = numericToDecimal(original)
	layer.RemainingQty = numericToDecimal(remaining)
	layer.UnitCost = numericToDecimal(unitCost)
	return layer, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.String())
	return n
}
