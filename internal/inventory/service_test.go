package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	balances    map[StockKey]Balance
	layers      []*CostLayer
	txns        []Transaction
	nextLayerID int64
	nextTxID    int64
	failTx      error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: make(map[StockKey]Balance)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.failTx != nil {
		return r.failTx
	}
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	result := []Balance{}
	for _, bal := range r.balances {
		if filter.ItemID != 0 && bal.Key.ItemID != filter.ItemID {
			continue
		}
		if filter.InStockOnly && bal.QtyOnHand.Sign() <= 0 {
			continue
		}
		result = append(result, bal)
	}
	return result, nil
}

func (r *memoryRepo) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	result := make([]Transaction, len(r.txns))
	copy(result, r.txns)
	return result, nil
}

func (r *memoryRepo) layersAt(key StockKey) []*CostLayer {
	result := []*CostLayer{}
	for _, layer := range r.layers {
		if layer.Key == key {
			result = append(result, layer)
		}
	}
	return result
}

func (tx *memoryTx) GetBalanceForUpdate(ctx context.Context, key StockKey) (Balance, error) {
	if bal, ok := tx.repo.balances[key]; ok {
		return bal, nil
	}
	return Balance{Key: key}, ErrBalanceNotFound
}

func (tx *memoryTx) UpsertBalance(ctx context.Context, balance Balance) error {
	tx.repo.balances[balance.Key] = balance
	return nil
}

func (tx *memoryTx) SelectOpenLayersForUpdate(ctx context.Context, key StockKey) ([]CostLayer, error) {
	open := []CostLayer{}
	for _, layer := range tx.repo.layersAt(key) {
		if layer.FullyConsumed || layer.RemainingQty.Sign() <= 0 {
			continue
		}
		open = append(open, *layer)
	}
	sort.Slice(open, func(i, j int) bool {
		if !open[i].ReceiptDate.Equal(open[j].ReceiptDate) {
			return open[i].ReceiptDate.Before(open[j].ReceiptDate)
		}
		return open[i].Seq < open[j].Seq
	})
	return open, nil
}

func (tx *memoryTx) GetLayer(ctx context.Context, layerID int64) (CostLayer, error) {
	for _, layer := range tx.repo.layers {
		if layer.ID == layerID {
			return *layer, nil
		}
	}
	return CostLayer{}, ErrLayerNotFound
}

func (tx *memoryTx) UpdateLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal, fullyConsumed bool) error {
	for _, layer := range tx.repo.layers {
		if layer.ID == layerID {
			layer.RemainingQty = remaining
			layer.FullyConsumed = fullyConsumed
			return nil
		}
	}
	return ErrLayerNotFound
}

func (tx *memoryTx) InsertLayer(ctx context.Context, layer CostLayer) (int64, error) {
	tx.repo.nextLayerID++
	layer.ID = tx.repo.nextLayerID
	layer.Seq = tx.repo.nextLayerID
	layer.FullyConsumed = layer.RemainingQty.IsZero()
	tx.repo.layers = append(tx.repo.layers, &layer)
	return layer.ID, nil
}

func (tx *memoryTx) MergeOrCreateLayer(ctx context.Context, src CostLayer, qty decimal.Decimal, dst StockKey) error {
	for _, layer := range tx.repo.layers {
		if layer.Key == dst && layer.ReceiptDate.Equal(src.ReceiptDate) && layer.UnitCost.Equal(src.UnitCost) {
			layer.OriginalQty = layer.OriginalQty.Add(qty)
			layer.RemainingQty = layer.RemainingQty.Add(qty)
			layer.FullyConsumed = false
			return nil
		}
	}
	_, err := tx.InsertLayer(ctx, CostLayer{
		Key:              dst,
		ReceiptDate:      src.ReceiptDate,
		ReceiptReference: src.ReceiptReference,
		OriginalQty:      qty,
		RemainingQty:     qty,
		UnitCost:         src.UnitCost,
	})
	return err
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, txn Transaction) (int64, error) {
	tx.repo.nextTxID++
	txn.ID = tx.repo.nextTxID
	tx.repo.txns = append(tx.repo.txns, txn)
	return txn.ID, nil
}

type stubItems struct {
	items    map[int64]ItemInfo
	lastCost map[int64]decimal.Decimal
}

func newStubItems() *stubItems {
	return &stubItems{
		items: map[int64]ItemInfo{
			1: {UnitOfMeasure: "KG", IsActive: true, StandardCost: d("7")},
		},
		lastCost: make(map[int64]decimal.Decimal),
	}
}

func (s *stubItems) Lookup(ctx context.Context, itemID int64) (ItemInfo, error) {
	item, ok := s.items[itemID]
	if !ok {
		return ItemInfo{}, ErrItemNotFound
	}
	return item, nil
}

func (s *stubItems) SetLastCost(ctx context.Context, itemID int64, cost decimal.Decimal) error {
	s.lastCost[itemID] = cost
	return nil
}

type stubCustomers map[int64]bool

func (s stubCustomers) Exists(ctx context.Context, customerID int64) (bool, error) {
	return s[customerID], nil
}

func newTestService(repo *memoryRepo, items *stubItems) *Service {
	return NewService(repo, items, stubCustomers{7: true}, nil, nil, nil, ServiceConfig{},
		nil, slog.New(slog.DiscardHandler))
}

func day(n int) time.Time {
	return time.Date(2026, 4, n, 0, 0, 0, 0, time.UTC)
}

func receive(t *testing.T, svc *Service, dayN int, qty, cost string) Transaction {
	t.Helper()
	txn, err := svc.Process(context.Background(), MovementRequest{
		Type:            TransactionTypeReceipt,
		TransactionDate: day(dayN),
		ItemID:          1,
		WarehouseID:     1,
		Quantity:        d(qty),
		UnitCost:        d(cost),
	})
	require.NoError(t, err)
	return txn
}

func TestReceiptThenIssueFollowsFIFO(t *testing.T) {
	repo := newMemoryRepo()
	items := newStubItems()
	svc := newTestService(repo, items)
	ctx := context.Background()

	receive(t, svc, 1, "100", "10")
	receive(t, svc, 2, "50", "12")

	txn, err := svc.Process(ctx, MovementRequest{
		Type:            TransactionTypeIssue,
		TransactionDate: day(3),
		ItemID:          1,
		WarehouseID:     1,
		Quantity:        d("120"),
	})
	require.NoError(t, err)

	// 100 @ 10 + 20 @ 12
	require.True(t, txn.TotalCost.Equal(d("1240")), "total cost %s", txn.TotalCost)
	require.True(t, txn.UnitCost.Sub(d("10.3333")).Abs().LessThan(d("0.001")))

	key := StockKey{ItemID: 1, WarehouseID: 1}
	bal := repo.balances[key]
	require.True(t, bal.QtyOnHand.Equal(d("30")))
	require.True(t, bal.QtyAvailable.Equal(d("30")))

	// Balance valuation stays weighted average: (1000+600)/150 per unit.
	require.True(t, bal.AvgCost.Sub(d("10.6667")).Abs().LessThan(d("0.001")))
	require.True(t, bal.TotalValue.Sub(d("320")).Abs().LessThan(d("0.01")))

	layers := repo.layersAt(key)
	require.Len(t, layers, 2)
	require.True(t, layers[0].FullyConsumed)
	require.True(t, layers[0].RemainingQty.IsZero())
	require.False(t, layers[1].FullyConsumed)
	require.True(t, layers[1].RemainingQty.Equal(d("30")))

	require.True(t, items.lastCost[1].Equal(d("12")), "receipt should update last cost")
}

func TestIssueCostIgnoresCallerCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, newStubItems())

	receive(t, svc, 1, "10", "5")

	txn, err := svc.Process(context.Background(), MovementRequest{
		Type:            TransactionTypeIssue,
		TransactionDate: day(2),
		ItemID:          1,
		WarehouseID:     1,
		Quantity:        d("4"),
		UnitCost:        d("999"),
	})
	require.NoError(t, err)
	require.True(t, txn.UnitCost.Equal(d("5")))
	require.True(t, txn.TotalCost.Equal(d("20")))
}

func TestIssueRejectsInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, newStubItems())
	ctx := context.Background()

	receive(t, svc, 1, "5", "10")

	_, err := svc.Process(ctx, MovementRequest{
		Type:            TransactionTypeIssue,
		TransactionDate: day(2),
		ItemID:          1,
		WarehouseID:     1,
		Quantity:        d("10"),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	var shortfall *InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	require.True(t, shortfall.Required.Equal(d("10")))
	require.True(t, shortfall.Available.Equal(d("5")))

	key := StockKey{ItemID: 1, WarehouseID: 1}
	require.True(t, repo.balances[key].QtyOnHand.Equal(d("5")))
	require.True(t, repo.layersAt(key)[0].RemainingQty.Equal(d("5")))
	require.Len(t, repo.txns, 1, "only the receipt is recorded")
}

func TestTransferPreservesLayerAgeAndCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, newStubItems())
	ctx := context.Background()

	receive(t, svc, 1, "100", "10")
	receive(t, svc, 2, "50", "12")

	txn, err := svc.Process(ctx, MovementRequest{
		Type:            TransactionTypeTransfer,
		TransactionDate: day(5),
		ItemID:          1,
		FromWarehouseID: 1,
		ToWarehouseID:   2,
		Quantity:        d("120"),
	})
	require.NoError(t, err)
	require.True(t, txn.TotalCost.Equal(d("1240")))
	require.Equal(t, int64(1), txn.FromWarehouseID)
	require.Equal(t, int64(2), txn.ToWarehouseID)

	srcKey := StockKey{ItemID: 1, WarehouseID: 1}
	dstKey := StockKey{ItemID: 1, WarehouseID: 2}

	require.True(t, repo.balances[srcKey].QtyOnHand.Equal(d("30")))
	require.True(t, repo.balances[dstKey].QtyOnHand.Equal(d("120")))

	dstLayers := repo.layersAt(dstKey)
	require.Len(t, dstLayers, 2)
	// Destination layers keep source receipt dates and costs, so a later
	// issue at the destination still consumes oldest stock first.
	require.True(t, dstLayers[0].ReceiptDate.Equal(day(1)))
	require.True(t, dstLayers[0].UnitCost.Equal(d("10")))
	require.True(t, dstLayers[0].RemainingQty.Equal(d("100")))
	require.True(t, dstLayers[1].ReceiptDate.Equal(day(2)))
	require.True(t, dstLayers[1].UnitCost.Equal(d("12")))
	require.True(t, dstLayers[1].RemainingQty.Equal(d("20")))
}

func TestTransferMergesMatchingDestinationLayer(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, newStubItems())
	ctx := context.Background()

	receive(t, svc, 1, "40", "10")

	for i := 0; i < 2; i++ {
		_, err := svc.Process(ctx, MovementRequest{
			Type:            TransactionTypeTransfer,
			TransactionDate: day(3 + i),
			ItemID:          1,
			FromWarehouseID: 1,
			ToWarehouseID:   2,
			Quantity:        d("10"),
		})
		require.NoError(t, err)
	}

	dstLayers := repo.layersAt(StockKey{ItemID: 1, WarehouseID: 2})
	require.Len(t, dstLayers, 1, "same receipt date and cost must merge")
	require.True(t, dstLayers[0].RemainingQty.Equal(d("20")))
}

func TestTransferMergeTouchesSingleDuplicateLayer(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, newStubItems())
	ctx := context.Background()

	receive(t, svc, 1, "30", "10")

	// Two same-day, same-cost receipts at the destination leave duplicate
	// (receipt date, unit cost) layers there. Receipts never merge.
	for i := 0; i < 2; i++ {
		_, err := svc.Process(ctx, MovementRequest{
			Type:            TransactionTypeReceipt,
			TransactionDate: day(1),
			ItemID:          1,
			WarehouseID:     2,
			Quantity:        d("10"),
			UnitCost:        d("10"),
		})
		require.NoError(t, err)
	}

	_, err := svc.Process(ctx, MovementRequest{
		Type:            TransactionTypeTransfer,
		TransactionDate: day(5),
		ItemID:          1,
		FromWarehouseID: 1,
		ToWarehouseID:   2,
		Quantity:        d("10"),
	})
	require.NoError(t, err)

	dstKey := StockKey{ItemID: 1, WarehouseID: 2}
	dstLayers := repo.layersAt(dstKey)
	require.Len(t, dstLayers, 2)

	// Exactly one layer absorbs the transfer, and the sum of remaining layer
	// quantities must equal the destination balance.
	require.True(t, dstLayers[0].RemainingQty.Equal(d("20")), "oldest matching layer absorbs")
	require.True(t, dstLayers[1].RemainingQty.Equal(d("10")), "duplicate layer stays untouched")
	total := dstLayers[0].RemainingQty.Add(dstLayers[1].RemainingQty)
	require.True(t, total.Equal(d("30")))
	require.True(t, repo.balances[dstKey].QtyOnHand.Equal(total))
}

func TestTransferRequiresDistinctLocations(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, newStubItems())

	_, err := svc.Process(context.Background(), MovementRequest{
		Type:            TransactionTypeTransfer,
		ItemID:          1,
		FromWarehouseID: 1,
		ToWarehouseID:   1,
		Quantity:        d("5"),
	})
	require.ErrorIs(t, err, ErrInvalidTransaction)
	require.Empty(t, repo.txns)
	require.Empty(t, repo.balances)
}

func TestAdjustmentNegativeUsesFIFO(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, newStubItems())

	receive(t, svc, 1, "10", "5")

	txn, err := svc.Process(context.Background(), MovementRequest{
		Type:            TransactionTypeAdjustment,
		TransactionDate: day(2),
		ItemID:          1,
		WarehouseID:     1,
		Quantity:        d("-4"),
	})
	require.NoError(t, err)
	require.True(t, txn.Quantity.Equal(d("4")))
	require.True(t, txn.TotalCost.Equal(d("20")))

	bal := repo.balances[StockKey{ItemID: 1, WarehouseID: 1}]
	require.True(t, bal.QtyOnHand.Equal(d("6")))
}

func TestAdjustmentPositiveFallsBackToStandardCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, newStubItems())

	txn, err := svc.Process(context.Background(), MovementRequest{
		Type:            TransactionTypeAdjustment,
		TransactionDate: day(1),
		ItemID:          1,
		WarehouseID:     1,
		Quantity:        d("10"),
	})
	require.NoError(t, err)
	require.True(t, txn.UnitCost.Equal(d("7")), "zero cost falls back to item standard cost")
	require.True(t, txn.TotalCost.Equal(d("70")))

	key := StockKey{ItemID: 1, WarehouseID: 1}
	layers := repo.layersAt(key)
	require.Len(t, layers, 1)
	require.True(t, layers[0].UnitCost.Equal(d("7")))
}

func TestValidationFailures(t *testing.T) {
	repo := newMemoryRepo()
	items := newStubItems()
	items.items[2] = ItemInfo{UnitOfMeasure: "KG", IsActive: false}
	items.items[3] = ItemInfo{UnitOfMeasure: "KG", IsPerishable: true, IsActive: true}
	svc := newTestService(repo, items)
	ctx := context.Background()

	cases := []struct {
		name string
		req  MovementRequest
		want error
	}{
		{"unknown type", MovementRequest{Type: "DESTROY", ItemID: 1, WarehouseID: 1, Quantity: d("1")}, ErrInvalidTransaction},
		{"missing item", MovementRequest{Type: TransactionTypeReceipt, WarehouseID: 1, Quantity: d("1")}, ErrInvalidTransaction},
		{"zero qty", MovementRequest{Type: TransactionTypeReceipt, ItemID: 1, WarehouseID: 1}, ErrInvalidQuantity},
		{"negative receipt qty", MovementRequest{Type: TransactionTypeReceipt, ItemID: 1, WarehouseID: 1, Quantity: d("-1")}, ErrInvalidQuantity},
		{"negative cost", MovementRequest{Type: TransactionTypeReceipt, ItemID: 1, WarehouseID: 1, Quantity: d("1"), UnitCost: d("-2")}, ErrInvalidUnitCost},
		{"zero cost receipt", MovementRequest{Type: TransactionTypeReceipt, ItemID: 1, WarehouseID: 1, Quantity: d("1")}, ErrInvalidUnitCost},
		{"missing warehouse", MovementRequest{Type: TransactionTypeReceipt, ItemID: 1, Quantity: d("1"), UnitCost: d("5")}, ErrInvalidTransaction},
		{"unknown item", MovementRequest{Type: TransactionTypeReceipt, ItemID: 99, WarehouseID: 1, Quantity: d("1"), UnitCost: d("5")}, ErrItemNotFound},
		{"inactive item", MovementRequest{Type: TransactionTypeReceipt, ItemID: 2, WarehouseID: 1, Quantity: d("1"), UnitCost: d("5")}, ErrItemInactive},
		{"uom mismatch", MovementRequest{Type: TransactionTypeReceipt, ItemID: 1, WarehouseID: 1, Quantity: d("1"), UnitCost: d("5"), UnitOfMeasure: "EA"}, ErrInvalidTransaction},
		{"unknown customer", MovementRequest{Type: TransactionTypeReceipt, ItemID: 1, CustomerID: 99, WarehouseID: 1, Quantity: d("1"), UnitCost: d("5")}, ErrCustomerNotFound},
		{"expiry before tx date", MovementRequest{Type: TransactionTypeReceipt, ItemID: 3, WarehouseID: 1, Quantity: d("1"), UnitCost: d("5"), TransactionDate: day(5), ExpiryDate: day(4)}, ErrInvalidTransaction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Process(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Empty(t, repo.txns, "no failed movement may leave a record")
	require.Empty(t, repo.layers)
}

type countingRecorder struct {
	posted   map[string]int
	rejected map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{posted: map[string]int{}, rejected: map[string]int{}}
}

func (r *countingRecorder) RecordMovement(txType string)        { r.posted[txType]++ }
func (r *countingRecorder) RecordMovementFailure(txType string) { r.rejected[txType]++ }

func TestMovementMetricsRecorded(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, newStubItems())
	recorder := newCountingRecorder()
	svc.AttachMovementMetrics(recorder)
	ctx := context.Background()

	receive(t, svc, 1, "5", "10")
	require.Equal(t, 1, recorder.posted["RECEIPT"])

	_, err := svc.Process(ctx, MovementRequest{
		Type:            TransactionTypeIssue,
		TransactionDate: day(2),
		ItemID:          1,
		WarehouseID:     1,
		Quantity:        d("50"),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, 1, recorder.rejected["ISSUE"])
	require.Zero(t, recorder.posted["ISSUE"])
}

func TestProcessSurfacesMovementConflict(t *testing.T) {
	repo := newMemoryRepo()
	repo.failTx = fmt.Errorf("%w: could not serialize access", ErrMovementConflict)
	svc := newTestService(repo, newStubItems())

	_, err := svc.Process(context.Background(), MovementRequest{
		Type:            TransactionTypeReceipt,
		TransactionDate: day(1),
		ItemID:          1,
		WarehouseID:     1,
		Quantity:        d("5"),
		UnitCost:        d("10"),
	})
	require.ErrorIs(t, err, ErrMovementConflict)
	require.Empty(t, repo.txns)
}

func TestAllowNegativeStockConfig(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, newStubItems(), stubCustomers{}, nil, nil, nil,
		ServiceConfig{AllowNegativeStock: true}, nil, slog.New(slog.DiscardHandler))

	receive(t, svc, 1, "5", "10")

	// Availability is still checked against layers, so even with negative
	// stock allowed an issue cannot exceed what the layers hold.
	_, err := svc.Process(context.Background(), MovementRequest{
		Type:            TransactionTypeIssue,
		TransactionDate: day(2),
		ItemID:          1,
		WarehouseID:     1,
		Quantity:        d("10"),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
}
