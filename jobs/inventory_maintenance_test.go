package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/frostline-erp/frostline-erp/internal/inventory"
	jobmetrics "github.com/frostline-erp/frostline-erp/internal/jobs"
)

type stubLayerStore struct {
	removed int64
	err     error
	drift   []inventory.BalanceDrift
	corrupt []inventory.CostLayer
}

func (s *stubLayerStore) DeleteConsumedLayersBefore(_ context.Context, _ time.Time) (int64, error) {
	return s.removed, s.err
}

func (s *stubLayerStore) FindBalanceDrift(_ context.Context) ([]inventory.BalanceDrift, error) {
	return s.drift, s.err
}

func (s *stubLayerStore) FindCorruptLayers(_ context.Context) ([]inventory.CostLayer, error) {
	return s.corrupt, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestHousekeepingJobRunsSweep(t *testing.T) {
	store := &stubLayerStore{removed: 4}
	keeper := inventory.NewHousekeeper(store, 30, testLogger())
	job := NewHousekeepingJob(keeper, testLogger(), nil)

	err := job.Handle(context.Background(), NewHousekeepingTask())
	require.NoError(t, err)
}

func TestHousekeepingJobUnconfigured(t *testing.T) {
	job := &HousekeepingJob{}
	err := job.Handle(context.Background(), NewHousekeepingTask())
	require.Error(t, err)
}

func TestIntegrityJobCleanRun(t *testing.T) {
	checker := inventory.NewIntegrityChecker(&stubLayerStore{}, testLogger())
	job := NewIntegrityJob(checker, testLogger(), jobmetrics.NewMetrics(nil))

	err := job.Handle(context.Background(), NewIntegrityTask())
	require.NoError(t, err)
}

func TestIntegrityJobFailsOnFindingsWithoutRetry(t *testing.T) {
	store := &stubLayerStore{
		drift: []inventory.BalanceDrift{{
			Key:        inventory.StockKey{ItemID: 1, WarehouseID: 2},
			BalanceQty: decimal.NewFromInt(10),
			LayerQty:   decimal.NewFromInt(8),
		}},
	}
	checker := inventory.NewIntegrityChecker(store, testLogger())
	job := NewIntegrityJob(checker, testLogger(), jobmetrics.NewMetrics(nil))

	err := job.Handle(context.Background(), NewIntegrityTask())
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestGLPostJobAcceptsPayload(t *testing.T) {
	payload := GLPostPayload{
		Code:        "TX-2026-000123",
		Type:        "ISSUE",
		ItemID:      1,
		WarehouseID: 2,
		Quantity:    "120",
		UnitCost:    "10.3333",
		TotalCost:   "1240",
		PostedAt:    time.Date(2026, 4, 3, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	job := NewGLPostJob(testLogger(), nil)
	err = job.Handle(context.Background(), asynq.NewTask(TaskGLPost, data))
	require.NoError(t, err)
}

func TestGLPostJobSkipsRetryOnBadPayload(t *testing.T) {
	job := NewGLPostJob(testLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskGLPost, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
