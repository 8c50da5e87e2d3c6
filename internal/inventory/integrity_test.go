package inventory

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubIntegrityRepo struct {
	drift   []BalanceDrift
	corrupt []CostLayer
}

func (s *stubIntegrityRepo) FindBalanceDrift(ctx context.Context) ([]BalanceDrift, error) {
	return s.drift, nil
}

func (s *stubIntegrityRepo) FindCorruptLayers(ctx context.Context) ([]CostLayer, error) {
	return s.corrupt, nil
}

func TestIntegrityCheckerCleanRun(t *testing.T) {
	checker := NewIntegrityChecker(&stubIntegrityRepo{}, slog.New(slog.DiscardHandler))

	report, err := checker.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Clean())
}

func TestIntegrityCheckerReportsDrift(t *testing.T) {
	repo := &stubIntegrityRepo{
		drift: []BalanceDrift{{
			Key:        StockKey{ItemID: 1, WarehouseID: 1},
			BalanceQty: d("10"),
			LayerQty:   d("8"),
		}},
		corrupt: []CostLayer{{
			ID:           4,
			RemainingQty: d("-1"),
			OriginalQty:  d("5"),
		}},
	}
	checker := NewIntegrityChecker(repo, slog.New(slog.DiscardHandler))

	report, err := checker.Run(context.Background())
	require.NoError(t, err)
	require.False(t, report.Clean())
	require.Len(t, report.Drift, 1)
	require.Len(t, report.CorruptLayers, 1)
}

type stubSweepRepo struct {
	cutoff  time.Time
	removed int64
}

func (s *stubSweepRepo) DeleteConsumedLayersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.removed, nil
}

func TestHousekeeperSweep(t *testing.T) {
	repo := &stubSweepRepo{removed: 3}
	keeper := NewHousekeeper(repo, 30, slog.New(slog.DiscardHandler))

	removed, err := keeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), removed)

	wantCutoff := time.Now().UTC().AddDate(0, 0, -30)
	require.WithinDuration(t, wantCutoff, repo.cutoff, time.Minute)
}

func TestHousekeeperDefaultRetention(t *testing.T) {
	repo := &stubSweepRepo{}
	keeper := NewHousekeeper(repo, 0, slog.New(slog.DiscardHandler))

	_, err := keeper.Sweep(context.Background())
	require.NoError(t, err)

	wantCutoff := time.Now().UTC().AddDate(0, 0, -DefaultRetentionDays)
	require.WithinDuration(t, wantCutoff, repo.cutoff, time.Minute)
}
