package inventory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func layerAt(id int64, day int, qty, cost string) CostLayer {
	date := time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC)
	return CostLayer{
		ID:           id,
		Seq:          id,
		ReceiptDate:  date,
		OriginalQty:  d(qty),
		RemainingQty: d(qty),
		UnitCost:     d(cost),
	}
}

func TestSelectLayersOldestFirst(t *testing.T) {
	layers := []CostLayer{
		layerAt(1, 1, "10", "5"),
		layerAt(2, 2, "10", "6"),
		layerAt(3, 3, "10", "7"),
	}

	bd, err := SelectLayers(layers, d("15"))
	require.NoError(t, err)
	require.Len(t, bd.Lines, 2)

	require.Equal(t, int64(1), bd.Lines[0].LayerID)
	require.True(t, bd.Lines[0].QtyUsed.Equal(d("10")))
	require.True(t, bd.Lines[0].LineCost.Equal(d("50")))

	require.Equal(t, int64(2), bd.Lines[1].LayerID)
	require.True(t, bd.Lines[1].QtyUsed.Equal(d("5")))
	require.True(t, bd.Lines[1].LineCost.Equal(d("30")))

	require.True(t, bd.TotalCost.Equal(d("80")))
	require.True(t, bd.AllocatedQty().Equal(d("15")))
	require.True(t, bd.AverageCost.Sub(d("5.3333")).Abs().LessThan(d("0.001")))
}

func TestSelectLayersSkipsConsumed(t *testing.T) {
	consumed := layerAt(1, 1, "10", "5")
	consumed.RemainingQty = decimal.Zero
	consumed.FullyConsumed = true
	layers := []CostLayer{
		consumed,
		layerAt(2, 2, "10", "6"),
	}

	bd, err := SelectLayers(layers, d("4"))
	require.NoError(t, err)
	require.Len(t, bd.Lines, 1)
	require.Equal(t, int64(2), bd.Lines[0].LayerID)
	require.True(t, bd.TotalCost.Equal(d("24")))
}

func TestSelectLayersPartialLayer(t *testing.T) {
	partial := layerAt(1, 1, "100", "10")
	partial.RemainingQty = d("30")
	layers := []CostLayer{partial}

	bd, err := SelectLayers(layers, d("30"))
	require.NoError(t, err)
	require.Len(t, bd.Lines, 1)
	require.True(t, bd.Lines[0].QtyUsed.Equal(d("30")))
	require.True(t, bd.TotalCost.Equal(d("300")))
}

func TestSelectLayersInsufficient(t *testing.T) {
	layers := []CostLayer{
		layerAt(1, 1, "10", "5"),
		layerAt(2, 2, "2", "6"),
	}

	_, err := SelectLayers(layers, d("20"))
	require.ErrorIs(t, err, ErrInsufficientStock)

	var shortfall *InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	require.True(t, shortfall.Required.Equal(d("20")))
	require.True(t, shortfall.Available.Equal(d("12")))
}

func TestSelectLayersZeroAndNegative(t *testing.T) {
	layers := []CostLayer{layerAt(1, 1, "10", "5")}

	bd, err := SelectLayers(layers, decimal.Zero)
	require.NoError(t, err)
	require.Empty(t, bd.Lines)

	_, err = SelectLayers(layers, d("-3"))
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestVerifyBreakdownCatchesDrift(t *testing.T) {
	bd := CostBreakdown{Lines: []BreakdownLine{{LayerID: 1, QtyUsed: d("9")}}}

	err := verifyBreakdown(bd, d("10"))
	require.ErrorIs(t, err, ErrFIFOInconsistency)

	require.NoError(t, verifyBreakdown(bd, d("9")))
}
