package inventory

import (
	"context"
	"log/slog"
)

// IntegrityPort is the read surface the checker needs.
type IntegrityPort interface {
	FindBalanceDrift(ctx context.Context) ([]BalanceDrift, error)
	FindCorruptLayers(ctx context.Context) ([]CostLayer, error)
}

// IntegrityReport summarises one reconciliation run.
type IntegrityReport struct {
	Drift         []BalanceDrift
	CorruptLayers []CostLayer
}

// Clean reports whether the run found nothing wrong.
func (r IntegrityReport) Clean() bool {
	return len(r.Drift) == 0 && len(r.CorruptLayers) == 0
}

// IntegrityChecker verifies that balance rows stay converged with the layer
// store and that no layer violates its own invariants. It reports; it never
// repairs.
type IntegrityChecker struct {
	repo   IntegrityPort
	logger *slog.Logger
}

// NewIntegrityChecker builds IntegrityChecker.
func NewIntegrityChecker(repo IntegrityPort, logger *slog.Logger) *IntegrityChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityChecker{repo: repo, logger: logger}
}

// Run executes one reconciliation pass. Findings are logged as correctness
// alerts and returned for the caller to surface.
func (c *IntegrityChecker) Run(ctx context.Context) (IntegrityReport, error) {
	drift, err := c.repo.FindBalanceDrift(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	corrupt, err := c.repo.FindCorruptLayers(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	report := IntegrityReport{Drift: drift, CorruptLayers: corrupt}
	for _, d := range report.Drift {
		c.logger.Error("balance drift detected",
			slog.String("stock_key", d.Key.String()),
			slog.String("balance_qty", d.BalanceQty.String()),
			slog.String("layer_qty", d.LayerQty.String()))
	}
	for _, layer := range report.CorruptLayers {
		c.logger.Error("corrupt cost layer detected",
			slog.Int64("layer_id", layer.ID),
			slog.String("stock_key", layer.Key.String()),
			slog.String("remaining", layer.RemainingQty.String()),
			slog.String("original", layer.OriginalQty.String()),
			slog.Bool("fully_consumed", layer.FullyConsumed))
	}
	if report.Clean() {
		c.logger.Info("inventory integrity check clean")
	}
	return report, nil
}
