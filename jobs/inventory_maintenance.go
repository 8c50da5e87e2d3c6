package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/frostline-erp/frostline-erp/internal/inventory"
	jobmetrics "github.com/frostline-erp/frostline-erp/internal/jobs"
)

// HousekeepingJob runs the cost layer retention sweep.
type HousekeepingJob struct {
	Keeper  *inventory.Housekeeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewHousekeepingJob initialises the housekeeping handler.
func NewHousekeepingJob(keeper *inventory.Housekeeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *HousekeepingJob {
	return &HousekeepingJob{Keeper: keeper, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep.
func (j *HousekeepingJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Keeper == nil {
		return errors.New("housekeeping: handler not configured")
	}
	tracker := j.Metrics.Track(TaskInventoryHousekeeping)
	removed, err := j.Keeper.Sweep(ctx)
	if err != nil {
		return tracker.End(err)
	}
	j.logger().Info("housekeeping sweep finished", slog.Int64("removed", removed))
	return tracker.End(nil)
}

func (j *HousekeepingJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// IntegrityJob reconciles balances against the cost layer store. A dirty
// report fails the task so the finding shows up in queue observability as
// well as the logs.
type IntegrityJob struct {
	Checker *inventory.IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityJob initialises the reconciliation handler.
func NewIntegrityJob(checker *inventory.IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityJob {
	return &IntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle executes one reconciliation pass.
func (j *IntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Checker == nil {
		return errors.New("integrity: handler not configured")
	}
	tracker := j.Metrics.Track(TaskInventoryIntegrity)
	report, err := j.Checker.Run(ctx)
	if err != nil {
		return tracker.End(err)
	}
	j.Metrics.AddFindings("balance_drift", len(report.Drift))
	j.Metrics.AddFindings("corrupt_layer", len(report.CorruptLayers))
	if !report.Clean() {
		err := fmt.Errorf("inventory integrity violated: %d drifted balances, %d corrupt layers: %w",
			len(report.Drift), len(report.CorruptLayers), asynq.SkipRetry)
		return tracker.End(err)
	}
	return tracker.End(nil)
}

// GLPostJob consumes ledger posting tasks. Voucher construction lives with
// the accounting system; this handler records the hand-off.
type GLPostJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLPostJob initialises the ledger posting consumer.
func NewGLPostJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *GLPostJob {
	return &GLPostJob{Logger: logger, Metrics: metrics}
}

// Handle records one posted movement for the ledger bridge.
func (j *GLPostJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("gl post: handler not configured")
	}
	tracker := j.Metrics.Track(TaskGLPost)
	var payload GLPostPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	j.logger().Info("gl posting handed off",
		slog.String("code", payload.Code),
		slog.String("type", payload.Type),
		slog.String("total_cost", payload.TotalCost))
	return tracker.End(nil)
}

func (j *GLPostJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
