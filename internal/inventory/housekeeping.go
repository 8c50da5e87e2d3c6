package inventory

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetentionDays is how long fully consumed layers are kept before the
// sweep may remove them.
const DefaultRetentionDays = 90

// HousekeepingPort is the mutation surface the sweep needs.
type HousekeepingPort interface {
	DeleteConsumedLayersBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Housekeeper removes fully consumed cost layers past the retention window.
// This runs out-of-band; movement processing never depends on it.
type Housekeeper struct {
	repo          HousekeepingPort
	retentionDays int
	logger        *slog.Logger
}

// NewHousekeeper builds Housekeeper. retentionDays <= 0 falls back to the default.
func NewHousekeeper(repo HousekeepingPort, retentionDays int, logger *slog.Logger) *Housekeeper {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Housekeeper{repo: repo, retentionDays: retentionDays, logger: logger}
}

// Sweep deletes eligible layers and reports how many were removed.
func (h *Housekeeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -h.retentionDays)
	removed, err := h.repo.DeleteConsumedLayersBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	h.logger.Info("cost layer sweep completed",
		slog.Int64("removed", removed),
		slog.Time("cutoff", cutoff))
	return removed, nil
}
