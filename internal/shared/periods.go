package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PeriodResolver maps transaction dates onto fiscal period identifiers.
type PeriodResolver struct {
	pool *pgxpool.Pool
}

// NewPeriodResolver constructs the resolver.
func NewPeriodResolver(pool *pgxpool.Pool) *PeriodResolver {
	return &PeriodResolver{pool: pool}
}

// PeriodForDate returns the identifier of the fiscal period covering the
// date, or empty when no period covers it. A missing period is not an error;
// callers decide whether to treat it as one.
func (r *PeriodResolver) PeriodForDate(ctx context.Context, date time.Time) (string, error) {
	if r == nil || r.pool == nil {
		return "", nil
	}
	var code string
	err := r.pool.QueryRow(ctx, `SELECT code FROM fiscal_periods
WHERE start_date <= $1 AND end_date >= $1
ORDER BY start_date DESC
LIMIT 1`, date).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return code, nil
}
