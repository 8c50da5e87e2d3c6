package items

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item represents a stock-keeping item in the master data.
type Item struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	IsPerishable  bool            `json:"is_perishable"`
	StandardCost  decimal.Decimal `json:"standard_cost"`
	LastCost      decimal.Decimal `json:"last_cost"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
