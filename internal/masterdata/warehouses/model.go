package warehouses

import "time"

// Warehouse represents one cold-storage facility.
type Warehouse struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Room represents a temperature-controlled room inside a warehouse.
type Room struct {
	ID          int64   `json:"id"`
	WarehouseID int64   `json:"warehouse_id"`
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	TempMin     float64 `json:"temp_min"`
	TempMax     float64 `json:"temp_max"`
	IsActive    bool    `json:"is_active"`
}
