package integration

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/frostline-erp/frostline-erp/internal/inventory"
	"github.com/frostline-erp/frostline-erp/internal/masterdata/customers"
	"github.com/frostline-erp/frostline-erp/internal/masterdata/items"
	"github.com/frostline-erp/frostline-erp/internal/masterdata/shared"
)

// ItemLookup adapts the items master-data service to the inventory engine's
// item port.
type ItemLookup struct {
	service *items.Service
}

// NewItemLookup constructs the adapter.
func NewItemLookup(service *items.Service) *ItemLookup {
	return &ItemLookup{service: service}
}

// Lookup returns the slice of the item master the engine validates against.
func (l *ItemLookup) Lookup(ctx context.Context, itemID int64) (inventory.ItemInfo, error) {
	item, err := l.service.Get(ctx, itemID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrInvalidID) {
			return inventory.ItemInfo{}, inventory.ErrItemNotFound
		}
		return inventory.ItemInfo{}, err
	}
	return inventory.ItemInfo{
		UnitOfMeasure: item.UnitOfMeasure,
		IsPerishable:  item.IsPerishable,
		StandardCost:  item.StandardCost,
		IsActive:      item.IsActive,
	}, nil
}

// SetLastCost records a receipt's unit cost on the item master.
func (l *ItemLookup) SetLastCost(ctx context.Context, itemID int64, cost decimal.Decimal) error {
	return l.service.SetLastCost(ctx, itemID, cost)
}

// CustomerLookup adapts the customers service to the engine's customer port.
type CustomerLookup struct {
	service *customers.Service
}

// NewCustomerLookup constructs the adapter.
func NewCustomerLookup(service *customers.Service) *CustomerLookup {
	return &CustomerLookup{service: service}
}

// Exists reports whether the customer exists and is active.
func (l *CustomerLookup) Exists(ctx context.Context, customerID int64) (bool, error) {
	return l.service.Exists(ctx, customerID)
}
