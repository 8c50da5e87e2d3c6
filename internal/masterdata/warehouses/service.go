package warehouses

import (
	"context"

	"github.com/frostline-erp/frostline-erp/internal/masterdata/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context) ([]Warehouse, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) ListRooms(ctx context.Context, warehouseID int64) ([]Room, error) {
	if warehouseID <= 0 {
		return nil, shared.ErrInvalidID
	}
	return s.repo.ListRooms(ctx, warehouseID)
}
