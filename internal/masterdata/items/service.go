package items

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/frostline-erp/frostline-erp/internal/masterdata/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Item, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, item Item) (Item, error) {
	item.Code = strings.TrimSpace(item.Code)
	item.Name = strings.TrimSpace(item.Name)
	if item.Code == "" || item.Name == "" {
		return Item{}, shared.ErrRequiredField
	}
	if item.UnitOfMeasure == "" {
		return Item{}, shared.ErrRequiredField
	}
	if item.StandardCost.Sign() < 0 || item.LastCost.Sign() < 0 {
		return Item{}, shared.ErrValidation
	}
	return s.repo.Create(ctx, item)
}

func (s *Service) SetLastCost(ctx context.Context, id int64, cost decimal.Decimal) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if cost.Sign() < 0 {
		return shared.ErrValidation
	}
	return s.repo.SetLastCost(ctx, id, cost)
}
