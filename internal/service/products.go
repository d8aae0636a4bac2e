package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"panaderia/backend/internal/apperror"
	"panaderia/backend/internal/domain"
	"panaderia/backend/internal/money"
)

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, apperror.Validation("name", "name is required")
	}
	if err := validatePrice(req.Price); err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		Name:     name,
		Category: trimmedOrNil(req.Category),
		Price:    req.Price,
		Active:   true,
	}
	if req.Active != nil {
		product.Active = *req.Active
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, storeError(err, "product", name)
	}

	s.logAudit(ctx, "product.create", "product", strconv.FormatInt(created.ID, 10), fmt.Sprintf("name=%s,price=%s", created.Name, money.String(created.Price)))
	return *created, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, storeError(err, "product", id)
	}
	return *product, nil
}

// UpdateProduct patches a product. Products are never hard deleted; set
// Active to false to retire one while keeping historical sales intact.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, storeError(err, "product", id)
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, apperror.Validation("name", "name must not be empty")
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = trimmedOrNil(req.Category)
	}
	if req.Price != nil {
		if err := validatePrice(*req.Price); err != nil {
			return domain.Product{}, err
		}
		updated.Price = *req.Price
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, storeError(err, "product", id)
	}

	s.logAudit(ctx, "product.update", "product", strconv.FormatInt(saved.ID, 10), fmt.Sprintf("active=%t,price=%s", saved.Active, money.String(saved.Price)))
	return *saved, nil
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Category = trimmedOrNil(filter.Category)
	return s.repo.ListProducts(ctx, filter)
}

func validatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return apperror.Validation("price", "price must not be negative")
	}
	if !price.Equal(money.Round(price)) {
		return apperror.Validation("price", "price allows at most two decimal places")
	}
	if !money.InRange(price) {
		return apperror.Validation("price", "price must be less than "+money.MaxAmount.String())
	}
	return nil
}
