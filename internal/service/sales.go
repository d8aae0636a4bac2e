package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"panaderia/backend/internal/apperror"
	"panaderia/backend/internal/domain"
	"panaderia/backend/internal/money"
	"panaderia/backend/internal/store"
)

// RecordSale validates and stores a sale. The total is always derived from
// the items; callers cannot supply it.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	if req.Date.IsZero() {
		return domain.Sale{}, apperror.Validation("date", "date is required")
	}
	if err := validatePaymentMethod(req.PaymentMethod); err != nil {
		return domain.Sale{}, err
	}
	items, err := domain.ItemsFromInput(req.Items)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.checkProducts(ctx, items); err != nil {
		return domain.Sale{}, err
	}

	sale := domain.Sale{
		Date:          req.Date,
		PaymentMethod: req.PaymentMethod,
		Items:         items,
		Notes:         trimmedOrNil(req.Notes),
	}
	sale.Recompute()

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, saleStoreError(err, 0)
	}

	s.logAudit(ctx, "sale.create", "sale", strconv.FormatInt(created.ID, 10), fmt.Sprintf("date=%s,method=%s,total=%s", created.Date, created.PaymentMethod, money.String(created.Total)))
	return *created, nil
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, storeError(err, "sale", id)
	}
	return *sale, nil
}

// UpdateSale applies a patch and recomputes the total. Items, when present,
// replace the existing lines entirely.
func (s *Service) UpdateSale(ctx context.Context, id int64, req domain.SaleUpdateRequest) (domain.Sale, error) {
	if req.Date != nil && req.Date.IsZero() {
		return domain.Sale{}, apperror.Validation("date", "date must not be empty")
	}
	if req.PaymentMethod != nil {
		if err := validatePaymentMethod(*req.PaymentMethod); err != nil {
			return domain.Sale{}, err
		}
	}
	var items []domain.SaleItem
	if req.Items != nil {
		parsed, err := domain.ItemsFromInput(req.Items)
		if err != nil {
			return domain.Sale{}, err
		}
		if err := s.checkProducts(ctx, parsed); err != nil {
			return domain.Sale{}, err
		}
		items = parsed
	}

	updated, err := s.repo.UpdateSale(ctx, id, func(sale *domain.Sale) error {
		if req.Date != nil {
			sale.Date = *req.Date
		}
		if req.PaymentMethod != nil {
			sale.PaymentMethod = *req.PaymentMethod
		}
		if items != nil {
			sale.Items = items
		}
		if req.Notes != nil {
			sale.Notes = trimmedOrNil(req.Notes)
		}
		sale.Recompute()
		return nil
	})
	if err != nil {
		return domain.Sale{}, saleStoreError(err, id)
	}

	s.logAudit(ctx, "sale.update", "sale", strconv.FormatInt(updated.ID, 10), fmt.Sprintf("date=%s,method=%s,total=%s", updated.Date, updated.PaymentMethod, money.String(updated.Total)))
	return *updated, nil
}

func (s *Service) DeleteSale(ctx context.Context, id int64) error {
	if err := s.repo.DeleteSale(ctx, id); err != nil {
		return storeError(err, "sale", id)
	}
	s.logAudit(ctx, "sale.delete", "sale", strconv.FormatInt(id, 10), "")
	return nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.Range != nil {
		if err := filter.Range.Validate(); err != nil {
			return nil, err
		}
	}
	if filter.PaymentMethod != nil {
		if err := validatePaymentMethod(*filter.PaymentMethod); err != nil {
			return nil, err
		}
	}
	return s.repo.ListSales(ctx, filter)
}

// checkProducts rejects lines whose product does not exist. Inactive
// products are still accepted so past sales can be corrected.
func (s *Service) checkProducts(ctx context.Context, items []domain.SaleItem) error {
	seen := make(map[int64]struct{}, len(items))
	for idx, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		if _, err := s.repo.GetProduct(ctx, item.ProductID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperror.Validation(fmt.Sprintf("items[%d].product_id", idx), fmt.Sprintf("product %d does not exist", item.ProductID))
			}
			return err
		}
	}
	return nil
}

func saleStoreError(err error, id int64) error {
	if errors.Is(err, store.ErrUnknownProduct) {
		return apperror.Validation("items", err.Error()).Wrap(err)
	}
	return storeError(err, "sale", id)
}

func validatePaymentMethod(method domain.PaymentMethod) error {
	if method == "" {
		return apperror.Validation("payment_method", "payment method is required")
	}
	if !method.Valid() {
		return apperror.Validation("payment_method", fmt.Sprintf("unsupported payment method %q", method))
	}
	return nil
}
