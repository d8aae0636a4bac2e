package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"panaderia/backend/internal/apperror"
	"panaderia/backend/internal/money"
)

// QuantityPlaces bounds quantity precision; goods sold by weight go down to grams.
const QuantityPlaces = 3

// MaxQuantity is the exclusive bound on a line quantity (NUMERIC(12,3)).
var MaxQuantity = decimal.New(1, 9)

type SaleItem struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	ProductName *string         `json:"product_name,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// LineTotal is quantity times the unit price captured at sale time, rounded
// to the currency minor unit.
func (i SaleItem) LineTotal() decimal.Decimal {
	return money.Round(i.Quantity.Mul(i.UnitPrice))
}

type Sale struct {
	ID            int64         `json:"id"`
	Date          Date          `json:"date"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Items         []SaleItem    `json:"items"`
	Notes         *string       `json:"notes,omitempty"`
	// Total is always derived from Items; see Recompute.
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func ComputeTotal(items []SaleItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func (s *Sale) Recompute() {
	s.Total = ComputeTotal(s.Items)
}

// ItemsFromInput validates line inputs and converts them into sale items.
func ItemsFromInput(inputs []SaleItemInput) ([]SaleItem, error) {
	if len(inputs) == 0 {
		return nil, apperror.Validation("items", "at least one item is required")
	}
	items := make([]SaleItem, 0, len(inputs))
	for idx, in := range inputs {
		if in.ProductID < 1 {
			return nil, apperror.Validation(fmt.Sprintf("items[%d].product_id", idx), "product id is required")
		}
		if !in.Quantity.IsPositive() {
			return nil, apperror.Validation(fmt.Sprintf("items[%d].quantity", idx), "quantity must be greater than zero")
		}
		if !in.Quantity.Equal(in.Quantity.Round(QuantityPlaces)) {
			return nil, apperror.Validation(fmt.Sprintf("items[%d].quantity", idx), fmt.Sprintf("quantity allows at most %d decimal places", QuantityPlaces))
		}
		if !in.Quantity.LessThan(MaxQuantity) {
			return nil, apperror.Validation(fmt.Sprintf("items[%d].quantity", idx), "quantity must be less than "+MaxQuantity.String())
		}
		if in.UnitPrice.IsNegative() {
			return nil, apperror.Validation(fmt.Sprintf("items[%d].unit_price", idx), "unit price must not be negative")
		}
		if !in.UnitPrice.Equal(money.Round(in.UnitPrice)) {
			return nil, apperror.Validation(fmt.Sprintf("items[%d].unit_price", idx), "unit price allows at most two decimal places")
		}
		if !money.InRange(in.UnitPrice) {
			return nil, apperror.Validation(fmt.Sprintf("items[%d].unit_price", idx), "unit price must be less than "+money.MaxAmount.String())
		}
		item := SaleItem{
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
		}
		if !money.InRange(item.LineTotal()) {
			return nil, apperror.Validation(fmt.Sprintf("items[%d]", idx), "line total must be less than "+money.MaxAmount.String())
		}
		items = append(items, item)
	}
	return items, nil
}

// Validate checks the invariants every stored sale must hold.
func (s Sale) Validate() error {
	if s.Date.IsZero() {
		return apperror.Validation("date", "date is required")
	}
	if !s.PaymentMethod.Valid() {
		return apperror.Validation("payment_method", fmt.Sprintf("unsupported payment method %q", s.PaymentMethod))
	}
	if len(s.Items) == 0 {
		return apperror.Validation("items", "at least one item is required")
	}
	if !s.Total.Equal(ComputeTotal(s.Items)) {
		return apperror.Validation("total", "total does not match the sum of line totals")
	}
	if !money.InRange(s.Total) {
		return apperror.Validation("total", "sale total must be less than "+money.MaxAmount.String())
	}
	return nil
}

func (s Sale) Clone() Sale {
	dup := s
	dup.Items = make([]SaleItem, len(s.Items))
	copy(dup.Items, s.Items)
	if s.Notes != nil {
		notes := *s.Notes
		dup.Notes = &notes
	}
	return dup
}
