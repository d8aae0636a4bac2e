package store

import (
	"context"
	"errors"
	"time"

	"panaderia/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrUnknownProduct is returned when a sale line references a missing product.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrOutOfRange is returned when a value does not fit its column.
	ErrOutOfRange = errors.New("value out of range")
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

type ProductRepository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
}

// SaleMutation edits a sale in place inside the store's write transaction.
// Returning an error aborts the update and leaves the stored sale untouched.
type SaleMutation func(sale *domain.Sale) error

type SaleRepository interface {
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	UpdateSale(ctx context.Context, id int64, mutate SaleMutation) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id int64) error
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	// SummarizeSales aggregates the range from a single consistent snapshot.
	SummarizeSales(ctx context.Context, rng domain.DateRange) (domain.SalesSummary, error)
	// SalesRevision increases on every sale create, update and delete.
	SalesRevision(ctx context.Context) (int64, error)
	// LedgerEpoch identifies this ledger. Revisions are only comparable
	// between calls that return the same epoch.
	LedgerEpoch(ctx context.Context) (string, error)
}

type ClosingMutation func(closing *domain.CashClosing) error

type ClosingRepository interface {
	GetClosing(ctx context.Context, id int64) (*domain.CashClosing, error)
	GetClosingByDate(ctx context.Context, date domain.Date) (*domain.CashClosing, error)
	ListClosings(ctx context.Context, filter domain.ClosingFilter) ([]domain.CashClosing, error)
	// CreateClosing fails with ErrConflict when the date already has a closing.
	CreateClosing(ctx context.Context, closing domain.CashClosing) (*domain.CashClosing, error)
	UpdateClosing(ctx context.Context, id int64, mutate ClosingMutation) (*domain.CashClosing, error)
}

type AuditRepository interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type Repository interface {
	ProductRepository
	SaleRepository
	ClosingRepository
	AuditRepository
}

// Page normalizes limit/offset for list queries.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
