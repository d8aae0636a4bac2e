package memory

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"panaderia/backend/internal/domain"
	"panaderia/backend/internal/store"
	"panaderia/backend/internal/xid"
)

type Store struct {
	mu            sync.RWMutex
	products      map[int64]domain.Product
	sales         map[int64]domain.Sale
	closings      map[int64]domain.CashClosing
	closingByDate map[string]int64
	auditLogs     []domain.AuditLog

	nextProductID int64
	nextSaleID    int64
	nextItemID    int64
	nextClosingID int64
	revision      int64
	epoch         string
}

func New() *Store {
	return &Store{
		products:      make(map[int64]domain.Product),
		sales:         make(map[int64]domain.Sale),
		closings:      make(map[int64]domain.CashClosing),
		closingByDate: make(map[string]int64),
		auditLogs:     make([]domain.AuditLog, 0, 128),
		epoch:         xid.New("ledger"),
	}
}

type seedProduct struct {
	name     string
	category string
	price    int64
}

var demoCatalog = []seedProduct{
	{"Pan Francés", "Pan", 150},
	{"Pan Lactal", "Pan", 200},
	{"Facturas", "Facturas", 80},
	{"Medialunas", "Facturas", 100},
	{"Torta de Chocolate", "Tortas", 2500},
	{"Torta de Frutilla", "Tortas", 2800},
	{"Alfajores", "Dulces", 120},
	{"Muffins", "Dulces", 150},
	{"Croissants", "Facturas", 90},
	{"Pan Integral", "Pan", 180},
}

// NewSeeded returns a store preloaded with the bakery demo catalog.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	for _, p := range demoCatalog {
		s.nextProductID++
		category := p.category
		s.products[s.nextProductID] = domain.Product{
			ID:        s.nextProductID,
			Name:      p.name,
			Category:  &category,
			Price:     decimal.NewFromInt(p.price),
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	log.Printf("[memory-store] seeded %d demo products", len(demoCatalog))
	return s
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.nextProductID++
	product.ID = s.nextProductID
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = cloneProduct(product)
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyProduct := cloneProduct(product)
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = cloneProduct(product)
	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		if filter.Category != nil && !strings.EqualFold(deref(p.Category), *filter.Category) {
			continue
		}
		if filter.Active != nil && p.Active != *filter.Active {
			continue
		}
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if deref(a.Category) == deref(b.Category) {
			if a.Name == b.Name {
				return compareID(a.ID, b.ID)
			}
			return cmpString(a.Name, b.Name)
		}
		return cmpString(deref(a.Category), deref(b.Category))
	})

	return paginate(products, filter.Limit, filter.Offset), nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkProductsLocked(sale.Items); err != nil {
		return nil, err
	}
	sale = sale.Clone()
	sale.Recompute()
	if err := sale.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s.nextSaleID++
	sale.ID = s.nextSaleID
	for idx := range sale.Items {
		s.nextItemID++
		sale.Items[idx].ID = s.nextItemID
		sale.Items[idx].ProductName = nil
	}
	sale.CreatedAt = now
	sale.UpdatedAt = now
	s.sales[sale.ID] = sale
	s.revision++

	created := s.resolveSaleLocked(sale)
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	resolved := s.resolveSaleLocked(sale)
	return &resolved, nil
}

func (s *Store) UpdateSale(_ context.Context, id int64, mutate store.SaleMutation) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	next := s.resolveSaleLocked(current)
	if err := mutate(&next); err != nil {
		return nil, err
	}
	if err := s.checkProductsLocked(next.Items); err != nil {
		return nil, err
	}
	next.Recompute()
	if err := next.Validate(); err != nil {
		return nil, err
	}

	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	for idx := range next.Items {
		if next.Items[idx].ID == 0 {
			s.nextItemID++
			next.Items[idx].ID = s.nextItemID
		}
		next.Items[idx].ProductName = nil
	}
	s.sales[id] = next
	s.revision++

	updated := s.resolveSaleLocked(next)
	return &updated, nil
}

func (s *Store) DeleteSale(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sales[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.sales, id)
	s.revision++
	return nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.Range != nil && !filter.Range.Contains(sale.Date) {
			continue
		}
		if filter.PaymentMethod != nil && sale.PaymentMethod != *filter.PaymentMethod {
			continue
		}
		sales = append(sales, sale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return compareID(a.ID, b.ID)
	})

	page := paginate(sales, filter.Limit, filter.Offset)
	for idx := range page {
		page[idx] = s.resolveSaleLocked(page[idx])
	}
	return page, nil
}

func (s *Store) SummarizeSales(_ context.Context, rng domain.DateRange) (domain.SalesSummary, error) {
	if err := rng.Validate(); err != nil {
		return domain.SalesSummary{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	builder := domain.NewSummaryBuilder(rng)
	for _, sale := range s.sales {
		builder.Add(sale)
	}
	return builder.Build(), nil
}

func (s *Store) SalesRevision(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision, nil
}

// LedgerEpoch is fixed at construction; every Store is a distinct ledger.
func (s *Store) LedgerEpoch(_ context.Context) (string, error) {
	return s.epoch, nil
}

func (s *Store) GetClosing(_ context.Context, id int64) (*domain.CashClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	closing, ok := s.closings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneClosing(closing)
	return &found, nil
}

func (s *Store) GetClosingByDate(_ context.Context, date domain.Date) (*domain.CashClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.closingByDate[date.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneClosing(s.closings[id])
	return &found, nil
}

func (s *Store) ListClosings(_ context.Context, filter domain.ClosingFilter) ([]domain.CashClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashClosing, 0, len(s.closings))
	for _, closing := range s.closings {
		if filter.Range != nil && !filter.Range.Contains(closing.Date) {
			continue
		}
		result = append(result, cloneClosing(closing))
	}
	slices.SortFunc(result, func(a, b domain.CashClosing) int {
		return b.Date.Compare(a.Date)
	})
	return paginate(result, filter.Limit, filter.Offset), nil
}

func (s *Store) CreateClosing(_ context.Context, closing domain.CashClosing) (*domain.CashClosing, error) {
	if closing.Date.IsZero() {
		return nil, fmt.Errorf("closing date is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := closing.Date.String()
	if _, exists := s.closingByDate[key]; exists {
		return nil, store.ErrConflict
	}

	now := time.Now().UTC()
	s.nextClosingID++
	closing.ID = s.nextClosingID
	closing.CreatedAt = now
	closing.UpdatedAt = now
	s.closings[closing.ID] = cloneClosing(closing)
	s.closingByDate[key] = closing.ID

	created := cloneClosing(closing)
	return &created, nil
}

func (s *Store) UpdateClosing(_ context.Context, id int64, mutate store.ClosingMutation) (*domain.CashClosing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.closings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	next := cloneClosing(current)
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.Date = current.Date
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	s.closings[id] = cloneClosing(next)

	return &next, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) checkProductsLocked(items []domain.SaleItem) error {
	for _, item := range items {
		if _, ok := s.products[item.ProductID]; !ok {
			return fmt.Errorf("product %d: %w", item.ProductID, store.ErrUnknownProduct)
		}
	}
	return nil
}

// resolveSaleLocked returns a copy of sale with product names filled in.
func (s *Store) resolveSaleLocked(sale domain.Sale) domain.Sale {
	resolved := sale.Clone()
	for idx, item := range resolved.Items {
		if p, ok := s.products[item.ProductID]; ok {
			name := p.Name
			resolved.Items[idx].ProductName = &name
		}
	}
	return resolved
}

func paginate[T any](items []T, limit, offset int) []T {
	limit, offset = store.Page(limit, offset)
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func compareID(a int64, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneProduct(src domain.Product) domain.Product {
	dst := src
	if src.Category != nil {
		category := *src.Category
		dst.Category = &category
	}
	return dst
}

func cloneClosing(src domain.CashClosing) domain.CashClosing {
	dst := src
	if src.Notes != nil {
		notes := *src.Notes
		dst.Notes = &notes
	}
	if src.ExpenseNotes != nil {
		notes := *src.ExpenseNotes
		dst.ExpenseNotes = &notes
	}
	return dst
}
