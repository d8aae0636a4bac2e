package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"panaderia/backend/internal/domain"
	"panaderia/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

func saleFor(day domain.Date, method domain.PaymentMethod, productID int64, qty string, price string) domain.Sale {
	return domain.Sale{
		Date:          day,
		PaymentMethod: method,
		Items: []domain.SaleItem{{
			ProductID: productID,
			Quantity:  decimal.RequireFromString(qty),
			UnitPrice: decimal.RequireFromString(price),
		}},
	}
}

func TestSeededCatalog(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	products, err := s.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	if len(products) != len(demoCatalog) {
		t.Fatalf("expected %d products, got %d", len(demoCatalog), len(products))
	}

	category := "tortas"
	tortas, _ := s.ListProducts(ctx, domain.ProductFilter{Category: &category})
	if len(tortas) != 2 {
		t.Fatalf("expected 2 tortas, got %d", len(tortas))
	}

	found, _ := s.ListProducts(ctx, domain.ProductFilter{Search: "PAN"})
	if len(found) != 3 {
		t.Fatalf("expected 3 products matching pan, got %d", len(found))
	}

	page, _ := s.ListProducts(ctx, domain.ProductFilter{Limit: 4, Offset: 8})
	if len(page) != 2 {
		t.Fatalf("expected last page of 2, got %d", len(page))
	}
}

func TestCreateSaleAssignsIDsAndResolvesNames(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	day := domain.NewDate(2024, 7, 1)

	created, err := s.CreateSale(ctx, saleFor(day, domain.PaymentCash, 1, "3", "150"))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if created.ID != 1 || created.Items[0].ID == 0 {
		t.Fatalf("expected ids to be assigned, got %+v", created)
	}
	if !created.Total.Equal(decimal.NewFromInt(450)) {
		t.Fatalf("expected total 450, got %s", created.Total)
	}
	if created.Items[0].ProductName == nil || *created.Items[0].ProductName != "Pan Francés" {
		t.Fatalf("expected product name to be resolved")
	}

	if _, err := s.CreateSale(ctx, saleFor(day, domain.PaymentCash, 999, "1", "1")); !errors.Is(err, store.ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
}

func TestSalesRevisionTracksWrites(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	day := domain.NewDate(2024, 7, 1)

	rev0, _ := s.SalesRevision(ctx)
	created, _ := s.CreateSale(ctx, saleFor(day, domain.PaymentCard, 2, "1", "200"))
	rev1, _ := s.SalesRevision(ctx)
	if rev1 <= rev0 {
		t.Fatalf("create must bump revision")
	}

	_, err := s.UpdateSale(ctx, created.ID, func(sale *domain.Sale) error {
		sale.PaymentMethod = domain.PaymentCash
		return nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	rev2, _ := s.SalesRevision(ctx)
	if rev2 <= rev1 {
		t.Fatalf("update must bump revision")
	}

	if err := s.DeleteSale(ctx, created.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	rev3, _ := s.SalesRevision(ctx)
	if rev3 <= rev2 {
		t.Fatalf("delete must bump revision")
	}
	if err := s.DeleteSale(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestLedgerEpochIsPerStore(t *testing.T) {
	ctx := context.Background()
	a, b := New(), New()

	epochA, _ := a.LedgerEpoch(ctx)
	epochB, _ := b.LedgerEpoch(ctx)
	if epochA == "" || epochA == epochB {
		t.Fatalf("expected distinct non-empty epochs, got %q and %q", epochA, epochB)
	}

	a.CreateProduct(ctx, domain.Product{Name: "Pan", Price: decimal.NewFromInt(150), Active: true})
	if _, err := a.CreateSale(ctx, saleFor(domain.NewDate(2024, 7, 1), domain.PaymentCash, 1, "1", "150")); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if again, _ := a.LedgerEpoch(ctx); again != epochA {
		t.Fatalf("epoch must not change on writes: %q -> %q", epochA, again)
	}
}

func TestUpdateSaleKeepsItemIDsWhenItemsUntouched(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	created, _ := s.CreateSale(ctx, saleFor(domain.NewDate(2024, 7, 1), domain.PaymentCash, 1, "1", "150"))

	notes := "mostrador"
	updated, err := s.UpdateSale(ctx, created.ID, func(sale *domain.Sale) error {
		sale.Notes = &notes
		return nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Items[0].ID != created.Items[0].ID {
		t.Fatalf("item id changed on a notes-only edit: %d -> %d", created.Items[0].ID, updated.Items[0].ID)
	}
}

func TestUpdateSaleMutationErrorLeavesSaleUntouched(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	day := domain.NewDate(2024, 7, 1)
	created, _ := s.CreateSale(ctx, saleFor(day, domain.PaymentCash, 1, "1", "150"))
	rev, _ := s.SalesRevision(ctx)

	boom := errors.New("boom")
	_, err := s.UpdateSale(ctx, created.ID, func(sale *domain.Sale) error {
		sale.Items = nil
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	after, _ := s.GetSale(ctx, created.ID)
	if len(after.Items) != 1 || !after.Total.Equal(created.Total) {
		t.Fatalf("sale changed after failed mutation: %+v", after)
	}
	if got, _ := s.SalesRevision(ctx); got != rev {
		t.Fatalf("failed mutation must not bump revision")
	}
}

func TestListSalesFiltersAndOrders(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	day := domain.NewDate(2024, 7, 1)
	for i := 0; i < 3; i++ {
		_, _ = s.CreateSale(ctx, saleFor(day.AddDays(i), domain.PaymentCash, 1, "1", "10"))
	}
	_, _ = s.CreateSale(ctx, saleFor(day, domain.PaymentTransfer, 1, "1", "10"))

	rng := domain.DateRange{Start: day, End: day.AddDays(1)}
	sales, err := s.ListSales(ctx, domain.SaleFilter{Range: &rng})
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 3 {
		t.Fatalf("expected 3 sales in range, got %d", len(sales))
	}
	for i := 1; i < len(sales); i++ {
		if sales[i-1].ID >= sales[i].ID {
			t.Fatalf("sales must be ordered by id")
		}
	}

	method := domain.PaymentTransfer
	transfers, _ := s.ListSales(ctx, domain.SaleFilter{PaymentMethod: &method})
	if len(transfers) != 1 {
		t.Fatalf("expected 1 transfer sale, got %d", len(transfers))
	}
}

func TestSummarizeSales(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	day := domain.NewDate(2024, 7, 1)
	_, _ = s.CreateSale(ctx, saleFor(day, domain.PaymentCash, 1, "1", "100"))
	_, _ = s.CreateSale(ctx, saleFor(day, domain.PaymentCard, 1, "1", "200"))
	_, _ = s.CreateSale(ctx, saleFor(day.AddDays(1), domain.PaymentCash, 1, "1", "999"))

	summary, err := s.SummarizeSales(ctx, domain.SingleDay(day))
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if summary.TotalCount != 2 || !summary.TotalAmount.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("unexpected summary %+v", summary)
	}

	_, err = s.SummarizeSales(ctx, domain.DateRange{Start: day, End: day.AddDays(-1)})
	if !errors.Is(err, domain.ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange, got %v", err)
	}
}

func TestCreateClosingIsUniquePerDate(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := domain.NewDate(2024, 7, 1)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateClosing(ctx, domain.CashClosing{Date: day})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || conflicts != 7 {
		t.Fatalf("expected 1 created and 7 conflicts, got %d and %d", created, conflicts)
	}
}

func TestUpdateClosingKeepsDate(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := domain.NewDate(2024, 7, 1)
	created, err := s.CreateClosing(ctx, domain.CashClosing{Date: day, InitialCash: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("create closing failed: %v", err)
	}

	updated, err := s.UpdateClosing(ctx, created.ID, func(c *domain.CashClosing) error {
		c.Date = day.AddDays(3)
		c.InitialCash = decimal.NewFromInt(20)
		return nil
	})
	if err != nil {
		t.Fatalf("update closing failed: %v", err)
	}
	if !updated.Date.Equal(day) || !updated.InitialCash.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected closing %+v", updated)
	}
	byDate, err := s.GetClosingByDate(ctx, day)
	if err != nil || byDate.ID != created.ID {
		t.Fatalf("closing must stay indexed by its date: %v", err)
	}

	if _, err := s.UpdateClosing(ctx, 99, func(*domain.CashClosing) error { return nil }); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListClosingsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := domain.NewDate(2024, 7, 1)
	for _, offset := range []int{2, 0, 1} {
		if _, err := s.CreateClosing(ctx, domain.CashClosing{Date: day.AddDays(offset)}); err != nil {
			t.Fatalf("create closing failed: %v", err)
		}
	}
	closings, err := s.ListClosings(ctx, domain.ClosingFilter{})
	if err != nil {
		t.Fatalf("list closings failed: %v", err)
	}
	if len(closings) != 3 || !closings[0].Date.Equal(day.AddDays(2)) || !closings[2].Date.Equal(day) {
		t.Fatalf("unexpected order %+v", closings)
	}
}

func TestAuditLogWindow(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_ = s.CreateAuditLog(ctx, domain.AuditLog{Action: "sale.create", CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	logs, err := s.ListAuditLogs(ctx, base, base.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries in window, got %d", len(logs))
	}
	if !logs[0].CreatedAt.After(logs[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}
	if logs[0].ID == "" {
		t.Fatalf("expected generated id")
	}
}
