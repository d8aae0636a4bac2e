package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"panaderia/backend/internal/domain"
	"panaderia/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("PANADERIA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PANADERIA_TEST_DATABASE_URL to run postgres integration test")
	}

	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

// testDay picks a far-future day unique to this run so parallel runs and
// leftover rows do not collide.
func testDay() domain.Date {
	offset := int(time.Now().UnixNano() % 300000)
	return domain.NewDate(2200, 1, 1).AddDays(offset)
}

func TestSaleLifecycleBumpsRevision(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	day := testDay()

	category := "Pan"
	product, err := s.CreateProduct(ctx, domain.Product{Name: "Pan IT", Category: &category, Price: decimal.NewFromInt(150), Active: true})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE date = $1`, day)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	rev0, err := s.SalesRevision(ctx)
	if err != nil {
		t.Fatalf("revision: %v", err)
	}

	created, err := s.CreateSale(ctx, domain.Sale{
		Date:          day,
		PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleItem{
			{ProductID: product.ID, Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(100)},
			{ProductID: product.ID, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(50)},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if !created.Total.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("expected total 250, got %s", created.Total)
	}
	if created.Items[0].ProductName == nil || *created.Items[0].ProductName != "Pan IT" {
		t.Fatalf("expected product name on items")
	}

	updated, err := s.UpdateSale(ctx, created.ID, func(sale *domain.Sale) error {
		sale.PaymentMethod = domain.PaymentCard
		sale.Items = sale.Items[:1]
		return nil
	})
	if err != nil {
		t.Fatalf("update sale: %v", err)
	}
	if !updated.Total.Equal(decimal.NewFromInt(200)) || updated.PaymentMethod != domain.PaymentCard {
		t.Fatalf("unexpected updated sale %+v", updated)
	}

	notes := "mostrador"
	annotated, err := s.UpdateSale(ctx, created.ID, func(sale *domain.Sale) error {
		sale.Notes = &notes
		return nil
	})
	if err != nil {
		t.Fatalf("notes update: %v", err)
	}
	if len(annotated.Items) != 1 || annotated.Items[0].ID != updated.Items[0].ID {
		t.Fatalf("notes-only edit must keep item ids: %+v -> %+v", updated.Items, annotated.Items)
	}

	epoch, err := s.LedgerEpoch(ctx)
	if err != nil || epoch == "" {
		t.Fatalf("expected a ledger epoch, got %q (%v)", epoch, err)
	}

	summary, err := s.SummarizeSales(ctx, domain.SingleDay(day))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.TotalCount != 1 || !summary.PaymentTotals[domain.PaymentCard].Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if err := s.DeleteSale(ctx, created.ID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	if _, err := s.GetSale(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	rev1, _ := s.SalesRevision(ctx)
	if rev1-rev0 < 3 {
		t.Fatalf("expected at least three revision bumps, got %d", rev1-rev0)
	}
}

func TestCreateClosingConflictsOnSameDate(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	day := testDay()
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_closings WHERE date = $1`, day)
	})

	closing := domain.CashClosing{
		Date:           day,
		InitialCash:    decimal.NewFromInt(1000),
		CountedCash:    decimal.NewFromInt(1400),
		Expenses:       decimal.NewFromInt(50),
		Withdrawals:    decimal.NewFromInt(30),
		TotalSales:     decimal.NewFromInt(500),
		TotalCashSales: decimal.NewFromInt(500),
		ExpectedCash:   decimal.NewFromInt(1420),
		Difference:     decimal.NewFromInt(-20),
	}
	created, err := s.CreateClosing(ctx, closing)
	if err != nil {
		t.Fatalf("create closing: %v", err)
	}
	if !created.Date.Equal(day) || !created.Difference.Equal(decimal.NewFromInt(-20)) {
		t.Fatalf("unexpected closing %+v", created)
	}

	if _, err := s.CreateClosing(ctx, closing); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	notes := "recount"
	updated, err := s.UpdateClosing(ctx, created.ID, func(c *domain.CashClosing) error {
		c.Notes = &notes
		return nil
	})
	if err != nil {
		t.Fatalf("update closing: %v", err)
	}
	if updated.Notes == nil || *updated.Notes != notes {
		t.Fatalf("expected notes to be stored")
	}
}
