package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"panaderia/backend/internal/apperror"
	"panaderia/backend/internal/money"
)

// CashCount holds the figures a cashier enters when closing the drawer.
type CashCount struct {
	InitialCash decimal.Decimal `json:"initial_cash"`
	CountedCash decimal.Decimal `json:"counted_cash"`
	Expenses    decimal.Decimal `json:"expenses"`
	Withdrawals decimal.Decimal `json:"withdrawals"`
}

func (c CashCount) Validate() error {
	fields := []struct {
		name  string
		label string
		value decimal.Decimal
	}{
		{"initial_cash", "initial cash", c.InitialCash},
		{"counted_cash", "counted cash", c.CountedCash},
		{"expenses", "expenses", c.Expenses},
		{"withdrawals", "withdrawals", c.Withdrawals},
	}
	for _, f := range fields {
		if f.value.IsNegative() {
			return apperror.Validation(f.name, f.label+" must not be negative")
		}
		if !f.value.Equal(money.Round(f.value)) {
			return apperror.Validation(f.name, f.label+" allows at most two decimal places")
		}
		if !money.InRange(f.value) {
			return apperror.Validation(f.name, f.label+" must be less than "+money.MaxAmount.String())
		}
	}
	return nil
}

type Variance string

const (
	VarianceSurplus   Variance = "surplus"
	VarianceShortfall Variance = "shortfall"
	VarianceExact     Variance = "exact"
)

type Reconciliation struct {
	ExpectedCash decimal.Decimal `json:"expected_cash"`
	Difference   decimal.Decimal `json:"difference"`
}

// Reconcile applies the drawer formula:
//
//	expected   = initial + cash sales - expenses - withdrawals
//	difference = counted - expected
func Reconcile(cashSales decimal.Decimal, count CashCount) Reconciliation {
	expected := count.InitialCash.Add(cashSales).Sub(count.Expenses).Sub(count.Withdrawals)
	return Reconciliation{
		ExpectedCash: expected,
		Difference:   count.CountedCash.Sub(expected),
	}
}

func (r Reconciliation) Variance() Variance {
	return VarianceOf(r.Difference)
}

func VarianceOf(difference decimal.Decimal) Variance {
	switch difference.Sign() {
	case 1:
		return VarianceSurplus
	case -1:
		return VarianceShortfall
	default:
		return VarianceExact
	}
}

// CashClosing is the one-per-day reconciliation record. Sales totals are
// snapshots taken when the closing was created or last corrected.
type CashClosing struct {
	ID             int64           `json:"id"`
	Date           Date            `json:"date"`
	InitialCash    decimal.Decimal `json:"initial_cash"`
	CountedCash    decimal.Decimal `json:"counted_cash"`
	Expenses       decimal.Decimal `json:"expenses"`
	ExpenseNotes   *string         `json:"expense_notes,omitempty"`
	Withdrawals    decimal.Decimal `json:"withdrawals"`
	Notes          *string         `json:"notes,omitempty"`
	TotalSales     decimal.Decimal `json:"total_sales"`
	TotalCashSales decimal.Decimal `json:"total_cash_sales"`
	ExpectedCash   decimal.Decimal `json:"expected_cash"`
	Difference     decimal.Decimal `json:"difference"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (c CashClosing) Count() CashCount {
	return CashCount{
		InitialCash: c.InitialCash,
		CountedCash: c.CountedCash,
		Expenses:    c.Expenses,
		Withdrawals: c.Withdrawals,
	}
}

// Apply stores a fresh sales snapshot and the reconciliation derived from it.
func (c *CashClosing) Apply(summary SalesSummary) {
	c.TotalSales = summary.TotalAmount
	c.TotalCashSales = summary.CashTotal()
	rec := Reconcile(c.TotalCashSales, c.Count())
	c.ExpectedCash = rec.ExpectedCash
	c.Difference = rec.Difference
}

// Validate checks the count and that the derived figures can be stored.
func (c CashClosing) Validate() error {
	if err := c.Count().Validate(); err != nil {
		return err
	}
	if !money.InRange(c.ExpectedCash) {
		return apperror.Validation("expected_cash", "expected cash must be less than "+money.MaxAmount.String())
	}
	if !money.InRange(c.Difference) {
		return apperror.Validation("difference", "difference must be less than "+money.MaxAmount.String())
	}
	return nil
}

func (c CashClosing) Variance() Variance {
	return VarianceOf(c.Difference)
}

type ClosingState string

const (
	ClosingDraft     ClosingState = "draft"
	ClosingCommitted ClosingState = "committed"
)

// DayClosing is what GetClosing returns for a date: either a DraftClosing
// (no record yet) or a CommittedClosing. The set is closed to this package.
type DayClosing interface {
	State() ClosingState
	Day() Date
	isDayClosing()
}

// DraftClosing is a read-only projection of the day's totals. It is never stored.
type DraftClosing struct {
	Date           Date            `json:"date"`
	TotalSales     decimal.Decimal `json:"total_sales"`
	TotalCashSales decimal.Decimal `json:"total_cash_sales"`
	CashCount
	ExpectedCash decimal.Decimal `json:"expected_cash"`
}

func NewDraftClosing(date Date, summary SalesSummary) DraftClosing {
	cash := summary.CashTotal()
	return DraftClosing{
		Date:           date,
		TotalSales:     summary.TotalAmount,
		TotalCashSales: cash,
		CashCount: CashCount{
			InitialCash: decimal.Zero,
			CountedCash: decimal.Zero,
			Expenses:    decimal.Zero,
			Withdrawals: decimal.Zero,
		},
		ExpectedCash: cash,
	}
}

// Preview runs the reconciliation for figures that have not been committed yet.
func (d DraftClosing) Preview(count CashCount) Reconciliation {
	return Reconcile(d.TotalCashSales, count)
}

func (d DraftClosing) State() ClosingState { return ClosingDraft }
func (d DraftClosing) Day() Date           { return d.Date }
func (DraftClosing) isDayClosing()         {}

type CommittedClosing struct {
	CashClosing
}

func (c CommittedClosing) State() ClosingState { return ClosingCommitted }
func (c CommittedClosing) Day() Date           { return c.Date }
func (CommittedClosing) isDayClosing()         {}
