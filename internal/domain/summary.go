package domain

import (
	"github.com/shopspring/decimal"

	"panaderia/backend/internal/money"
)

// SalesSummary aggregates sales over an inclusive date range. PaymentTotals
// only carries methods that have at least one sale in the range.
type SalesSummary struct {
	Start         Date                              `json:"start_date"`
	End           Date                              `json:"end_date"`
	TotalAmount   decimal.Decimal                   `json:"total_amount"`
	TotalCount    int                               `json:"total_count"`
	AverageTicket decimal.Decimal                   `json:"average_ticket"`
	PaymentTotals map[PaymentMethod]decimal.Decimal `json:"payment_totals"`
}

func (s SalesSummary) CashTotal() decimal.Decimal {
	if total, ok := s.PaymentTotals[PaymentCash]; ok {
		return total
	}
	return decimal.Zero
}

type SummaryBuilder struct {
	rng     DateRange
	total   decimal.Decimal
	count   int
	methods map[PaymentMethod]decimal.Decimal
}

func NewSummaryBuilder(rng DateRange) *SummaryBuilder {
	return &SummaryBuilder{
		rng:     rng,
		total:   decimal.Zero,
		methods: make(map[PaymentMethod]decimal.Decimal, len(PaymentMethods)),
	}
}

// Add folds a sale into the summary if its date is inside the range.
func (b *SummaryBuilder) Add(sale Sale) {
	if !b.rng.Contains(sale.Date) {
		return
	}
	b.AddMethodTotal(sale.PaymentMethod, 1, sale.Total)
}

// AddMethodTotal folds a pre-aggregated group, as returned by a GROUP BY query.
func (b *SummaryBuilder) AddMethodTotal(method PaymentMethod, count int, amount decimal.Decimal) {
	if count < 1 {
		return
	}
	b.count += count
	b.total = b.total.Add(amount)
	if current, ok := b.methods[method]; ok {
		b.methods[method] = current.Add(amount)
	} else {
		b.methods[method] = amount
	}
}

func (b *SummaryBuilder) Build() SalesSummary {
	average := decimal.Zero
	if b.count > 0 {
		average = money.Round(b.total.Div(decimal.NewFromInt(int64(b.count))))
	}
	totals := make(map[PaymentMethod]decimal.Decimal, len(b.methods))
	for method, amount := range b.methods {
		totals[method] = amount
	}
	return SalesSummary{
		Start:         b.rng.Start,
		End:           b.rng.End,
		TotalAmount:   b.total,
		TotalCount:    b.count,
		AverageTicket: average,
		PaymentTotals: totals,
	}
}

// Summarize is the pure aggregation over an in-memory slice of sales.
func Summarize(rng DateRange, sales []Sale) (SalesSummary, error) {
	if err := rng.Validate(); err != nil {
		return SalesSummary{}, err
	}
	builder := NewSummaryBuilder(rng)
	for _, sale := range sales {
		builder.Add(sale)
	}
	return builder.Build(), nil
}
