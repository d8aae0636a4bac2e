package service

import (
	"context"
	"log"

	"github.com/shopspring/decimal"

	"panaderia/backend/internal/cache"
	"panaderia/backend/internal/domain"
)

// Summarize aggregates sales in [start, end]. Concurrent callers asking for
// the same range at the same ledger revision share one computation, which
// is not cancelled when the caller that started it goes away.
func (s *Service) Summarize(ctx context.Context, start domain.Date, end domain.Date) (domain.SalesSummary, error) {
	rng := domain.DateRange{Start: start, End: end}
	if err := rng.Validate(); err != nil {
		return domain.SalesSummary{}, err
	}

	epoch, err := s.repo.LedgerEpoch(ctx)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	revision, err := s.repo.SalesRevision(ctx)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	key := cache.SummaryKey(epoch, revision, rng)

	v, err, _ := s.sfg.Do(key, func() (any, error) {
		ctx := context.WithoutCancel(ctx)

		cached, ok, err := s.summaries.Get(ctx, key)
		if err != nil {
			log.Printf("[service] WARN: summary cache get key=%s: %v", key, err)
		} else if ok {
			return *cached, nil
		}

		summary, err := s.repo.SummarizeSales(ctx, rng)
		if err != nil {
			return nil, err
		}
		if err := s.summaries.Set(ctx, key, &summary, s.summaryTTL); err != nil {
			log.Printf("[service] WARN: summary cache set key=%s: %v", key, err)
		}
		return summary, nil
	})
	if err != nil {
		return domain.SalesSummary{}, err
	}
	return cloneSummary(v.(domain.SalesSummary)), nil
}

// CashTotalForDate is the cash subtotal used by reconciliation. It goes
// through Summarize so both always agree.
func (s *Service) CashTotalForDate(ctx context.Context, date domain.Date) (decimal.Decimal, error) {
	summary, err := s.Summarize(ctx, date, date)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.CashTotal(), nil
}

func cloneSummary(src domain.SalesSummary) domain.SalesSummary {
	dst := src
	dst.PaymentTotals = make(map[domain.PaymentMethod]decimal.Decimal, len(src.PaymentTotals))
	for method, amount := range src.PaymentTotals {
		dst.PaymentTotals[method] = amount
	}
	return dst
}
