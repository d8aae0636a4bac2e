package cache

import (
	"context"
	"fmt"
	"time"

	"panaderia/backend/internal/domain"
)

// SummaryCache stores computed sales summaries. Keys embed the ledger epoch
// and revision, so any sale write makes earlier entries unreachable and two
// ledgers sharing one cache never read each other's entries.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.SalesSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.SalesSummary, ttl time.Duration) error
}

func SummaryKey(epoch string, revision int64, rng domain.DateRange) string {
	return fmt.Sprintf("summary:%s:%d:%s:%s", epoch, revision, rng.Start, rng.End)
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.SalesSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.SalesSummary, _ time.Duration) error {
	return nil
}
