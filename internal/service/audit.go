package service

import (
	"context"

	"panaderia/backend/internal/domain"
	"panaderia/backend/internal/store"
)

// ListAuditLogs returns entries recorded on the days of rng, newest first.
func (s *Service) ListAuditLogs(ctx context.Context, rng domain.DateRange, limit int) ([]domain.AuditLog, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = store.DefaultListLimit
	}

	from := rng.Start.Time()
	to := rng.End.AddDays(1).Time()
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}
