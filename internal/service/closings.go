package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"panaderia/backend/internal/apperror"
	"panaderia/backend/internal/domain"
	"panaderia/backend/internal/money"
	"panaderia/backend/internal/store"
)

// GetClosing returns the committed closing for date, or a draft carrying the
// day's live totals when none has been recorded yet.
func (s *Service) GetClosing(ctx context.Context, date domain.Date) (domain.DayClosing, error) {
	if date.IsZero() {
		return nil, apperror.Validation("date", "date is required")
	}

	closing, err := s.repo.GetClosingByDate(ctx, date)
	if err == nil {
		return domain.CommittedClosing{CashClosing: *closing}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	summary, err := s.Summarize(ctx, date, date)
	if err != nil {
		return nil, err
	}
	return domain.NewDraftClosing(date, summary), nil
}

func (s *Service) GetClosingByID(ctx context.Context, id int64) (domain.CashClosing, error) {
	closing, err := s.repo.GetClosing(ctx, id)
	if err != nil {
		return domain.CashClosing{}, storeError(err, "closing", id)
	}
	return *closing, nil
}

// CreateClosing records the day's count. Sales totals are snapshotted from
// the aggregator and expected/difference are stored alongside them.
func (s *Service) CreateClosing(ctx context.Context, req domain.ClosingCreateRequest) (domain.CashClosing, error) {
	if req.Date.IsZero() {
		return domain.CashClosing{}, apperror.Validation("date", "date is required")
	}
	count := domain.CashCount{
		InitialCash: req.InitialCash,
		CountedCash: req.CountedCash,
		Expenses:    req.Expenses,
		Withdrawals: req.Withdrawals,
	}
	if err := count.Validate(); err != nil {
		return domain.CashClosing{}, err
	}

	if _, err := s.repo.GetClosingByDate(ctx, req.Date); err == nil {
		return domain.CashClosing{}, closingConflict(req.Date, nil)
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.CashClosing{}, err
	}

	summary, err := s.Summarize(ctx, req.Date, req.Date)
	if err != nil {
		return domain.CashClosing{}, err
	}

	closing := domain.CashClosing{
		Date:         req.Date,
		InitialCash:  req.InitialCash,
		CountedCash:  req.CountedCash,
		Expenses:     req.Expenses,
		ExpenseNotes: trimmedOrNil(req.ExpenseNotes),
		Withdrawals:  req.Withdrawals,
		Notes:        trimmedOrNil(req.Notes),
	}
	closing.Apply(summary)
	if err := closing.Validate(); err != nil {
		return domain.CashClosing{}, err
	}

	created, err := s.repo.CreateClosing(ctx, closing)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.CashClosing{}, closingConflict(req.Date, err)
		}
		return domain.CashClosing{}, storeError(err, "closing", req.Date)
	}

	s.logAudit(ctx, "closing.create", "closing", strconv.FormatInt(created.ID, 10), closingDetail(*created))
	return *created, nil
}

// UpdateClosing corrects the count of an existing closing. The sales totals
// are re-snapshotted so late sale corrections are picked up.
func (s *Service) UpdateClosing(ctx context.Context, id int64, req domain.ClosingUpdateRequest) (domain.CashClosing, error) {
	current, err := s.repo.GetClosing(ctx, id)
	if err != nil {
		return domain.CashClosing{}, storeError(err, "closing", id)
	}

	summary, err := s.Summarize(ctx, current.Date, current.Date)
	if err != nil {
		return domain.CashClosing{}, err
	}

	updated, err := s.repo.UpdateClosing(ctx, id, func(c *domain.CashClosing) error {
		if req.InitialCash != nil {
			c.InitialCash = *req.InitialCash
		}
		if req.CountedCash != nil {
			c.CountedCash = *req.CountedCash
		}
		if req.Expenses != nil {
			c.Expenses = *req.Expenses
		}
		if req.Withdrawals != nil {
			c.Withdrawals = *req.Withdrawals
		}
		if req.ExpenseNotes != nil {
			c.ExpenseNotes = trimmedOrNil(req.ExpenseNotes)
		}
		if req.Notes != nil {
			c.Notes = trimmedOrNil(req.Notes)
		}
		c.Apply(summary)
		return c.Validate()
	})
	if err != nil {
		return domain.CashClosing{}, storeError(err, "closing", id)
	}

	s.logAudit(ctx, "closing.update", "closing", strconv.FormatInt(updated.ID, 10), closingDetail(*updated))
	return *updated, nil
}

func (s *Service) ListClosings(ctx context.Context, filter domain.ClosingFilter) ([]domain.CashClosing, error) {
	if filter.Range != nil {
		if err := filter.Range.Validate(); err != nil {
			return nil, err
		}
	}
	return s.repo.ListClosings(ctx, filter)
}

func closingConflict(date domain.Date, cause error) error {
	err := apperror.Conflict(fmt.Sprintf("a cash closing already exists for %s", date))
	if cause != nil {
		return err.Wrap(cause)
	}
	return err
}

func closingDetail(c domain.CashClosing) string {
	return fmt.Sprintf("date=%s,expected=%s,counted=%s,difference=%s",
		c.Date, money.String(c.ExpectedCash), money.String(c.CountedCash), money.String(c.Difference))
}
