package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"panaderia/backend/internal/apperror"
	"panaderia/backend/internal/cache"
	"panaderia/backend/internal/domain"
	"panaderia/backend/internal/store"
)

const DefaultSummaryTTL = 60 * time.Second

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service runs the ledger, aggregation and reconciliation operations on top
// of a repository. It never reads the wall clock: business dates always come
// in as parameters and timestamps are stamped by the store.
type Service struct {
	repo       store.Repository
	summaries  cache.SummaryCache
	summaryTTL time.Duration
	sfg        singleflight.Group
}

func New(repo store.Repository, summaries cache.SummaryCache, summaryTTL time.Duration) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if summaryTTL <= 0 {
		summaryTTL = DefaultSummaryTTL
	}

	return &Service{
		repo:       repo,
		summaries:  summaries,
		summaryTTL: summaryTTL,
	}
}

// storeError translates repository sentinels into the service error taxonomy.
func storeError(err error, resource string, id any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperror.NotFound(resource, id).Wrap(err)
	case errors.Is(err, store.ErrConflict):
		return apperror.Conflict(resource + " already exists").Wrap(err)
	case errors.Is(err, store.ErrOutOfRange):
		return apperror.Validation(resource, "a value exceeds the supported range").Wrap(err)
	default:
		return err
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		actor = domain.Actor{Username: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUsername: actor.Username,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
