package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/auth"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/mapper"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 200
)

// ActivityService serves the merchant activity feed. Entries are written by the
// other services inside their own transactions through recordActivity.
type ActivityService struct {
	activityRepo *repository.ActivityRepository
	logger       *zap.Logger
}

// NewActivityService creates a new ActivityService instance
func NewActivityService(activityRepo *repository.ActivityRepository, logger *zap.Logger) *ActivityService {
	return &ActivityService{
		activityRepo: activityRepo,
		logger:       logger,
	}
}

// List returns a page of activity entries, newest first
func (s *ActivityService) List(ctx context.Context, page, pageSize int, filter repository.ActivityFilter) (*domain.PaginatedResponse, error) {
	page, pageSize = normalizePage(page, pageSize)

	activities, total, err := s.activityRepo.List(ctx, page, pageSize, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}

	dtos := make([]domain.ActivityDTO, len(activities))
	for i := range activities {
		dtos[i] = mapper.ToActivityDTO(&activities[i])
	}
	return paginated(dtos, total, page, pageSize), nil
}

// Recent returns the latest limit entries
func (s *ActivityService) Recent(ctx context.Context, limit int) ([]domain.ActivityDTO, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	activities, err := s.activityRepo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent activity: %w", err)
	}

	dtos := make([]domain.ActivityDTO, len(activities))
	for i := range activities {
		dtos[i] = mapper.ToActivityDTO(&activities[i])
	}
	return dtos, nil
}

// activityEntry describes a feed row before the actor and timestamp are stamped on
type activityEntry struct {
	kind          domain.ActivityKind
	title         string
	body          string
	referenceID   *uuid.UUID
	customerPhone string
	amount        decimal.Decimal
}

// recordActivity writes a feed row in tx, attributed to the actor on ctx
func recordActivity(ctx context.Context, tx *gorm.DB, repo *repository.ActivityRepository, entry activityEntry) error {
	activity := &domain.Activity{
		Kind:          entry.kind,
		Title:         entry.title,
		Body:          entry.body,
		ReferenceID:   entry.referenceID,
		CustomerPhone: entry.customerPhone,
		Amount:        entry.amount,
		ActorName:     auth.ActorName(ctx),
		OccurredAt:    time.Now().UTC(),
	}
	if err := repo.Create(ctx, tx, activity); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}
