package repository

import (
	"context"

	"github.com/straye-as/merchant-ledger/internal/domain"
	"gorm.io/gorm"
)

// ActivityFilter narrows List
type ActivityFilter struct {
	Kind          *domain.ActivityKind
	CustomerPhone string
}

type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

func (r *ActivityRepository) Create(ctx context.Context, tx *gorm.DB, activity *domain.Activity) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Create(activity).Error
}

func (r *ActivityRepository) List(ctx context.Context, page, pageSize int, filter ActivityFilter) ([]domain.Activity, int64, error) {
	var activities []domain.Activity
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Activity{})
	if filter.Kind != nil {
		query = query.Where("kind = ?", *filter.Kind)
	}
	if filter.CustomerPhone != "" {
		query = query.Where("customer_phone = ?", filter.CustomerPhone)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Offset(offset).Limit(pageSize).Order("occurred_at DESC, id DESC").Find(&activities).Error
	return activities, total, err
}

// ListRecent returns the latest activity entries
func (r *ActivityRepository) ListRecent(ctx context.Context, limit int) ([]domain.Activity, error) {
	var activities []domain.Activity
	err := r.db.WithContext(ctx).
		Order("occurred_at DESC, id DESC").
		Limit(limit).
		Find(&activities).Error
	return activities, err
}
