package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxRepository persists side-effect messages. Messages are enqueued in the
// same transaction as the change that produced them and claimed by workers
// with SKIP LOCKED so concurrent dispatchers never share a message.
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue stores a pending message with payload encoded as JSON
func (r *OutboxRepository) Enqueue(ctx context.Context, tx *gorm.DB, kind, aggregateID string, payload interface{}) (*domain.OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding outbox payload: %w", err)
	}
	msg := &domain.OutboxMessage{
		Kind:        kind,
		AggregateID: aggregateID,
		Payload:     string(body),
		Status:      domain.OutboxStatusPending,
	}
	db := r.db
	if tx != nil {
		db = tx
	}
	if err := db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

// Claim locks up to limit pending messages for workerID. Messages whose lock
// is older than staleBefore are reclaimed.
func (r *OutboxRepository) Claim(ctx context.Context, workerID string, limit int, staleBefore time.Time) ([]domain.OutboxMessage, error) {
	var claimed []domain.OutboxMessage
	now := time.Now().UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Where("status = ?", domain.OutboxStatusPending).
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Order("created_at ASC, id ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&claimed).Error
		if err != nil || len(claimed) == 0 {
			return err
		}

		ids := make([]uuid.UUID, len(claimed))
		for i := range claimed {
			ids[i] = claimed[i].ID
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = workerID
		}
		return tx.Model(&domain.OutboxMessage{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"locked_at": now,
				"locked_by": workerID,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkDone records successful delivery and releases the lock
func (r *OutboxRepository) MarkDone(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       domain.OutboxStatusDone,
			"processed_at": now,
			"attempts":     gorm.Expr("attempts + 1"),
			"locked_at":    nil,
			"locked_by":    "",
			"last_error":   "",
		}).Error
}

// MarkFailed records a failed attempt. After maxAttempts the message is parked as failed.
func (r *OutboxRepository) MarkFailed(ctx context.Context, msg *domain.OutboxMessage, cause error, maxAttempts int) error {
	attempts := msg.Attempts + 1
	status := domain.OutboxStatusPending
	if maxAttempts > 0 && attempts >= maxAttempts {
		status = domain.OutboxStatusFailed
	}
	return r.db.WithContext(ctx).
		Model(&domain.OutboxMessage{}).
		Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"status":     status,
			"attempts":   attempts,
			"last_error": cause.Error(),
			"locked_at":  nil,
			"locked_by":  "",
		}).Error
}

// ListByAggregate returns messages for one aggregate, oldest first
func (r *OutboxRepository) ListByAggregate(ctx context.Context, aggregateID string) ([]domain.OutboxMessage, error) {
	var msgs []domain.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	return msgs, err
}
