package service

import (
	"context"

	"github.com/straye-as/merchant-ledger/internal/auth"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/logger"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func paginated(data interface{}, total int64, page, pageSize int) *domain.PaginatedResponse {
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	return &domain.PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}

// actorLogger tags l with the caller on ctx
func actorLogger(ctx context.Context, l *zap.Logger) *zap.Logger {
	actor, ok := auth.FromContext(ctx)
	if !ok || actor == nil {
		return logger.WithActor(l, "system", "")
	}
	return logger.WithActor(l, actor.ID, string(actor.Role))
}
