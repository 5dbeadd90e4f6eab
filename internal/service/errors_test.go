package service_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/straye-as/merchant-ledger/internal/service"
	"github.com/straye-as/merchant-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestErrorMatching(t *testing.T) {
	stock := &service.InsufficientStockError{MaterialName: "Cotton", Color: "Red", Requested: testutil.D("30"), Available: testutil.D("20")}
	wrapped := fmt.Errorf("approve: %w", stock)

	assert.ErrorIs(t, wrapped, service.ErrInsufficientStock)
	var target *service.InsufficientStockError
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "Cotton", target.MaterialName)

	assert.ErrorIs(t, service.ErrOrderNotFound, service.ErrNotFound)
	assert.ErrorIs(t, &service.UnknownMaterialError{MaterialName: "Velvet"}, service.ErrNotFound)
	assert.ErrorIs(t, &service.ValidationError{Field: "amount", Message: "must be positive"}, service.ErrInvalidInput)
	assert.NotErrorIs(t, service.ErrInvalidState, service.ErrNotFound)
}
