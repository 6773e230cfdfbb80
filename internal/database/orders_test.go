package database

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradegate/tradegate/internal/models"
)

func newTestOrder(id, sessionID string) *models.Order {
	now := time.Now().UTC()
	return &models.Order{
		ID:          id,
		DecisionID:  "dec-1",
		SessionID:   sessionID,
		Symbol:      "AAPL",
		Side:        models.OrderSideBuy,
		Quantity:    decimal.NewFromInt(10),
		Type:        models.OrderTypeMarket,
		Status:      models.OrderStatusPending,
		ExecutedQty: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestOrderStore_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	store := NewOrderStore(db)
	ctx := context.Background()

	order := newTestOrder("ord-1", "sess-1")
	limit := decimal.NewFromFloat(150.15)
	order.Type = models.OrderTypeLimit
	order.LimitPrice = &limit
	require.NoError(t, store.Create(ctx, order))

	got, err := store.GetByID(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderSideBuy, got.Side)
	assert.Equal(t, models.OrderTypeLimit, got.Type)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.True(t, got.Quantity.Equal(decimal.NewFromInt(10)))
	require.NotNil(t, got.LimitPrice)
	assert.True(t, got.LimitPrice.Equal(limit))
	assert.Nil(t, got.ExecutedPrice)
	assert.Empty(t, got.BrokerRef)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrderStore_MarkSubmitted(t *testing.T) {
	db := setupTestDB(t)
	store := NewOrderStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestOrder("ord-1", "sess-1")))
	require.NoError(t, store.MarkSubmitted(ctx, "ord-1", "broker-ref-42", time.Now().UTC()))

	got, err := store.GetByID(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusSubmitted, got.Status)
	assert.Equal(t, "broker-ref-42", got.BrokerRef)

	assert.ErrorIs(t, store.MarkSubmitted(ctx, "missing", "ref", time.Now().UTC()), ErrNotFound)
}

func TestOrderStore_RecordExecution(t *testing.T) {
	db := setupTestDB(t)
	store := NewOrderStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestOrder("ord-1", "sess-1")))

	price := decimal.NewFromFloat(150.10)
	require.NoError(t, store.RecordExecution(ctx, "ord-1",
		models.OrderStatusFilled, decimal.NewFromInt(10), &price, time.Now().UTC()))

	got, err := store.GetByID(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, got.Status)
	assert.True(t, got.ExecutedQty.Equal(decimal.NewFromInt(10)))
	require.NotNil(t, got.ExecutedPrice)
	assert.True(t, got.ExecutedPrice.Equal(price))
}

func TestOrderStore_ListOpenBySession(t *testing.T) {
	db := setupTestDB(t)
	store := NewOrderStore(db)
	ctx := context.Background()

	pending := newTestOrder("ord-1", "sess-1")
	require.NoError(t, store.Create(ctx, pending))

	filled := newTestOrder("ord-2", "sess-1")
	require.NoError(t, store.Create(ctx, filled))
	price := decimal.NewFromFloat(150.10)
	require.NoError(t, store.RecordExecution(ctx, "ord-2",
		models.OrderStatusFilled, decimal.NewFromInt(10), &price, time.Now().UTC()))

	other := newTestOrder("ord-3", "sess-2")
	require.NoError(t, store.Create(ctx, other))

	open, err := store.ListOpenBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ord-1", open[0].ID)

	all, err := store.ListBySession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
