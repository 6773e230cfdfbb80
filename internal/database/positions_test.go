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

func newTestPosition(sessionID, symbol string) *models.Position {
	now := time.Now().UTC()
	return &models.Position{
		SessionID:     sessionID,
		Symbol:        symbol,
		Quantity:      decimal.NewFromInt(10),
		AvgCost:       decimal.NewFromFloat(150.25),
		LastPrice:     decimal.NewFromFloat(151.00),
		UnrealizedPnL: decimal.NewFromFloat(7.50),
		RealizedPnL:   decimal.Zero,
		Active:        true,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
}

func TestPositionStore_UpsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	store := NewPositionStore(db)
	ctx := context.Background()

	pos := newTestPosition("sess-1", "AAPL")
	stop := decimal.NewFromFloat(140.00)
	pos.StopLossPrice = &stop
	require.NoError(t, store.Upsert(ctx, pos))

	got, err := store.Get(ctx, "sess-1", "AAPL")
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, got.AvgCost.Equal(decimal.NewFromFloat(150.25)))
	require.NotNil(t, got.StopLossPrice)
	assert.True(t, got.StopLossPrice.Equal(stop))
	assert.Nil(t, got.TakeProfitPrice)
	assert.True(t, got.Active)

	// Second upsert for the same key updates in place.
	pos.Quantity = decimal.NewFromInt(15)
	pos.AvgCost = decimal.NewFromFloat(150.75)
	require.NoError(t, store.Upsert(ctx, pos))

	got, err = store.Get(ctx, "sess-1", "AAPL")
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(decimal.NewFromInt(15)))
	assert.True(t, got.AvgCost.Equal(decimal.NewFromFloat(150.75)))

	all, err := store.ListBySession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPositionStore_Get_NotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewPositionStore(db)

	_, err := store.Get(context.Background(), "sess-1", "MSFT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPositionStore_ListActive(t *testing.T) {
	db := setupTestDB(t)
	store := NewPositionStore(db)
	ctx := context.Background()

	open := newTestPosition("sess-1", "AAPL")
	require.NoError(t, store.Upsert(ctx, open))

	closed := newTestPosition("sess-1", "MSFT")
	closed.Active = false
	closed.Quantity = decimal.Zero
	require.NoError(t, store.Upsert(ctx, closed))

	other := newTestPosition("sess-2", "GOOG")
	require.NoError(t, store.Upsert(ctx, other))

	bySession, err := store.ListActiveBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, "AAPL", bySession[0].Symbol)

	allActive, err := store.ListAllActive(ctx)
	require.NoError(t, err)
	assert.Len(t, allActive, 2)
}

func TestPositionStore_ClaimLiquidation(t *testing.T) {
	db := setupTestDB(t)
	store := NewPositionStore(db)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, newTestPosition("sess-1", "AAPL")))

	ok, err := store.ClaimLiquidation(ctx, "sess-1", "AAPL", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	// Only one claimer wins; the position stays closed.
	ok, err = store.ClaimLiquidation(ctx, "sess-1", "AAPL", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, "sess-1", "AAPL")
	require.NoError(t, err)
	assert.False(t, got.Active)

	// Claiming an unknown position is a no-op, not an error.
	ok, err = store.ClaimLiquidation(ctx, "sess-1", "MSFT", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPositionStore_UpdateMark(t *testing.T) {
	db := setupTestDB(t)
	store := NewPositionStore(db)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, newTestPosition("sess-1", "AAPL")))

	price := decimal.NewFromFloat(155.50)
	unrealized := decimal.NewFromFloat(52.50)
	require.NoError(t, store.UpdateMark(ctx, "sess-1", "AAPL", price, unrealized, time.Now().UTC()))

	got, err := store.Get(ctx, "sess-1", "AAPL")
	require.NoError(t, err)
	assert.True(t, got.LastPrice.Equal(price))
	assert.True(t, got.UnrealizedPnL.Equal(unrealized))

	// Marks never touch a closed position.
	_, err = store.ClaimLiquidation(ctx, "sess-1", "AAPL", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, store.UpdateMark(ctx, "sess-1", "AAPL",
		decimal.NewFromInt(1), decimal.NewFromInt(1), time.Now().UTC()))

	got, err = store.Get(ctx, "sess-1", "AAPL")
	require.NoError(t, err)
	assert.True(t, got.LastPrice.Equal(price))
}
