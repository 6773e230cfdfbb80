package broker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradegate/tradegate/internal/clock"
	"github.com/tradegate/tradegate/internal/logging"
	"github.com/tradegate/tradegate/internal/models"
	"github.com/tradegate/tradegate/internal/oracle"
)

func setupPaperGateway(t *testing.T) (*PaperGateway, *oracle.StaticOracle, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	o := oracle.NewStaticOracle(fake)
	g := NewPaperGateway(DefaultPaperConfig(), o, fake, logging.NewNopLogger())
	return g, o, fake
}

func TestPaperGateway_MarketOrderFillsWithSlippage(t *testing.T) {
	g, o, _ := setupPaperGateway(t)
	o.SetPrice("AAPL", decimal.NewFromInt(100))

	update, err := g.SubmitOrder(context.Background(), OrderRequest{
		ClientOrderID: "ord-1",
		Symbol:        "AAPL",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, update.Status)
	assert.True(t, update.FilledQty.Equal(decimal.NewFromInt(10)))
	require.NotNil(t, update.AvgFillPrice)
	assert.True(t, update.AvgFillPrice.Equal(decimal.NewFromFloat(100.05)),
		"buy fills above the quote, got %s", update.AvgFillPrice)

	sell, err := g.SubmitOrder(context.Background(), OrderRequest{
		ClientOrderID: "ord-2",
		Symbol:        "AAPL",
		Side:          models.OrderSideSell,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	assert.True(t, sell.AvgFillPrice.Equal(decimal.NewFromFloat(99.95)),
		"sell fills below the quote, got %s", sell.AvgFillPrice)
}

func TestPaperGateway_RejectsWithoutPrice(t *testing.T) {
	g, _, _ := setupPaperGateway(t)

	update, err := g.SubmitOrder(context.Background(), OrderRequest{
		ClientOrderID: "ord-1",
		Symbol:        "UNPRICED",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRejected, update.Status)
	assert.NotEmpty(t, update.Reason)
}

func TestPaperGateway_LimitOrderRestsUntilMarketable(t *testing.T) {
	g, o, _ := setupPaperGateway(t)
	o.SetPrice("AAPL", decimal.NewFromInt(100))
	ctx := context.Background()

	limit := decimal.NewFromInt(95)
	update, err := g.SubmitOrder(ctx, OrderRequest{
		ClientOrderID: "ord-1",
		Symbol:        "AAPL",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeLimit,
		Quantity:      decimal.NewFromInt(10),
		LimitPrice:    &limit,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusSubmitted, update.Status)

	// Price still above the limit: the order keeps resting.
	polled, err := g.OrderStatus(ctx, update.BrokerRef)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusSubmitted, polled.Status)

	// Quote crosses the limit; the next poll fills at the limit price.
	o.SetPrice("AAPL", decimal.NewFromInt(94))
	polled, err = g.OrderStatus(ctx, update.BrokerRef)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, polled.Status)
	require.NotNil(t, polled.AvgFillPrice)
	assert.True(t, polled.AvgFillPrice.Equal(limit))
}

func TestPaperGateway_CancelRestingOrder(t *testing.T) {
	g, o, _ := setupPaperGateway(t)
	o.SetPrice("AAPL", decimal.NewFromInt(100))
	ctx := context.Background()

	limit := decimal.NewFromInt(90)
	update, err := g.SubmitOrder(ctx, OrderRequest{
		ClientOrderID: "ord-1",
		Symbol:        "AAPL",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeLimit,
		Quantity:      decimal.NewFromInt(10),
		LimitPrice:    &limit,
	})
	require.NoError(t, err)

	require.NoError(t, g.CancelOrder(ctx, update.BrokerRef))

	polled, err := g.OrderStatus(ctx, update.BrokerRef)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, polled.Status)

	// Cancelling a filled or already cancelled order is a no-op.
	require.NoError(t, g.CancelOrder(ctx, update.BrokerRef))

	assert.ErrorIs(t, g.CancelOrder(ctx, "missing"), ErrUnknownOrder)
}

func TestPaperGateway_IdempotentByClientOrderID(t *testing.T) {
	g, o, _ := setupPaperGateway(t)
	o.SetPrice("AAPL", decimal.NewFromInt(100))
	ctx := context.Background()

	req := OrderRequest{
		ClientOrderID: "ord-1",
		Symbol:        "AAPL",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.NewFromInt(10),
	}

	first, err := g.SubmitOrder(ctx, req)
	require.NoError(t, err)
	second, err := g.SubmitOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.BrokerRef, second.BrokerRef)
}

func TestPaperGateway_AccountSettlement(t *testing.T) {
	g, o, _ := setupPaperGateway(t)
	o.SetPrice("AAPL", decimal.NewFromInt(100))
	ctx := context.Background()

	g.Fund("sess-1", decimal.NewFromInt(1000))

	_, err := g.SubmitOrder(ctx, OrderRequest{
		ClientOrderID: "ord-1",
		SessionID:     "sess-1",
		Symbol:        "AAPL",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	acct, err := g.GetAccount(ctx, "sess-1")
	require.NoError(t, err)
	// 5 shares at 100.05 leaves 499.75 cash; valued at the quote the
	// portfolio is cash + 500.
	assert.True(t, acct.Cash.Equal(decimal.NewFromFloat(499.75)), "cash = %s", acct.Cash)
	assert.True(t, acct.PortfolioValue.Equal(decimal.NewFromFloat(999.75)),
		"portfolio = %s", acct.PortfolioValue)

	open, err := g.GetOpenPositions(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Quantity.Equal(decimal.NewFromInt(5)))

	// Selling everything returns the position to flat.
	_, err = g.SubmitOrder(ctx, OrderRequest{
		ClientOrderID: "ord-2",
		SessionID:     "sess-1",
		Symbol:        "AAPL",
		Side:          models.OrderSideSell,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	open, err = g.GetOpenPositions(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPaperGateway_SubmitValidation(t *testing.T) {
	g, o, _ := setupPaperGateway(t)
	o.SetPrice("AAPL", decimal.NewFromInt(100))

	_, err := g.SubmitOrder(context.Background(), OrderRequest{
		ClientOrderID: "ord-1",
		Symbol:        "AAPL",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.Zero,
	})
	assert.Error(t, err)

	_, err = g.SubmitOrder(context.Background(), OrderRequest{
		ClientOrderID: "ord-2",
		Symbol:        "AAPL",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeLimit,
		Quantity:      decimal.NewFromInt(1),
	})
	assert.Error(t, err)
}
