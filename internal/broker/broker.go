// Package broker defines the order routing surface the decision pipeline
// submits through, plus a simulated gateway used for paper trading.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradegate/tradegate/internal/models"
)

var ErrUnknownOrder = errors.New("broker: unknown order")

// OrderRequest is what the pipeline hands to a gateway. ClientOrderID is the
// pipeline's own order ID so resubmissions stay idempotent at the gateway.
type OrderRequest struct {
	ClientOrderID string
	SessionID     string
	Symbol        string
	Side          models.OrderSide
	Type          models.OrderType
	Quantity      decimal.Decimal
	LimitPrice    *decimal.Decimal
}

// OrderUpdate is the gateway's view of an order at one point in time.
type OrderUpdate struct {
	BrokerRef    string
	Status       models.OrderStatus
	FilledQty    decimal.Decimal
	AvgFillPrice *decimal.Decimal
	Reason       string
	UpdatedAt    time.Time
}

// Terminal reports whether the broker will never change this order again.
func (u OrderUpdate) Terminal() bool {
	switch u.Status {
	case models.OrderStatusFilled, models.OrderStatusRejected, models.OrderStatusCancelled:
		return true
	}
	return false
}

// Account is the venue's view of a session's funds. BuyingPower is what the
// risk gate compares proposed trade values against.
type Account struct {
	SessionID      string
	Cash           decimal.Decimal
	BuyingPower    decimal.Decimal
	PortfolioValue decimal.Decimal
}

// OpenPosition is the venue-side holding for one symbol.
type OpenPosition struct {
	Symbol   string
	Quantity decimal.Decimal
}

// Gateway routes orders to a venue and reports session account state.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderUpdate, error)
	OrderStatus(ctx context.Context, brokerRef string) (OrderUpdate, error)
	CancelOrder(ctx context.Context, brokerRef string) error
	GetAccount(ctx context.Context, sessionID string) (Account, error)
	GetOpenPositions(ctx context.Context, sessionID string) ([]OpenPosition, error)
}
