package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus represents the lifecycle state of a trading session.
type SessionStatus string

const (
	SessionStatusPending          SessionStatus = "pending"
	SessionStatusActive           SessionStatus = "active"
	SessionStatusStopped          SessionStatus = "stopped"
	SessionStatusExpired          SessionStatus = "expired"
	SessionStatusEmergencyStopped SessionStatus = "emergency_stopped"
	SessionStatusCompleted        SessionStatus = "completed"
)

// Terminal reports whether the status is absorbing. A session in a terminal
// state never transitions again.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusStopped, SessionStatusExpired, SessionStatusEmergencyStopped, SessionStatusCompleted:
		return true
	}
	return false
}

// TerminationReason records why a session left the Active state.
type TerminationReason string

const (
	TerminationReasonUserRequested TerminationReason = "user_requested"
	TerminationReasonTimeExpired   TerminationReason = "time_expired"
	TerminationReasonLossLimit     TerminationReason = "loss_limit_reached"
	TerminationReasonEmergency     TerminationReason = "emergency_stop"
)

// TradingSession is one user's bounded trading window. Status is owned by the
// session supervisor; all transitions are conditional writes against the
// persisted status column.
type TradingSession struct {
	ID                string             `json:"id"`
	UserID            string             `json:"user_id"`
	DurationMinutes   int                `json:"duration_minutes"`
	LossLimitAmount   decimal.Decimal    `json:"loss_limit_amount"`
	LossLimitPercent  decimal.Decimal    `json:"loss_limit_percent"`
	Status            SessionStatus      `json:"status"`
	CreatedAt         time.Time          `json:"created_at"`
	StartTime         *time.Time         `json:"start_time,omitempty"`
	EndTime           *time.Time         `json:"end_time,omitempty"`
	ActualEndTime     *time.Time         `json:"actual_end_time,omitempty"`
	RealizedPnL       decimal.Decimal    `json:"realized_pnl"`
	TradeCount        int                `json:"trade_count"`
	TerminationReason *TerminationReason `json:"termination_reason,omitempty"`
}

// CurrentLoss returns the session's realized loss as a non-negative amount.
// Profitable sessions report zero.
func (s *TradingSession) CurrentLoss() decimal.Decimal {
	if s.RealizedPnL.IsNegative() {
		return s.RealizedPnL.Neg()
	}
	return decimal.Zero
}

// Position is one session's holding in a single symbol. Positions are owned by
// the position ledger and mutated only through fill reconciliation. A position
// becomes inactive (never deleted) when its quantity reaches zero.
type Position struct {
	SessionID       string           `json:"session_id"`
	Symbol          string           `json:"symbol"`
	Quantity        decimal.Decimal  `json:"quantity"`
	AvgCost         decimal.Decimal  `json:"avg_cost"`
	LastPrice       decimal.Decimal  `json:"last_price"`
	UnrealizedPnL   decimal.Decimal  `json:"unrealized_pnl"`
	RealizedPnL     decimal.Decimal  `json:"realized_pnl"`
	StopLossPrice   *decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *decimal.Decimal `json:"take_profit_price,omitempty"`
	Active          bool             `json:"active"`
	OpenedAt        time.Time        `json:"opened_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// MarketValue returns the position's value at its last known price.
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.LastPrice)
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks an order through submission and settlement. Transitions
// are driven only by broker gateway responses.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Order is one submission to the broker gateway.
type Order struct {
	ID            string           `json:"id"`
	DecisionID    string           `json:"decision_id"`
	SessionID     string           `json:"session_id"`
	Symbol        string           `json:"symbol"`
	Side          OrderSide        `json:"side"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Type          OrderType        `json:"type"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	Status        OrderStatus      `json:"status"`
	BrokerRef     string           `json:"broker_ref,omitempty"`
	ExecutedQty   decimal.Decimal  `json:"executed_qty"`
	ExecutedPrice *decimal.Decimal `json:"executed_price,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// DecisionAction is what the strategy recommends for a symbol.
type DecisionAction string

const (
	DecisionActionBuy  DecisionAction = "BUY"
	DecisionActionSell DecisionAction = "SELL"
	DecisionActionHold DecisionAction = "HOLD"
)

// Decision is an algorithmic recommendation, not yet an order. It is sized as
// a fraction of the account portfolio value.
type Decision struct {
	ID                   string          `json:"id"`
	SessionID            string          `json:"session_id"`
	Symbol               string          `json:"symbol"`
	Action               DecisionAction  `json:"action"`
	Confidence           float64         `json:"confidence"`
	PositionSizeFraction decimal.Decimal `json:"position_size_fraction"`
	Strategy             string          `json:"strategy"`
	CreatedAt            time.Time       `json:"created_at"`
}

// RiskAssessment is the ephemeral output of the risk gate for one candidate
// trade or session. It is recomputed per decision and never persisted.
type RiskAssessment struct {
	Allowed         bool            `json:"allowed"`
	Code            string          `json:"code,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	RiskPercent     decimal.Decimal `json:"risk_percent"`
	VolatilityRisk  decimal.Decimal `json:"volatility_risk"`
	CorrelationRisk decimal.Decimal `json:"correlation_risk"`
	CircuitBreaker  bool            `json:"circuit_breaker"`
}

// WarningKind is the axis a graduated warning applies to.
type WarningKind string

const (
	WarningKindTime WarningKind = "time"
	WarningKindLoss WarningKind = "loss"
)

// SessionWarning is a one-time notification that a session crossed a
// percentage threshold of its time or loss budget.
type SessionWarning struct {
	SessionID string      `json:"session_id"`
	Kind      WarningKind `json:"kind"`
	Threshold int         `json:"threshold"`
	Progress  float64     `json:"progress"`
	EmittedAt time.Time   `json:"emitted_at"`
}

// UserAccount is the read-only view of a user this core depends on.
type UserAccount struct {
	ID      string          `json:"id"`
	Balance decimal.Decimal `json:"balance"`
	Active  bool            `json:"active"`
}
