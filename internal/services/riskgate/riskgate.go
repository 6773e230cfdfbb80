// Package riskgate validates sessions before creation and trades before
// submission. Checks are pure over their inputs; callers assemble the state
// the gate looks at, the gate never reads storage or the broker itself.
package riskgate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tradegate/tradegate/internal/config"
	"github.com/tradegate/tradegate/internal/logging"
	"github.com/tradegate/tradegate/internal/models"
)

// Gate holds the configured limits.
type Gate struct {
	sessionCfg config.SessionConfig
	riskCfg    config.RiskConfig
	logger     logging.Logger
}

func NewGate(sessionCfg config.SessionConfig, riskCfg config.RiskConfig, logger logging.Logger) *Gate {
	return &Gate{
		sessionCfg: sessionCfg,
		riskCfg:    riskCfg,
		logger:     logger.WithComponent("risk_gate"),
	}
}

// ValidateSessionRequest applies the session-creation business rules against
// a known user. Returns a CodedError for the first rule that fails.
func (g *Gate) ValidateSessionRequest(user *models.UserAccount, durationMinutes int, lossLimit decimal.Decimal) error {
	if !g.sessionCfg.AllowsDuration(durationMinutes) {
		return models.NewCodedError(models.CodeInvalidDuration, models.ErrorKindValidation,
			"duration %d minutes is not allowed (allowed: %v)",
			durationMinutes, g.sessionCfg.AllowedDurationsMinutes)
	}
	if lossLimit.LessThanOrEqual(decimal.Zero) {
		return models.NewCodedError(models.CodeInvalidLossLimit, models.ErrorKindValidation,
			"loss limit must be positive")
	}

	maxLoss := user.Balance.Mul(decimal.NewFromFloat(g.sessionCfg.MaxLossLimitFraction))
	if lossLimit.GreaterThan(maxLoss) {
		return models.NewCodedError(models.CodeLossLimitTooHigh, models.ErrorKindValidation,
			"loss limit %s exceeds %s (%.0f%% of balance %s)",
			lossLimit, maxLoss, g.sessionCfg.MaxLossLimitFraction*100, user.Balance)
	}
	if user.Balance.LessThan(lossLimit) {
		return models.NewCodedError(models.CodeInsufficientBalance, models.ErrorKindValidation,
			"balance %s is below the requested loss limit %s", user.Balance, lossLimit)
	}
	return nil
}

// TradeContext carries everything a pre-trade check looks at.
type TradeContext struct {
	Session          *models.TradingSession
	ClaimedSessionID string
	Symbol           string
	ProposedValue    decimal.Decimal
	BuyingPower      decimal.Decimal
	PortfolioValue   decimal.Decimal
	Volatility       decimal.Decimal
}

// CheckTrade runs the pre-trade checks in order, short-circuiting on the
// first failure. Business denials come back as a non-allowed assessment,
// never as an error.
func (g *Gate) CheckTrade(tc TradeContext) models.RiskAssessment {
	assessment := models.RiskAssessment{
		VolatilityRisk: tc.Volatility,
	}
	if tc.PortfolioValue.IsPositive() {
		assessment.RiskPercent = tc.ProposedValue.Div(tc.PortfolioValue).Mul(decimal.NewFromInt(100))
	}

	if tc.Session == nil || tc.Session.Status != models.SessionStatusActive || tc.Session.ID != tc.ClaimedSessionID {
		return g.deny(assessment, models.CodeSessionNotActive, "session is not active")
	}

	// Second line of defense behind the monitor: a decision in flight when
	// the loss limit is crossed must still be refused.
	if tc.Session.CurrentLoss().GreaterThanOrEqual(tc.Session.LossLimitAmount) {
		assessment.CircuitBreaker = true
		return g.deny(assessment, models.CodeSessionLossLimit,
			fmt.Sprintf("session loss %s has reached the limit %s",
				tc.Session.CurrentLoss(), tc.Session.LossLimitAmount))
	}

	if tc.ProposedValue.GreaterThan(tc.BuyingPower) {
		return g.deny(assessment, models.CodeInsufficientBuyingPwr,
			fmt.Sprintf("proposed value %s exceeds buying power %s", tc.ProposedValue, tc.BuyingPower))
	}

	maxPosition := tc.PortfolioValue.Mul(decimal.NewFromFloat(g.riskCfg.MaxConcentrationFraction))
	if tc.ProposedValue.GreaterThan(maxPosition) {
		return g.deny(assessment, models.CodeConcentrationLimit,
			fmt.Sprintf("proposed value %s exceeds %.0f%% of portfolio value %s",
				tc.ProposedValue, g.riskCfg.MaxConcentrationFraction*100, tc.PortfolioValue))
	}

	assessment.Allowed = true
	return assessment
}

// HighVolatility reports whether the regime volatility crosses the
// configured threshold. The pipeline uses it for order-type selection.
func (g *Gate) HighVolatility(volatility decimal.Decimal) bool {
	return volatility.GreaterThanOrEqual(decimal.NewFromFloat(g.riskCfg.HighVolatilityThreshold))
}

func (g *Gate) deny(assessment models.RiskAssessment, code, reason string) models.RiskAssessment {
	assessment.Allowed = false
	assessment.Code = code
	assessment.Reason = reason
	g.logger.Info("trade denied", "code", code, "reason", reason)
	return assessment
}
