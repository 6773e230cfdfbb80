package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSessionStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   SessionStatus
		terminal bool
	}{
		{SessionStatusPending, false},
		{SessionStatusActive, false},
		{SessionStatusStopped, true},
		{SessionStatusExpired, true},
		{SessionStatusEmergencyStopped, true},
		{SessionStatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestTradingSession_CurrentLoss(t *testing.T) {
	session := &TradingSession{RealizedPnL: decimal.NewFromInt(-75)}
	assert.True(t, session.CurrentLoss().Equal(decimal.NewFromInt(75)))

	session.RealizedPnL = decimal.NewFromInt(40)
	assert.True(t, session.CurrentLoss().IsZero())

	session.RealizedPnL = decimal.Zero
	assert.True(t, session.CurrentLoss().IsZero())
}

func TestPosition_MarketValue(t *testing.T) {
	pos := &Position{
		Quantity:  decimal.NewFromInt(10),
		LastPrice: decimal.NewFromFloat(150.5),
	}
	assert.True(t, pos.MarketValue().Equal(decimal.NewFromFloat(1505)))
}
