package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradegate/tradegate/internal/audit"
	"github.com/tradegate/tradegate/internal/models"
	"github.com/tradegate/tradegate/internal/observability"
	"github.com/tradegate/tradegate/internal/oracle"
)

// SweepPositions refreshes marks for every open position and exits any whose
// stop-loss or take-profit triggered. Positions that close between listing
// and claiming are skipped silently.
func (p *Pipeline) SweepPositions(ctx context.Context) error {
	positions, err := p.ledger.AllActivePositions(ctx)
	if err != nil {
		return err
	}

	for _, pos := range positions {
		log := p.logger.WithSessionID(pos.SessionID).WithSymbol(pos.Symbol)

		quote, err := p.oracle.CurrentPrice(ctx, pos.Symbol)
		if errors.Is(err, oracle.ErrPriceUnavailable) {
			log.Warn("no price for open position, skipping sweep")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to fetch price for sweep: %w", err)
		}

		if _, err := p.ledger.RefreshMark(ctx, pos.SessionID, pos.Symbol, quote.Price); err != nil {
			log.WithError(err).Warn("mark refresh failed")
			continue
		}

		if reason := triggeredExit(pos, quote.Price); reason != "" {
			claimed, err := p.ledger.ClaimLiquidation(ctx, pos.SessionID, pos.Symbol)
			if err != nil {
				return err
			}
			if !claimed {
				continue
			}
			log.Info("exit trigger hit", "reason", reason, "price", quote.Price.String())
			if err := p.exitPosition(ctx, pos, reason); err != nil {
				log.WithError(err).Error("triggered exit failed")
				if relErr := p.ledger.ReleaseLiquidation(ctx, pos.SessionID, pos.Symbol); relErr != nil {
					log.WithError(relErr).Error("failed to release claimed position")
				}
			}
		}
	}
	return nil
}

// triggeredExit reports which trigger, if any, a long position hit at price.
func triggeredExit(pos *models.Position, price decimal.Decimal) string {
	if pos.StopLossPrice != nil && price.LessThanOrEqual(*pos.StopLossPrice) {
		return "stop_loss"
	}
	if pos.TakeProfitPrice != nil && price.GreaterThanOrEqual(*pos.TakeProfitPrice) {
		return "take_profit"
	}
	return ""
}

// LiquidateSession market-exits every open position of a session and returns
// the number of positions successfully closed. Each position is claimed
// before its exit order goes out, so concurrent invocations split the work
// instead of double-selling; repeated invocations on an already flat session
// are no-ops. A failed exit releases its claim for the next attempt. If not
// a single position could be exited the error is fatal: the session is
// terminal but still holds market risk.
func (p *Pipeline) LiquidateSession(ctx context.Context, sessionID string) (int, error) {
	log := p.logger.WithSessionID(sessionID)
	observability.AddBreadcrumb(ctx, "liquidation", fmt.Sprintf("liquidating session %s", sessionID), sentry.LevelWarning)

	positions, err := p.ledger.ActivePositions(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if len(positions) == 0 {
		log.Info("liquidation requested for flat session")
		return 0, nil
	}

	closed := 0
	for _, pos := range positions {
		claimed, err := p.ledger.ClaimLiquidation(ctx, pos.SessionID, pos.Symbol)
		if err != nil {
			return closed, err
		}
		if !claimed {
			continue
		}
		if err := p.exitPosition(ctx, pos, "liquidation"); err != nil {
			log.WithError(err).WithSymbol(pos.Symbol).Error("liquidation exit failed")
			if relErr := p.ledger.ReleaseLiquidation(ctx, pos.SessionID, pos.Symbol); relErr != nil {
				log.WithError(relErr).WithSymbol(pos.Symbol).Error("failed to release claimed position")
			}
			continue
		}
		closed++
	}

	p.audit(ctx, audit.EventLiquidation, sessionID, "", map[string]any{
		"positions_open":   len(positions),
		"positions_closed": closed,
	})

	if closed == 0 {
		err := models.NewCodedError(models.CodeLiquidationFailed, models.ErrorKindFatal,
			"liquidation closed 0 of %d open positions for session %s", len(positions), sessionID)
		observability.CaptureError(ctx, err, map[string]string{"session_id": sessionID})
		return 0, err
	}

	log.Info("liquidation complete", "closed", closed, "open", len(positions))
	return closed, nil
}

// exitPosition submits a market sell for the full claimed quantity and
// reconciles the fill. The caller holds the liquidation claim.
func (p *Pipeline) exitPosition(ctx context.Context, pos *models.Position, reason string) error {
	now := p.clock.Now()
	order := &models.Order{
		ID:          uuid.New().String(),
		DecisionID:  reason,
		SessionID:   pos.SessionID,
		Symbol:      pos.Symbol,
		Side:        models.OrderSideSell,
		Type:        models.OrderTypeMarket,
		Quantity:    pos.Quantity,
		Status:      models.OrderStatusPending,
		ExecutedQty: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.orders.Create(ctx, order); err != nil {
		return fmt.Errorf("failed to persist exit order: %w", err)
	}

	update, err := p.submit(ctx, order)
	if err != nil {
		return err
	}
	if !update.Terminal() {
		update = p.awaitFill(ctx, order.ID, update)
	}
	if !update.Terminal() {
		// Exit orders are always market orders; an unfilled one after the
		// poll window means the venue is not responding.
		return models.NewCodedError(models.CodeOrderSubmissionFailed, models.ErrorKindInfrastructure,
			"exit order for %s still open after fill window", pos.Symbol)
	}
	return p.reconcile(ctx, order, update)
}
