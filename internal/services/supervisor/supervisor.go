// Package supervisor owns the session state machine. It is the only writer
// of session status; every transition is a conditional database write, so a
// race between user stop, monitor expiry and emergency stop resolves to
// exactly one winner.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradegate/tradegate/internal/accounts"
	"github.com/tradegate/tradegate/internal/audit"
	"github.com/tradegate/tradegate/internal/clock"
	"github.com/tradegate/tradegate/internal/database"
	"github.com/tradegate/tradegate/internal/logging"
	"github.com/tradegate/tradegate/internal/models"
	"github.com/tradegate/tradegate/internal/services/riskgate"
)

// Liquidator flattens a session's open positions. Implemented by the
// decision pipeline; set after construction to break the dependency cycle
// between supervisor and pipeline.
type Liquidator interface {
	LiquidateSession(ctx context.Context, sessionID string) (int, error)
}

// StartHook runs when a session activates. The assembly uses it to fund the
// paper venue account with the user's balance.
type StartHook func(session *models.TradingSession, user *models.UserAccount)

// Supervisor exposes the session lifecycle operations.
type Supervisor struct {
	sessions   *database.SessionStore
	users      accounts.UserStore
	gate       *riskgate.Gate
	sink       audit.Sink
	clock      clock.Clock
	logger     logging.Logger
	liquidator Liquidator
	startHook  StartHook
}

func New(sessions *database.SessionStore, users accounts.UserStore, gate *riskgate.Gate, sink audit.Sink, clk clock.Clock, logger logging.Logger) *Supervisor {
	return &Supervisor{
		sessions: sessions,
		users:    users,
		gate:     gate,
		sink:     sink,
		clock:    clk,
		logger:   logger.WithComponent("session_supervisor"),
	}
}

// SetLiquidator wires the emergency-stop liquidation path.
func (s *Supervisor) SetLiquidator(l Liquidator) { s.liquidator = l }

// SetStartHook registers a callback invoked on successful activation.
func (s *Supervisor) SetStartHook(h StartHook) { s.startHook = h }

// CreateSession validates and persists a new Pending session.
func (s *Supervisor) CreateSession(ctx context.Context, userID string, durationMinutes int, lossLimit decimal.Decimal) (*models.TradingSession, error) {
	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, accounts.ErrUserNotFound) {
		return nil, models.NewCodedError(models.CodeUserNotFound, models.ErrorKindConflict,
			"user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !user.Active {
		return nil, models.NewCodedError(models.CodeUserNotFound, models.ErrorKindConflict,
			"user %s is not active", userID)
	}

	if _, err := s.sessions.FindOpenByUser(ctx, userID); err == nil {
		return nil, models.NewCodedError(models.CodeActiveSessionExists, models.ErrorKindConflict,
			"user %s already has a pending or active session", userID)
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to check open sessions: %w", err)
	}

	if err := s.gate.ValidateSessionRequest(user, durationMinutes, lossLimit); err != nil {
		s.audit(ctx, audit.EventRiskDenied, "", userID, map[string]any{
			"operation": "create_session",
			"code":      models.ErrorCode(err),
		})
		return nil, err
	}

	session := &models.TradingSession{
		ID:               uuid.New().String(),
		UserID:           userID,
		DurationMinutes:  durationMinutes,
		LossLimitAmount:  lossLimit,
		LossLimitPercent: lossLimit.Div(user.Balance),
		Status:           models.SessionStatusPending,
		CreatedAt:        s.clock.Now(),
		RealizedPnL:      decimal.Zero,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	s.logger.WithSessionID(session.ID).WithUserID(userID).Info("session created",
		"duration_minutes", durationMinutes, "loss_limit", lossLimit.String())
	s.audit(ctx, audit.EventSessionCreated, session.ID, userID, map[string]any{
		"duration_minutes": durationMinutes,
		"loss_limit":       lossLimit.String(),
	})
	return session, nil
}

// StartSession moves a Pending session to Active and fixes its deadline.
// This is the only place the end time is computed.
func (s *Supervisor) StartSession(ctx context.Context, sessionID, userID string) (*models.TradingSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, s.notFound(sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	start := s.clock.Now()
	end := start.Add(time.Duration(session.DurationMinutes) * time.Minute)

	ok, err := s.sessions.Activate(ctx, sessionID, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to activate session: %w", err)
	}
	if !ok {
		return nil, s.notFound(sessionID)
	}

	session, err = s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}

	if s.startHook != nil {
		if user, userErr := s.users.GetUser(ctx, userID); userErr == nil {
			s.startHook(session, user)
		}
	}

	s.logger.WithSessionID(sessionID).WithUserID(userID).Info("session started",
		"end_time", end)
	s.audit(ctx, audit.EventSessionStarted, sessionID, userID, map[string]any{
		"start_time": start,
		"end_time":   end,
	})
	return session, nil
}

// StopSession moves a Pending/Active session owned by userID to Stopped. A
// session already terminated by a concurrent monitor trigger is returned
// as-is; the lost race is a no-op, not an error.
func (s *Supervisor) StopSession(ctx context.Context, sessionID, userID string) (*models.TradingSession, error) {
	ok, err := s.sessions.Terminate(ctx, sessionID, userID,
		models.SessionStatusStopped, models.TerminationReasonUserRequested, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to stop session: %w", err)
	}
	if ok {
		s.logger.WithSessionID(sessionID).WithUserID(userID).Info("session stopped by user")
		s.audit(ctx, audit.EventSessionTerminated, sessionID, userID, map[string]any{
			"reason": string(models.TerminationReasonUserRequested),
		})
	}
	return s.resolveAfterTerminate(ctx, sessionID, userID, ok)
}

// EmergencyStopSession terminates the session and liquidates every open
// position. Idempotent: a repeat call on a terminal session is a no-op and
// the position active-flag claim keeps exit orders single-shot.
func (s *Supervisor) EmergencyStopSession(ctx context.Context, sessionID, userID string) (*models.TradingSession, error) {
	ok, err := s.sessions.Terminate(ctx, sessionID, userID,
		models.SessionStatusEmergencyStopped, models.TerminationReasonEmergency, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to emergency-stop session: %w", err)
	}

	session, err := s.resolveAfterTerminate(ctx, sessionID, userID, ok)
	if err != nil {
		return nil, err
	}

	if ok {
		s.logger.WithSessionID(sessionID).WithUserID(userID).Warn("session emergency stopped")
		s.audit(ctx, audit.EventSessionTerminated, sessionID, userID, map[string]any{
			"reason": string(models.TerminationReasonEmergency),
		})
	}

	// Liquidation runs on every call: positions missed by an earlier
	// attempt get another chance, already-claimed ones are skipped.
	if s.liquidator != nil {
		if _, liqErr := s.liquidator.LiquidateSession(ctx, sessionID); liqErr != nil {
			return session, liqErr
		}
	}
	return session, nil
}

// TerminateSession is the monitor's entry point for passive terminations
// (time expiry, loss limit). Returns true when this call won the transition.
func (s *Supervisor) TerminateSession(ctx context.Context, sessionID string, to models.SessionStatus, reason models.TerminationReason) (bool, error) {
	ok, err := s.sessions.Terminate(ctx, sessionID, "", to, reason, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("failed to terminate session: %w", err)
	}
	if ok {
		s.logger.WithSessionID(sessionID).Info("session terminated",
			"status", string(to), "reason", string(reason))
		s.audit(ctx, audit.EventSessionTerminated, sessionID, "", map[string]any{
			"status": string(to),
			"reason": string(reason),
		})
	}
	return ok, nil
}

// GetSession returns a session owned by userID.
func (s *Supervisor) GetSession(ctx context.Context, sessionID, userID string) (*models.TradingSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, s.notFound(sessionID)
	}
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, s.notFound(sessionID)
	}
	return session, nil
}

// ActiveSession returns the user's open session, if any.
func (s *Supervisor) ActiveSession(ctx context.Context, userID string) (*models.TradingSession, error) {
	session, err := s.sessions.FindOpenByUser(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, models.NewCodedError(models.CodeSessionNotFound, models.ErrorKindConflict,
			"user %s has no open session", userID)
	}
	return session, err
}

// SessionHistory lists the user's most recent sessions.
func (s *Supervisor) SessionHistory(ctx context.Context, userID string, limit int) ([]*models.TradingSession, error) {
	return s.sessions.ListByUser(ctx, userID, limit)
}

// resolveAfterTerminate distinguishes the benign lost race (session already
// terminal) from a genuine not-found or ownership failure.
func (s *Supervisor) resolveAfterTerminate(ctx context.Context, sessionID, userID string, won bool) (*models.TradingSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, s.notFound(sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.UserID != userID {
		return nil, s.notFound(sessionID)
	}
	if !won && !session.Status.Terminal() {
		// Conditional write failed yet the session is not terminal: the
		// guard rejected on ownership.
		return nil, s.notFound(sessionID)
	}
	return session, nil
}

func (s *Supervisor) notFound(sessionID string) error {
	return models.NewCodedError(models.CodeSessionNotFound, models.ErrorKindConflict,
		"session %s not found", sessionID)
}

func (s *Supervisor) audit(ctx context.Context, kind audit.EventKind, sessionID, userID string, data map[string]any) {
	s.sink.Emit(ctx, audit.NewEvent(kind, sessionID, userID, data, s.clock.Now()))
}
