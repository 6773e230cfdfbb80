// Package audit records lifecycle and execution events for later review.
// Emission is fire-and-forget: a failing sink is logged and never propagates
// into the trading path.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tradegate/tradegate/internal/logging"
)

// EventKind labels what happened.
type EventKind string

const (
	EventSessionCreated    EventKind = "session_created"
	EventSessionStarted    EventKind = "session_started"
	EventSessionTerminated EventKind = "session_terminated"
	EventSessionWarning    EventKind = "session_warning"
	EventRiskDenied        EventKind = "risk_denied"
	EventOrderSubmitted    EventKind = "order_submitted"
	EventOrderSettled      EventKind = "order_settled"
	EventLiquidation       EventKind = "liquidation"
)

// Event is one audit record.
type Event struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// NewEvent builds an event with a fresh ID.
func NewEvent(kind EventKind, sessionID, userID string, data map[string]any, at time.Time) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		SessionID: sessionID,
		UserID:    userID,
		Data:      data,
		At:        at,
	}
}

// Sink receives events. Implementations must not block the caller beyond the
// context and must swallow their own failures.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// LogSink writes audit events through the structured logger.
type LogSink struct {
	logger logging.Logger
}

func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logger.WithComponent("audit")}
}

func (s *LogSink) Emit(_ context.Context, event Event) {
	s.logger.Info("audit event",
		"event_id", event.ID,
		"kind", string(event.Kind),
		"session_id", event.SessionID,
		"user_id", event.UserID,
		"data", event.Data,
		"at", event.At,
	)
}

// StreamSink appends events to a capped Redis stream so external consumers
// can tail the audit trail.
type StreamSink struct {
	redis  *redis.Client
	stream string
	maxLen int64
	logger logging.Logger
}

func NewStreamSink(redisClient *redis.Client, stream string, maxLen int64, logger logging.Logger) *StreamSink {
	return &StreamSink{
		redis:  redisClient,
		stream: stream,
		maxLen: maxLen,
		logger: logger.WithComponent("audit_stream"),
	}
}

func (s *StreamSink) Emit(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to encode audit event", "kind", string(event.Kind), "error", err)
		return
	}

	err = s.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"kind":       string(event.Kind),
			"session_id": event.SessionID,
			"event":      payload,
		},
	}).Err()
	if err != nil {
		s.logger.Error("failed to append audit event", "kind", string(event.Kind), "error", err)
	}
}

// MultiSink fans one event out to several sinks.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, event)
	}
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}
