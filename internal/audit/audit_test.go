package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tradegate/tradegate/internal/logging"
)

func TestLogSink_Emit(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(logging.NewWithZap(zap.New(core)))

	event := NewEvent(EventSessionCreated, "sess-1", "user-1",
		map[string]any{"duration_minutes": 240}, time.Now().UTC())
	sink.Emit(context.Background(), event)

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "session_created", ctx["kind"])
	assert.Equal(t, "sess-1", ctx["session_id"])
	assert.Equal(t, "audit", ctx["component"])
}

func TestStreamSink_Emit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sink := NewStreamSink(client, "audit:events", 1000, logging.NewNopLogger())

	event := NewEvent(EventOrderSubmitted, "sess-1", "user-1",
		map[string]any{"symbol": "AAPL", "side": "BUY"}, time.Now().UTC())
	sink.Emit(context.Background(), event)

	msgs, err := client.XRange(context.Background(), "audit:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "order_submitted", msgs[0].Values["kind"])
	assert.Equal(t, "sess-1", msgs[0].Values["session_id"])

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["event"].(string)), &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "AAPL", decoded.Data["symbol"])
}

func TestStreamSink_SwallowsRedisFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	sink := NewStreamSink(client, "audit:events", 1000, logging.NewNopLogger())
	// Must not panic or return; failures stay inside the sink.
	sink.Emit(context.Background(), NewEvent(EventRiskDenied, "sess-1", "", nil, time.Now().UTC()))
}

func TestMultiSink_FansOut(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logSink := NewLogSink(logging.NewWithZap(zap.New(core)))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	streamSink := NewStreamSink(client, "audit:events", 100, logging.NewNopLogger())

	multi := NewMultiSink(logSink, streamSink, NopSink{})
	multi.Emit(context.Background(), NewEvent(EventLiquidation, "sess-1", "user-1", nil, time.Now().UTC()))

	assert.Len(t, logs.All(), 1)
	msgs, err := client.XRange(context.Background(), "audit:events", "-", "+").Result()
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
