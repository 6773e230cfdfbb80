package monitor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradegate/tradegate/internal/accounts"
	"github.com/tradegate/tradegate/internal/audit"
	"github.com/tradegate/tradegate/internal/clock"
	"github.com/tradegate/tradegate/internal/config"
	"github.com/tradegate/tradegate/internal/database"
	"github.com/tradegate/tradegate/internal/logging"
	"github.com/tradegate/tradegate/internal/models"
	"github.com/tradegate/tradegate/internal/services/riskgate"
	"github.com/tradegate/tradegate/internal/services/supervisor"
)

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Emit(_ context.Context, event audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) countKind(kind audit.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	monitor  *Monitor
	sup      *supervisor.Supervisor
	sessions *database.SessionStore
	sink     *captureSink
	clock    *clock.Fake
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := database.NewSQLiteConnection(filepath.Join(t.TempDir(), "monitor_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))

	users := accounts.NewInMemoryUserStore()
	users.Seed("user-1", decimal.NewFromInt(1000), true)

	gate := riskgate.NewGate(
		config.SessionConfig{AllowedDurationsMinutes: []int{60, 240}, MaxLossLimitFraction: 0.30},
		config.RiskConfig{MaxConcentrationFraction: 0.25},
		logging.NewNopLogger(),
	)

	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sink := &captureSink{}
	sessions := database.NewSessionStore(db)
	sup := supervisor.New(sessions, users, gate, sink, fake, logging.NewNopLogger())

	mon := New(sessions, sup, sink, fake, config.MonitorConfig{
		PollInterval:      30 * time.Second,
		WarningThresholds: []int{80, 90, 95},
	}, logging.NewNopLogger())

	return &fixture{monitor: mon, sup: sup, sessions: sessions, sink: sink, clock: fake}
}

func (f *fixture) startSession(t *testing.T, durationMinutes int, lossLimit int64) *models.TradingSession {
	t.Helper()
	ctx := context.Background()
	created, err := f.sup.CreateSession(ctx, "user-1", durationMinutes, decimal.NewFromInt(lossLimit))
	require.NoError(t, err)
	started, err := f.sup.StartSession(ctx, created.ID, "user-1")
	require.NoError(t, err)
	return started
}

func TestMonitor_TimeExpiry(t *testing.T) {
	f := setup(t)
	session := f.startSession(t, 240, 100)
	ctx := context.Background()

	// Inside the window nothing happens.
	f.clock.Advance(3 * time.Hour)
	require.NoError(t, f.monitor.CheckOnce(ctx))
	got, err := f.sessions.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, got.Status)

	// Past the deadline the next poll terminates with time_expired.
	f.clock.Advance(time.Hour + time.Second)
	require.NoError(t, f.monitor.CheckOnce(ctx))

	got, err = f.sessions.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusExpired, got.Status)
	require.NotNil(t, got.TerminationReason)
	assert.Equal(t, models.TerminationReasonTimeExpired, *got.TerminationReason)
	assert.Equal(t, int64(1), f.monitor.Stats().Terminations)
}

func TestMonitor_BoundedTerminationLatency(t *testing.T) {
	f := setup(t)
	session := f.startSession(t, 60, 100)
	ctx := context.Background()

	// The deadline falls between two polls; the first poll after the
	// deadline must terminate, so a session is never Active more than one
	// poll interval past its limit.
	f.clock.Advance(60*time.Minute - time.Second)
	require.NoError(t, f.monitor.CheckOnce(ctx))
	got, _ := f.sessions.GetByID(ctx, session.ID)
	require.Equal(t, models.SessionStatusActive, got.Status)

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.monitor.CheckOnce(ctx))
	got, _ = f.sessions.GetByID(ctx, session.ID)
	assert.True(t, got.Status.Terminal(),
		"session still Active one poll past its deadline")
}

func TestMonitor_LossLimitTermination(t *testing.T) {
	f := setup(t)
	session := f.startSession(t, 240, 100)
	ctx := context.Background()

	require.NoError(t, f.sessions.RecordFill(ctx, session.ID, decimal.NewFromInt(-100)))

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.monitor.CheckOnce(ctx))

	got, err := f.sessions.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStopped, got.Status)
	require.NotNil(t, got.TerminationReason)
	assert.Equal(t, models.TerminationReasonLossLimit, *got.TerminationReason)
}

func TestMonitor_GraduatedWarningsDeduplicated(t *testing.T) {
	f := setup(t)
	f.startSession(t, 60, 100)
	ctx := context.Background()

	// 85% of the time budget: one warning for the 80 threshold.
	f.clock.Advance(51 * time.Minute)
	require.NoError(t, f.monitor.CheckOnce(ctx))
	assert.Equal(t, 1, f.sink.countKind(audit.EventSessionWarning))

	// Repeat polls in the same bucket stay silent.
	require.NoError(t, f.monitor.CheckOnce(ctx))
	require.NoError(t, f.monitor.CheckOnce(ctx))
	assert.Equal(t, 1, f.sink.countKind(audit.EventSessionWarning))

	// 91%: the 90 threshold fires once.
	f.clock.Advance(4 * time.Minute)
	require.NoError(t, f.monitor.CheckOnce(ctx))
	assert.Equal(t, 2, f.sink.countKind(audit.EventSessionWarning))

	// 96%: the 95 threshold fires once.
	f.clock.Advance(3 * time.Minute)
	require.NoError(t, f.monitor.CheckOnce(ctx))
	require.NoError(t, f.monitor.CheckOnce(ctx))
	assert.Equal(t, 3, f.sink.countKind(audit.EventSessionWarning))

	assert.Equal(t, int64(3), f.monitor.Stats().WarningsEmitted)
}

func TestMonitor_LossWarning(t *testing.T) {
	f := setup(t)
	session := f.startSession(t, 240, 100)
	ctx := context.Background()

	require.NoError(t, f.sessions.RecordFill(ctx, session.ID, decimal.NewFromInt(-85)))

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.monitor.CheckOnce(ctx))
	assert.Equal(t, 1, f.sink.countKind(audit.EventSessionWarning))

	got, err := f.sessions.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, got.Status, "warnings never change state")
}

func TestMonitor_ToleratesConcurrentUserStop(t *testing.T) {
	f := setup(t)
	session := f.startSession(t, 60, 100)
	ctx := context.Background()

	// The user stops first; the monitor's expiry poll must lose cleanly.
	_, err := f.sup.StopSession(ctx, session.ID, "user-1")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.monitor.CheckOnce(ctx))

	got, err := f.sessions.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStopped, got.Status)
	assert.Equal(t, models.TerminationReasonUserRequested, *got.TerminationReason)
	assert.Equal(t, int64(0), f.monitor.Stats().Terminations)
}

func TestMonitor_StartStop(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.monitor.Start())
	assert.Error(t, f.monitor.Start(), "double start is rejected")
	f.monitor.Stop()
	f.monitor.Stop()
}
