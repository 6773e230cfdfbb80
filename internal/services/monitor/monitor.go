// Package monitor enforces the passive session limits. A single global loop
// polls every Active session, emits graduated warnings as time or loss
// budgets run down, and terminates sessions through the supervisor the
// moment a limit is crossed. The loop never writes session state directly;
// all terminations go through the supervisor's conditional writes, so a
// session concurrently stopped by its user is a benign lost race.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradegate/tradegate/internal/audit"
	"github.com/tradegate/tradegate/internal/clock"
	"github.com/tradegate/tradegate/internal/config"
	"github.com/tradegate/tradegate/internal/database"
	"github.com/tradegate/tradegate/internal/logging"
	"github.com/tradegate/tradegate/internal/models"
)

// Terminator is the supervisor surface the monitor terminates through.
type Terminator interface {
	TerminateSession(ctx context.Context, sessionID string, to models.SessionStatus, reason models.TerminationReason) (bool, error)
}

// Stats are the monitor's running counters, exposed on the statistics API.
type Stats struct {
	Polls           int64 `json:"polls"`
	SessionsChecked int64 `json:"sessions_checked"`
	WarningsEmitted int64 `json:"warnings_emitted"`
	Terminations    int64 `json:"terminations"`
}

// Monitor is the global session watchdog.
type Monitor struct {
	sessions   *database.SessionStore
	terminator Terminator
	sink       audit.Sink
	clock      clock.Clock
	logger     logging.Logger

	pollInterval time.Duration
	thresholds   []int

	mu       sync.Mutex
	warned   map[string]map[string]bool
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	polls    atomic.Int64
	checked  atomic.Int64
	warnings atomic.Int64
	killed   atomic.Int64
}

func New(sessions *database.SessionStore, terminator Terminator, sink audit.Sink, clk clock.Clock, cfg config.MonitorConfig, logger logging.Logger) *Monitor {
	thresholds := append([]int(nil), cfg.WarningThresholds...)
	sort.Ints(thresholds)

	return &Monitor{
		sessions:     sessions,
		terminator:   terminator,
		sink:         sink,
		clock:        clk,
		logger:       logger.WithComponent("session_monitor"),
		pollInterval: cfg.PollInterval,
		thresholds:   thresholds,
		warned:       make(map[string]map[string]bool),
	}
}

// Start launches the poll loop. The latency contract is one poll interval: a
// session never stays Active more than pollInterval past its deadline.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("session monitor is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.loop(ctx)

	m.logger.Info("session monitor started", "poll_interval", m.pollInterval)
	return nil
}

// Stop halts the loop and waits for the in-flight poll to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("session monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.CheckOnce(ctx); err != nil {
				m.logger.WithError(err).Error("monitor poll failed")
			}
		}
	}
}

// CheckOnce runs one full poll over all Active sessions. Exposed so tests
// drive polls deterministically against a fake clock.
func (m *Monitor) CheckOnce(ctx context.Context) error {
	m.polls.Add(1)

	active, err := m.sessions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sessions: %w", err)
	}

	activeIDs := make(map[string]bool, len(active))
	for _, session := range active {
		activeIDs[session.ID] = true
		m.checked.Add(1)
		m.checkSession(ctx, session)
	}

	// Warning dedup state is scoped to a session's Active lifetime.
	m.mu.Lock()
	for id := range m.warned {
		if !activeIDs[id] {
			delete(m.warned, id)
		}
	}
	m.mu.Unlock()

	return nil
}

func (m *Monitor) checkSession(ctx context.Context, session *models.TradingSession) {
	if session.StartTime == nil {
		return
	}

	now := m.clock.Now()
	elapsed := now.Sub(*session.StartTime)
	duration := time.Duration(session.DurationMinutes) * time.Minute

	if elapsed >= duration {
		m.terminate(ctx, session, models.SessionStatusExpired, models.TerminationReasonTimeExpired)
		return
	}

	currentLoss := session.CurrentLoss()
	if currentLoss.GreaterThanOrEqual(session.LossLimitAmount) {
		m.terminate(ctx, session, models.SessionStatusStopped, models.TerminationReasonLossLimit)
		return
	}

	timeProgress := float64(elapsed) / float64(duration)
	m.maybeWarn(ctx, session, models.WarningKindTime, timeProgress)

	if session.LossLimitAmount.IsPositive() {
		lossProgress, _ := currentLoss.Div(session.LossLimitAmount).Float64()
		m.maybeWarn(ctx, session, models.WarningKindLoss, lossProgress)
	}
}

func (m *Monitor) terminate(ctx context.Context, session *models.TradingSession, to models.SessionStatus, reason models.TerminationReason) {
	won, err := m.terminator.TerminateSession(ctx, session.ID, to, reason)
	if err != nil {
		m.logger.WithSessionID(session.ID).WithError(err).Error("termination failed",
			"reason", string(reason))
		return
	}
	if won {
		m.killed.Add(1)
	}
}

// maybeWarn emits at most one warning per (session, axis, threshold). Only
// the highest threshold the progress currently sits in fires; a session
// whose loss recedes and crosses again does not re-notify.
func (m *Monitor) maybeWarn(ctx context.Context, session *models.TradingSession, kind models.WarningKind, progress float64) {
	pct := progress * 100

	threshold := 0
	for _, t := range m.thresholds {
		if pct >= float64(t) {
			threshold = t
		}
	}
	if threshold == 0 {
		return
	}

	key := fmt.Sprintf("%s:%d", kind, threshold)

	m.mu.Lock()
	seen := m.warned[session.ID]
	if seen == nil {
		seen = make(map[string]bool)
		m.warned[session.ID] = seen
	}
	if seen[key] {
		m.mu.Unlock()
		return
	}
	seen[key] = true
	m.mu.Unlock()

	m.warnings.Add(1)
	m.logger.WithSessionID(session.ID).Warn("session limit warning",
		"kind", string(kind), "threshold_pct", threshold, "progress", progress)
	m.sink.Emit(ctx, audit.NewEvent(audit.EventSessionWarning, session.ID, session.UserID,
		map[string]any{
			"kind":          string(kind),
			"threshold_pct": threshold,
			"progress":      progress,
		}, m.clock.Now()))
}

// Stats snapshots the monitor counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Polls:           m.polls.Load(),
		SessionsChecked: m.checked.Load(),
		WarningsEmitted: m.warnings.Load(),
		Terminations:    m.killed.Load(),
	}
}
