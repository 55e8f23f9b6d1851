package usecase

import (
	"context"
	"log/slog"
	"sync"

	"stationear/internal/domain"
	"stationear/internal/ports"
)

// AlertSubscribeFunc opens a live alert feed for one session. The feed channel
// closes when the subscription ends; cancelling ctx ends it.
type AlertSubscribeFunc func(ctx context.Context, id domain.SessionID) (<-chan domain.KeywordAlert, error)

// AlertMonitor follows the live alert feed of the active session and forwards
// alerts that were not already reported.
type AlertMonitor struct {
	subscribe AlertSubscribeFunc
	alerts    AlertFilter
	events    ports.EventSink
	logger    *slog.Logger

	mu     sync.Mutex
	target domain.SessionID
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAlertMonitor(subscribe AlertSubscribeFunc, alerts AlertFilter, events ports.EventSink, logger *slog.Logger) *AlertMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertMonitor{
		subscribe: subscribe,
		alerts:    alerts,
		events:    events,
		logger:    logger.With("component", "alert_monitor"),
	}
}

// Follow switches the monitor to id. Following the current target again is a
// no-op; an empty id only stops the previous subscription.
func (m *AlertMonitor) Follow(ctx context.Context, id domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == m.target && m.done != nil {
		return
	}
	m.stopLocked()
	m.target = id
	if id.IsZero() || m.subscribe == nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	go m.run(runCtx, id, done)
}

// Target returns the session currently followed.
func (m *AlertMonitor) Target() domain.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Close stops the current subscription and waits for it to exit.
func (m *AlertMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.target = ""
}

func (m *AlertMonitor) stopLocked() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
	m.cancel = nil
	m.done = nil
}

func (m *AlertMonitor) run(ctx context.Context, id domain.SessionID, done chan struct{}) {
	defer close(done)

	feed, err := m.subscribe(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("alert stream unavailable", "session_id", id, "error", err)
		m.events.SessionError(domain.ErrorCodeAlerts, err.Error())
		return
	}

	m.logger.Debug("alert stream opened", "session_id", id)
	for alert := range feed {
		if m.alerts != nil && m.alerts.Seen(alert) {
			continue
		}
		m.events.KeywordAlert(id, alert)
	}
	if ctx.Err() == nil {
		m.logger.Info("alert stream closed by server", "session_id", id)
	}
}
