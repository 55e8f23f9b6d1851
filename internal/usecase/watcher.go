package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"stationear/internal/domain"
	"stationear/internal/ports"
)

var (
	ErrNoTarget           = errors.New("no session to watch")
	ErrWatchTimeout       = errors.New("still processing, check back later")
	ErrResultsUnavailable = errors.New("results could not be fetched")
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 30 * time.Second
)

// ResultSource is the part of session.Store the watcher polls.
type ResultSource interface {
	FetchStatus(ctx context.Context, target domain.SessionID) (domain.SessionStatus, error)
	FetchResults(ctx context.Context, target domain.SessionID) *domain.SessionResult
}

// AlertFilter drops alerts that were already delivered.
type AlertFilter interface {
	Seen(alert domain.KeywordAlert) bool
}

type WatcherConfig struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Watcher waits for server-side processing of an ended session to complete.
type Watcher struct {
	source ResultSource
	alerts AlertFilter
	events ports.EventSink
	logger *slog.Logger
	cfg    WatcherConfig
}

func NewWatcher(source ResultSource, alerts AlertFilter, events ports.EventSink, logger *slog.Logger, cfg WatcherConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		source: source,
		alerts: alerts,
		events: events,
		logger: logger.With("component", "watcher"),
		cfg:    cfg,
	}
}

// WaitAndFetch polls target until processing completes, then fetches its
// results exactly once. The first poll happens immediately.
func (w *Watcher) WaitAndFetch(ctx context.Context, target domain.SessionID) (*domain.SessionResult, error) {
	if target.IsZero() {
		return nil, ErrNoTarget
	}

	timeout := time.NewTimer(w.cfg.PollTimeout)
	defer timeout.Stop()
	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()

	for {
		status, err := w.source.FetchStatus(ctx, target)
		switch {
		case errors.Is(err, domain.ErrSessionExpired):
			return nil, err
		case err != nil:
			w.logger.Warn("status poll failed", "session_id", target, "error", err)
		default:
			w.forward(target, status.KeywordAlerts)
			if status.Status.IsTerminal() {
				return w.fetch(ctx, target)
			}
			w.logger.Debug("session still processing",
				"session_id", target,
				"status", status.Status,
				"done_chunks", status.DoneChunks,
				"total_chunks", status.TotalChunks,
			)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			return nil, ErrWatchTimeout
		case <-poll.C:
		}
	}
}

func (w *Watcher) fetch(ctx context.Context, target domain.SessionID) (*domain.SessionResult, error) {
	result := w.source.FetchResults(ctx, target)
	if result == nil {
		return nil, ErrResultsUnavailable
	}
	w.events.ResultsReady(target, *result)
	return result, nil
}

func (w *Watcher) forward(target domain.SessionID, alerts []domain.KeywordAlert) {
	for _, alert := range alerts {
		if w.alerts != nil && w.alerts.Seen(alert) {
			continue
		}
		w.events.KeywordAlert(target, alert)
	}
}
