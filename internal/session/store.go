// Package session owns the active/ended session ids and the latest results
// snapshot. Consumers read Snapshot values; only Store methods mutate state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"stationear/internal/domain"
	"stationear/internal/ports"
)

const defaultCleanupConcurrency = 4

var ErrNoSession = errors.New("no session id resolved")

// Snapshot is a point-in-time copy of the store state.
type Snapshot struct {
	Active    domain.SessionID      `json:"activeSessionId,omitempty"`
	Ended     domain.SessionID      `json:"endedSessionId,omitempty"`
	Loading   bool                  `json:"loading"`
	LastError string                `json:"lastError,omitempty"`
	Results   *domain.SessionResult `json:"results,omitempty"`
}

// Ready reports whether recording may start.
func (s Snapshot) Ready() bool {
	return !s.Loading && !s.Active.IsZero()
}

// Transition describes one session replacement.
type Transition struct {
	Ended  domain.SessionID
	Active domain.SessionID
}

// Store coordinates session creation, replacement and cleanup.
type Store struct {
	backend            ports.SessionBackend
	history            ports.SessionHistory
	logger             *slog.Logger
	cleanupConcurrency int

	mu        sync.Mutex
	state     Snapshot
	observers []func(Snapshot)
}

func NewStore(backend ports.SessionBackend, history ports.SessionHistory, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:            backend,
		history:            history,
		logger:             logger.With("component", "session"),
		cleanupConcurrency: defaultCleanupConcurrency,
	}
}

// OnChange registers fn to receive every published snapshot.
func (s *Store) OnChange(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) Ready() bool {
	return s.Snapshot().Ready()
}

func (s *Store) Active() domain.SessionID {
	return s.Snapshot().Active
}

func (s *Store) Ended() domain.SessionID {
	return s.Snapshot().Ended
}

// Initialize deletes every session left over from earlier runs and creates a fresh one.
func (s *Store) Initialize(ctx context.Context) error {
	s.update(func(state *Snapshot) {
		state.Loading = true
		state.LastError = ""
	})

	s.Cleanup(ctx)

	id, err := s.backend.CreateSession(ctx, "")
	if err != nil {
		s.update(func(state *Snapshot) {
			state.Loading = false
			state.Active = ""
			state.LastError = err.Error()
		})
		return fmt.Errorf("create session: %w", err)
	}

	s.remember(ctx, id)
	s.update(func(state *Snapshot) {
		state.Loading = false
		state.Active = id
	})
	s.logger.Info("session ready", "session_id", id)
	return nil
}

// Cleanup deletes every session id in persisted history and clears it along with
// the keywords cached for those sessions. Individual
// delete failures are logged; it returns the number of ids deleted successfully.
func (s *Store) Cleanup(ctx context.Context) int {
	ids, err := s.history.SessionHistory(ctx)
	if err != nil {
		s.logger.Warn("read session history failed", "error", err)
		return 0
	}

	var (
		mu      sync.Mutex
		deleted int
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cleanupConcurrency)
	for _, id := range ids {
		group.Go(func() error {
			if err := s.backend.DeleteSession(groupCtx, id); err != nil {
				s.logger.Warn("delete stale session failed", "session_id", id, "error", err)
				return nil
			}
			mu.Lock()
			deleted++
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	if err := s.history.ClearSessionHistory(ctx); err != nil {
		s.logger.Warn("clear session history failed", "error", err)
	}
	if len(ids) > 0 {
		s.logger.Info("stale sessions cleaned up", "deleted", deleted, "total", len(ids))
	}
	return deleted
}

// Replace ends the active session and creates its successor, re-registering
// keywordsToCarry under the new id. Registration failures are logged only.
// The store reports not ready until the successor is published.
func (s *Store) Replace(ctx context.Context, keywordsToCarry []string) (Transition, error) {
	var ended domain.SessionID
	s.update(func(state *Snapshot) {
		ended = state.Active
		state.Loading = true
	})

	id, err := s.backend.CreateSession(ctx, ended)
	if err != nil {
		s.update(func(state *Snapshot) {
			state.Loading = false
			state.LastError = err.Error()
		})
		return Transition{}, fmt.Errorf("replace session: %w", err)
	}

	s.mu.Lock()
	s.state.Ended = ended
	s.state.Active = id
	s.state.LastError = ""
	s.mu.Unlock()

	s.remember(ctx, id)
	if err := s.history.SetLastEnded(ctx, ended); err != nil {
		s.logger.Warn("save ended session failed", "session_id", ended, "error", err)
	}
	if len(keywordsToCarry) > 0 {
		if err := s.backend.RegisterKeywords(ctx, id, keywordsToCarry); err != nil {
			s.logger.Warn("carry keywords failed", "session_id", id, "count", len(keywordsToCarry), "error", err)
		}
	}
	// Observers see the new id only after carry-over so a keyword refresh reads the carried list.
	s.update(func(state *Snapshot) {
		state.Loading = false
	})

	s.logger.Info("session replaced", "ended_session_id", ended, "session_id", id)
	return Transition{Ended: ended, Active: id}, nil
}

// FetchResults loads results for target, falling back to the ended and then the
// active session. It returns nil when no id resolves or the request fails.
func (s *Store) FetchResults(ctx context.Context, target domain.SessionID) *domain.SessionResult {
	id := s.resolve(target)
	if id.IsZero() {
		return nil
	}

	result, err := s.backend.SessionResults(ctx, id)
	if err != nil {
		s.logger.Warn("fetch results failed", "session_id", id, "error", err)
		return nil
	}

	s.update(func(state *Snapshot) {
		state.Results = &result
	})
	return &result
}

// FetchStatus reads the processing status of target without touching stored state.
func (s *Store) FetchStatus(ctx context.Context, target domain.SessionID) (domain.SessionStatus, error) {
	if target.IsZero() {
		return domain.SessionStatus{}, ErrNoSession
	}
	return s.backend.SessionStatus(ctx, target)
}

// UploadChunk uploads chunk tagged with the active session. It is a no-op when
// there is no chunk file or no active session; upload failures are returned.
func (s *Store) UploadChunk(ctx context.Context, chunk domain.Chunk, duration *int) (*domain.UploadAck, error) {
	if chunk.Path == "" {
		return nil, nil
	}
	id := s.Active()
	if id.IsZero() {
		return nil, nil
	}

	ack, err := s.backend.UploadAudio(ctx, domain.ChunkUpload{SessionID: id, Duration: duration, Path: chunk.Path})
	if err != nil {
		return nil, fmt.Errorf("upload chunk: %w", err)
	}
	return &ack, nil
}

func (s *Store) resolve(target domain.SessionID) domain.SessionID {
	if !target.IsZero() {
		return target
	}
	snapshot := s.Snapshot()
	if !snapshot.Ended.IsZero() {
		return snapshot.Ended
	}
	return snapshot.Active
}

func (s *Store) remember(ctx context.Context, id domain.SessionID) {
	if err := s.history.AppendSession(ctx, id); err != nil {
		s.logger.Warn("append session history failed", "session_id", id, "error", err)
	}
}

func (s *Store) update(mutate func(*Snapshot)) {
	s.mu.Lock()
	mutate(&s.state)
	s.mu.Unlock()
	s.publish()
}

func (s *Store) publish() {
	s.mu.Lock()
	snapshot := s.state
	observers := append([]func(Snapshot){}, s.observers...)
	s.mu.Unlock()

	for _, observer := range observers {
		observer(snapshot)
	}
}
