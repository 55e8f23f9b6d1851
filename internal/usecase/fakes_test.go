package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"stationear/internal/domain"
	"stationear/internal/ports"
	"stationear/internal/session"
)

type fakeRecorder struct {
	mu       sync.Mutex
	starts   int
	failAt   int
	stopErr  error
	discards []string
	open     int
	maxOpen  int
}

func (f *fakeRecorder) Start(_ context.Context) (ports.ChunkCapture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.failAt > 0 && f.starts == f.failAt {
		return nil, errors.New("microphone busy")
	}
	f.open++
	f.maxOpen = max(f.maxOpen, f.open)
	return &fakeCapture{owner: f, path: fmt.Sprintf("chunk-%d.m4a", f.starts), err: f.stopErr}, nil
}

func (f *fakeRecorder) closed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open--
}

// peakOpen returns the largest number of captures that were open at once.
func (f *fakeRecorder) peakOpen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxOpen
}

func (f *fakeRecorder) Discard(chunk domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discards = append(f.discards, chunk.Path)
	return nil
}

func (f *fakeRecorder) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeRecorder) discarded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.discards)
}

type fakeCapture struct {
	owner *fakeRecorder
	path  string
	err   error
}

func (f *fakeCapture) Stop() (domain.Chunk, error) {
	if f.owner != nil {
		f.owner.closed()
	}
	if f.err != nil {
		return domain.Chunk{}, f.err
	}
	return domain.Chunk{Path: f.path}, nil
}

type uploadRecord struct {
	sessionID domain.SessionID
	duration  *int
	path      string
}

type fakeStore struct {
	mu         sync.Mutex
	ready      bool
	active     domain.SessionID
	nextIDs    []domain.SessionID
	uploads    []uploadRecord
	uploadErrs []error
	replaces   [][]string
	replaceErr error

	// When uploadGate is set every upload signals uploading and then waits
	// for the gate; closing it releases all pending and later uploads.
	uploading  chan struct{}
	uploadGate chan struct{}

	replacing   chan struct{}
	replaceGate chan struct{}
}

func (f *fakeStore) gateUploads() {
	f.uploading = make(chan struct{}, 8)
	f.uploadGate = make(chan struct{})
}

// awaitUpload blocks until an upload is parked on the gate.
func (f *fakeStore) awaitUpload(t *testing.T) {
	t.Helper()
	select {
	case <-f.uploading:
	case <-time.After(2 * time.Second):
		t.Fatalf("no upload reached the store")
	}
}

func newFakeStore(active domain.SessionID, next ...domain.SessionID) *fakeStore {
	return &fakeStore{ready: true, active: active, nextIDs: next}
}

func (f *fakeStore) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeStore) Active() domain.SessionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeStore) UploadChunk(_ context.Context, chunk domain.Chunk, duration *int) (*domain.UploadAck, error) {
	if f.uploadGate != nil {
		f.uploading <- struct{}{}
		<-f.uploadGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.uploadErrs) > 0 {
		err := f.uploadErrs[0]
		f.uploadErrs = f.uploadErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.uploads = append(f.uploads, uploadRecord{sessionID: f.active, duration: duration, path: chunk.Path})
	return &domain.UploadAck{AudioID: int64(len(f.uploads)), Status: "queued"}, nil
}

func (f *fakeStore) Replace(_ context.Context, carry []string) (session.Transition, error) {
	if f.replaceGate != nil {
		f.replacing <- struct{}{}
		<-f.replaceGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaces = append(f.replaces, slices.Clone(carry))
	if f.replaceErr != nil {
		return session.Transition{}, f.replaceErr
	}
	ended := f.active
	if len(f.nextIDs) > 0 {
		f.active = f.nextIDs[0]
		f.nextIDs = f.nextIDs[1:]
	} else {
		f.active = ended + "'"
	}
	return session.Transition{Ended: ended, Active: f.active}, nil
}

func (f *fakeStore) uploadsSnapshot() []uploadRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.uploads)
}

func (f *fakeStore) replaceCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.replaces)
}

// gatedBackend backs a real session.Store. Replacement creates signal
// creating and wait on createGate when it is set.
type gatedBackend struct {
	mu      sync.Mutex
	nextID  int
	uploads []domain.ChunkUpload

	creating   chan struct{}
	createGate chan struct{}
}

func (g *gatedBackend) CreateSession(_ context.Context, previous domain.SessionID) (domain.SessionID, error) {
	if g.createGate != nil && !previous.IsZero() {
		g.creating <- struct{}{}
		<-g.createGate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	return domain.SessionID(fmt.Sprintf("s%d", g.nextID)), nil
}

func (g *gatedBackend) DeleteSession(context.Context, domain.SessionID) error { return nil }

func (g *gatedBackend) SessionStatus(context.Context, domain.SessionID) (domain.SessionStatus, error) {
	return domain.SessionStatus{}, nil
}

func (g *gatedBackend) SessionResults(context.Context, domain.SessionID) (domain.SessionResult, error) {
	return domain.SessionResult{}, nil
}

func (g *gatedBackend) UploadAudio(_ context.Context, upload domain.ChunkUpload) (domain.UploadAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploads = append(g.uploads, upload)
	return domain.UploadAck{AudioID: int64(len(g.uploads))}, nil
}

func (g *gatedBackend) RegisterKeywords(context.Context, domain.SessionID, []string) error {
	return nil
}

func (g *gatedBackend) uploadsSnapshot() []domain.ChunkUpload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.uploads)
}

type memoryHistory struct{}

func (memoryHistory) AppendSession(context.Context, domain.SessionID) error { return nil }

func (memoryHistory) SessionHistory(context.Context) ([]domain.SessionID, error) { return nil, nil }

func (memoryHistory) ClearSessionHistory(context.Context) error { return nil }

func (memoryHistory) SetLastEnded(context.Context, domain.SessionID) error { return nil }

type fakeKeywords []string

func (f fakeKeywords) Texts() []string { return slices.Clone(f) }

type manualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *manualTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatalf("tick was not consumed")
	}
}

type stateEvent struct {
	state  domain.RecordingState
	reason domain.StateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

type alertEvent struct {
	id    domain.SessionID
	alert domain.KeywordAlert
}

type fakeEventSink struct {
	mu sync.Mutex

	states  []stateEvent
	changes [][2]domain.SessionID
	stopped []domain.StopResult
	results []domain.SessionID
	alerts  []alertEvent
	errors  []errEvent
}

func (f *fakeEventSink) RecordingStateChanged(state domain.RecordingState, reason domain.StateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) SessionChanged(active domain.SessionID, ended domain.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, [2]domain.SessionID{active, ended})
}

func (f *fakeEventSink) RecordingStopped(result domain.StopResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, result)
}

func (f *fakeEventSink) ResultsReady(id domain.SessionID, _ domain.SessionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, id)
}

func (f *fakeEventSink) KeywordAlert(id domain.SessionID, alert domain.KeywordAlert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alertEvent{id: id, alert: alert})
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.states)
}

func (f *fakeEventSink) snapshotStopped() []domain.StopResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.stopped)
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.errors)
}

func (f *fakeEventSink) snapshotAlerts() []alertEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.alerts)
}

func (f *fakeEventSink) snapshotResults() []domain.SessionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.results)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
