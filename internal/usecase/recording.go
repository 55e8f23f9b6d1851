package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stationear/internal/domain"
	"stationear/internal/ports"
	"stationear/internal/session"
)

var (
	ErrSessionNotReady  = errors.New("session is not ready")
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no active recording")
)

const (
	defaultChunkInterval = 10 * time.Second
	defaultMaxDuration   = 90 * time.Second
)

// SessionStore is the part of session.Store the recording controller drives.
type SessionStore interface {
	Ready() bool
	Active() domain.SessionID
	UploadChunk(ctx context.Context, chunk domain.Chunk, duration *int) (*domain.UploadAck, error)
	Replace(ctx context.Context, keywordsToCarry []string) (session.Transition, error)
}

// KeywordSource supplies the keyword texts carried into the next session.
type KeywordSource interface {
	Texts() []string
}

// RecordingConfig controls chunk rotation.
type RecordingConfig struct {
	ChunkInterval time.Duration
	MaxDuration   time.Duration
}

// RecordingController runs the record, stop, upload cycle against fixed chunk
// boundaries and a hard recording ceiling.
type RecordingController struct {
	recorder ports.ChunkRecorder
	store    SessionStore
	keywords KeywordSource
	events   ports.EventSink
	uploader chunkUploader
	logger   *slog.Logger
	cfg      RecordingConfig

	newTicker func(time.Duration) ticker

	mu      sync.Mutex
	current *recordingRun
}

func NewRecordingController(
	recorder ports.ChunkRecorder,
	store SessionStore,
	keywords KeywordSource,
	events ports.EventSink,
	logger *slog.Logger,
	cfg RecordingConfig,
) *RecordingController {
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = defaultChunkInterval
	}
	if cfg.MaxDuration < cfg.ChunkInterval {
		cfg.MaxDuration = defaultMaxDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "recording")
	return &RecordingController{
		recorder:  recorder,
		store:     store,
		keywords:  keywords,
		events:    events,
		uploader:  newChunkUploader(store, recorder, events, logger),
		logger:    logger,
		cfg:       cfg,
		newTicker: newTimeTicker,
	}
}

// Start opens the first chunk and arms the rotation ticker.
func (c *RecordingController) Start(ctx context.Context) error {
	if !c.store.Ready() {
		c.events.RecordingStateChanged(domain.RecordingStateIdle, domain.ReasonSessionNotReady)
		return ErrSessionNotReady
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		// A run being finalized still owns the ended session until its replacement exists.
		if c.current.stopping.Load() {
			c.events.RecordingStateChanged(domain.RecordingStateIdle, domain.ReasonSessionNotReady)
			return ErrSessionNotReady
		}
		return ErrAlreadyRecording
	}

	runCtx, cancel := context.WithCancel(ctx)
	capture, err := c.recorder.Start(runCtx)
	if err != nil {
		cancel()
		c.events.SessionError(domain.ErrorCodeRecorder, fmt.Sprintf("failed to start recorder: %v", err))
		c.events.RecordingStateChanged(domain.RecordingStateError, domain.ReasonRecorderFailed)
		return fmt.Errorf("start recorder: %w", err)
	}

	run := &recordingRun{
		ctx:     runCtx,
		cancel:  cancel,
		capture: capture,
		ticker:  c.newTicker(c.cfg.ChunkInterval),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.current = run

	go c.tickLoop(run)

	c.logger.Info("recording started", "session_id", c.store.Active(), "chunk_interval", c.cfg.ChunkInterval)
	c.events.RecordingStateChanged(domain.RecordingStateRecording, domain.ReasonRecordingStarted)
	return nil
}

// Stop finalizes the run, uploads the in-progress chunk and replaces the
// session. The returned result names the session that was recorded into.
// When replacement fails the result is still populated and the error is returned.
func (c *RecordingController) Stop(ctx context.Context) (domain.StopResult, error) {
	run, err := c.getCurrent()
	if err != nil {
		return domain.StopResult{}, err
	}
	return c.finish(ctx, run, domain.ReasonRecordingStopped)
}

// Shutdown ends any run without uploading or replacing the session.
func (c *RecordingController) Shutdown() {
	run, err := c.getCurrent()
	if err != nil {
		return
	}
	if !c.disarm(run) {
		return
	}

	run.cycleMu.Lock()
	defer run.cycleMu.Unlock()
	if run.capture != nil {
		if chunk, err := run.capture.Stop(); err == nil {
			_ = c.recorder.Discard(chunk)
		}
		run.capture = nil
	}
	run.cancel()
	c.release(run)
	c.events.RecordingStateChanged(domain.RecordingStateIdle, domain.ReasonRecordingStopped)
}

// Status returns the current recording status.
func (c *RecordingController) Status() domain.Status {
	c.mu.Lock()
	run := c.current
	c.mu.Unlock()

	status := domain.Status{
		State:     domain.RecordingStateIdle,
		Ready:     c.store.Ready(),
		SessionID: c.store.Active(),
	}
	if run != nil && !run.stopping.Load() {
		status.State = domain.RecordingStateRecording
		status.Active = true
		status.Elapsed = run.elapsedTotal()
	}
	return status
}

func (c *RecordingController) getCurrent() (*recordingRun, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.stopping.Load() {
		return nil, ErrNotRecording
	}
	return c.current, nil
}

// disarm claims the run for finalization. Only the first caller wins. The run
// stays registered until release so Start cannot begin against the ended session.
func (c *RecordingController) disarm(run *recordingRun) bool {
	if !run.stopping.CompareAndSwap(false, true) {
		return false
	}
	run.ticker.Stop()
	close(run.quit)
	return true
}

func (c *RecordingController) release(run *recordingRun) {
	c.mu.Lock()
	if c.current == run {
		c.current = nil
	}
	c.mu.Unlock()
}

// finish is shared by user stop and the duration ceiling.
func (c *RecordingController) finish(ctx context.Context, run *recordingRun, reason domain.StateReason) (domain.StopResult, error) {
	if !c.disarm(run) {
		return domain.StopResult{}, ErrNotRecording
	}
	c.events.RecordingStateChanged(domain.RecordingStateIdle, reason)

	run.cycleMu.Lock()
	defer run.cycleMu.Unlock()
	defer run.cancel()

	ended := c.store.Active()
	if run.capture != nil {
		c.uploader.Deliver(ctx, run, run.capture, nil)
		run.capture = nil
	}

	result := domain.StopResult{
		EndedSessionID:  ended,
		ActiveSessionID: ended,
		Reason:          reason,
	}

	transition, err := c.store.Replace(ctx, c.keywords.Texts())
	run.resetElapsed()
	result.UploadedChunks, result.FailedChunks = run.counts()
	c.release(run)
	if err != nil {
		c.logger.Error("session replacement failed", "ended_session_id", ended, "error", err)
		c.events.SessionError(domain.ErrorCodeSession, fmt.Sprintf("failed to replace session: %v", err))
		c.events.RecordingStopped(result)
		return result, err
	}
	result.ActiveSessionID = transition.Active

	c.logger.Info("recording stopped",
		"reason", reason,
		"ended_session_id", ended,
		"session_id", transition.Active,
		"uploaded", result.UploadedChunks,
		"failed", result.FailedChunks,
	)
	c.events.RecordingStopped(result)
	return result, nil
}
