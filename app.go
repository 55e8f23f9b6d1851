package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"stationear/internal/bootstrap"
	"stationear/internal/domain"
	"stationear/internal/rules"
	"stationear/internal/session"
	"stationear/internal/usecase"
)

const (
	eventRecording = "stationear:recording"
	eventSession   = "stationear:session"
	eventStopped   = "stationear:stopped"
	eventResults   = "stationear:results"
	eventAlert     = "stationear:alert"
	eventKeywords  = "stationear:keywords"
	eventError     = "stationear:error"
)

// App is the Wails application root.
type App struct {
	ctx    context.Context
	runCtx context.Context
	cancel context.CancelFunc

	services bootstrap.Services
	bootErr  error

	mu        sync.Mutex
	active    domain.SessionID
	lastEnded domain.SessionID
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.runCtx = runCtx
	a.cancel = cancel
	a.services = services
	services.Sessions.OnChange(a.sessionUpdated)

	go a.watchRules(runCtx)
	go a.initialize(runCtx)
}

func (a *App) shutdown(_ context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.services.Close(); err != nil && a.services.Logger != nil {
		a.services.Logger.Warn("shutdown failed", "error", err)
	}
}

func (a *App) initialize(ctx context.Context) {
	if err := a.services.Sessions.Initialize(ctx); err != nil {
		a.SessionError(domain.ErrorCodeSession, err.Error())
		a.RecordingStateChanged(domain.RecordingStateError, domain.ReasonSessionNotReady)
		return
	}
	a.RecordingStateChanged(domain.RecordingStateIdle, domain.ReasonSessionReady)
}

func (a *App) watchRules(ctx context.Context) {
	logger := a.services.Logger
	err := rules.Watch(ctx, a.services.Rules, logger, func(err error) {
		if err != nil {
			a.SessionError(domain.ErrorCodeRules, err.Error())
		}
	})
	if err != nil && ctx.Err() == nil {
		logger.Warn("rules hot reload disabled", "path", a.services.Rules.Path(), "error", err)
	}
}

// sessionUpdated follows the active session with the alert stream and the
// keyword list. It runs on every published snapshot.
func (a *App) sessionUpdated(snapshot session.Snapshot) {
	a.mu.Lock()
	changed := snapshot.Active != a.active
	a.active = snapshot.Active
	a.mu.Unlock()
	if !changed {
		return
	}

	a.SessionChanged(snapshot.Active, snapshot.Ended)
	if !snapshot.Ended.IsZero() {
		a.RecordingStateChanged(domain.RecordingStateIdle, domain.ReasonSessionReplaced)
	}
	if a.runCtx == nil {
		return
	}
	a.services.Monitor.Follow(a.runCtx, snapshot.Active)
	if snapshot.Active.IsZero() {
		return
	}
	go a.refreshKeywords(snapshot.Active)
}

func (a *App) refreshKeywords(id domain.SessionID) {
	items, err := a.services.Keywords.List(a.runCtx, id)
	if err != nil {
		a.SessionError(domain.ErrorCodeKeywords, err.Error())
		return
	}
	a.keywordsChanged(id, items)
}

// StartRecording begins chunked recording into the active session.
func (a *App) StartRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Recorder.Start(a.ctx); err != nil {
		if !errors.Is(err, usecase.ErrSessionNotReady) && !errors.Is(err, usecase.ErrAlreadyRecording) {
			a.SessionError(domain.ErrorCodeRecorder, err.Error())
		}
		return domain.Status{}, err
	}
	return a.services.Recorder.Status(), nil
}

// StopRecording finalizes the run and replaces the session. The ended session
// id is kept for WaitForResults.
func (a *App) StopRecording() (domain.StopResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.StopResult{}, err
	}
	result, err := a.services.Recorder.Stop(a.ctx)
	if errors.Is(err, usecase.ErrNotRecording) {
		return domain.StopResult{}, err
	}
	a.rememberEnded(result.EndedSessionID)
	return result, err
}

// WaitForResults waits for the most recently ended session to finish processing
// and returns its digest.
func (a *App) WaitForResults() (usecase.Digest, error) {
	if err := a.requireReady(); err != nil {
		return usecase.Digest{}, err
	}
	target := a.endedSession()

	a.RecordingStateChanged(domain.RecordingStateIdle, domain.ReasonWaitingForResults)
	result, err := a.services.Watcher.WaitAndFetch(a.ctx, target)
	switch {
	case errors.Is(err, usecase.ErrWatchTimeout):
		a.RecordingStateChanged(domain.RecordingStateIdle, domain.ReasonResultsTimedOut)
		return usecase.Digest{}, err
	case err != nil:
		a.RecordingStateChanged(domain.RecordingStateIdle, domain.ReasonResultsUnavailable)
		a.SessionError(domain.ErrorCodeResults, err.Error())
		return usecase.Digest{}, err
	}
	a.RecordingStateChanged(domain.RecordingStateIdle, domain.ReasonResultsReady)
	return a.digest(*result), nil
}

// GetResults fetches results without waiting. An empty id resolves to the
// ended session, then the active one.
func (a *App) GetResults(id string) (usecase.Digest, error) {
	if err := a.requireReady(); err != nil {
		return usecase.Digest{}, err
	}
	result := a.services.Sessions.FetchResults(a.ctx, domain.SessionID(id))
	if result == nil {
		return usecase.Digest{}, usecase.ErrResultsUnavailable
	}
	return a.digest(*result), nil
}

// GetStatus returns the current recording status.
func (a *App) GetStatus() domain.Status {
	if a.services.Recorder == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.RecordingStateError, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.RecordingStateIdle}
	}
	status := a.services.Recorder.Status()
	if lastErr := a.services.Sessions.Snapshot().LastError; lastErr != "" && !status.Ready {
		status.Message = lastErr
	}
	return status
}

// ListKeywords returns the keywords registered for the active session.
func (a *App) ListKeywords() ([]domain.Keyword, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.Keywords.List(a.ctx, a.services.Sessions.Active())
}

func (a *App) AddKeyword(text string) ([]domain.Keyword, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	id := a.services.Sessions.Active()
	items, err := a.services.Keywords.Add(a.ctx, id, text)
	if err != nil {
		a.SessionError(domain.ErrorCodeKeywords, err.Error())
		return nil, err
	}
	a.keywordsChanged(id, items)
	return items, nil
}

func (a *App) RemoveKeyword(keyword domain.Keyword) ([]domain.Keyword, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	id := a.services.Sessions.Active()
	items, err := a.services.Keywords.Remove(a.ctx, id, keyword)
	if err != nil {
		a.SessionError(domain.ErrorCodeKeywords, err.Error())
		return items, err
	}
	a.keywordsChanged(id, items)
	return items, nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	cfg := a.services.Config
	return map[string]string{
		"apiBase":          cfg.API.BaseURL,
		"chunkSeconds":     strconv.Itoa(int(cfg.Recording.ChunkInterval.Seconds())),
		"maxSeconds":       strconv.Itoa(int(cfg.Recording.MaxDuration.Seconds())),
		"rulesFile":        cfg.Rules.Path,
		"database":         cfg.Storage.DBPath,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services.Recorder == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) digest(result domain.SessionResult) usecase.Digest {
	return usecase.BuildDigest(result, a.services.Keywords.Texts(), a.services.Rules)
}

func (a *App) rememberEnded(id domain.SessionID) {
	if id.IsZero() {
		return
	}
	a.mu.Lock()
	a.lastEnded = id
	a.mu.Unlock()
}

func (a *App) endedSession() domain.SessionID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastEnded
}

// RecordingStateChanged emits recording lifecycle updates to the frontend.
func (a *App) RecordingStateChanged(state domain.RecordingState, reason domain.StateReason) {
	a.emit(eventRecording, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": recordingReasonMessage(reason),
	})
}

// SessionChanged emits the active and ended session ids.
func (a *App) SessionChanged(active domain.SessionID, ended domain.SessionID) {
	a.emit(eventSession, map[string]string{
		"active": active.String(),
		"ended":  ended.String(),
	})
}

// RecordingStopped keeps the ended id for result lookup and notifies the
// frontend. Auto-stops arrive here without a StopRecording call.
func (a *App) RecordingStopped(result domain.StopResult) {
	a.rememberEnded(result.EndedSessionID)
	a.emit(eventStopped, result)
}

func (a *App) ResultsReady(id domain.SessionID, result domain.SessionResult) {
	a.emit(eventResults, map[string]any{
		"sessionId": id.String(),
		"result":    result,
	})
}

func (a *App) KeywordAlert(id domain.SessionID, alert domain.KeywordAlert) {
	a.emit(eventAlert, map[string]any{
		"sessionId": id.String(),
		"alert":     alert,
		"message":   alertMessage(alert),
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.emit(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) keywordsChanged(id domain.SessionID, items []domain.Keyword) {
	a.emit(eventKeywords, map[string]any{
		"sessionId": id.String(),
		"keywords":  items,
	})
}

func (a *App) emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}

func recordingReasonMessage(reason domain.StateReason) string {
	switch reason {
	case domain.ReasonSessionReady:
		return "Ready to record"
	case domain.ReasonSessionNotReady:
		return "Session is not ready yet"
	case domain.ReasonSessionReplaced:
		return "New session started"
	case domain.ReasonRecordingStarted:
		return "Recording"
	case domain.ReasonRecordingStopped:
		return "Recording stopped"
	case domain.ReasonAutoStopped:
		return "Recording stopped at the time limit"
	case domain.ReasonRecorderFailed:
		return "Recorder failed"
	case domain.ReasonChunkUploaded:
		return "Chunk uploaded"
	case domain.ReasonChunkUploadFailed:
		return "Chunk upload failed"
	case domain.ReasonWaitingForResults:
		return "Processing announcements..."
	case domain.ReasonResultsReady:
		return "Results ready"
	case domain.ReasonResultsTimedOut:
		return "Still processing, check back later"
	case domain.ReasonResultsUnavailable:
		return "Results unavailable"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeSession:
		return "Session error"
	case domain.ErrorCodeRecorder:
		return "Recorder error"
	case domain.ErrorCodeUpload:
		return "Upload failed"
	case domain.ErrorCodeResults:
		return "Could not load results"
	case domain.ErrorCodeKeywords:
		return "Keyword update failed"
	case domain.ErrorCodeAlerts:
		return "Live alerts unavailable"
	case domain.ErrorCodeRules:
		return "Transcript rules failed to load"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

func alertMessage(alert domain.KeywordAlert) string {
	keyword := alert.Keyword
	if keyword == "" {
		return "Keyword detected"
	}
	if alert.DetectedAt == "" {
		return fmt.Sprintf("Keyword detected: %s", keyword)
	}
	return fmt.Sprintf("Keyword detected: %s (%s)", keyword, alert.DetectedAt)
}
