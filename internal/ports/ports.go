package ports

import (
	"context"

	"stationear/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
}

// ChunkCapture is one in-flight chunk recording.
type ChunkCapture interface {
	// Stop finalizes the capture and returns the durable chunk.
	Stop() (domain.Chunk, error)
}

// ChunkRecorder is the platform recorder producing bounded chunk files.
type ChunkRecorder interface {
	Start(ctx context.Context) (ChunkCapture, error)
	Discard(chunk domain.Chunk) error
}

// SessionBackend is the subset of the remote API used by the session store.
type SessionBackend interface {
	CreateSession(ctx context.Context, previous domain.SessionID) (domain.SessionID, error)
	DeleteSession(ctx context.Context, id domain.SessionID) error
	SessionStatus(ctx context.Context, id domain.SessionID) (domain.SessionStatus, error)
	SessionResults(ctx context.Context, id domain.SessionID) (domain.SessionResult, error)
	UploadAudio(ctx context.Context, upload domain.ChunkUpload) (domain.UploadAck, error)
	RegisterKeywords(ctx context.Context, id domain.SessionID, words []string) error
}

// KeywordBackend is the subset of the remote API used by the keyword registry.
type KeywordBackend interface {
	ListKeywords(ctx context.Context, id domain.SessionID) ([]domain.Keyword, error)
	RegisterKeywords(ctx context.Context, id domain.SessionID, words []string) error
	DeleteKeyword(ctx context.Context, keywordID int64) error
}

// SessionHistory persists created session ids and the last ended session
// across restarts.
type SessionHistory interface {
	AppendSession(ctx context.Context, id domain.SessionID) error
	SessionHistory(ctx context.Context) ([]domain.SessionID, error)
	ClearSessionHistory(ctx context.Context) error
	SetLastEnded(ctx context.Context, id domain.SessionID) error
}

// KeywordCache persists per-session keyword lists across restarts.
type KeywordCache interface {
	SaveKeywords(ctx context.Context, id domain.SessionID, keywords []domain.Keyword) error
	LoadKeywords(ctx context.Context, id domain.SessionID) ([]domain.Keyword, error)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	RecordingStateChanged(state domain.RecordingState, reason domain.StateReason)
	SessionChanged(active domain.SessionID, ended domain.SessionID)
	RecordingStopped(result domain.StopResult)
	ResultsReady(id domain.SessionID, result domain.SessionResult)
	KeywordAlert(id domain.SessionID, alert domain.KeywordAlert)
	SessionError(code domain.ErrorCode, detail string)
}
