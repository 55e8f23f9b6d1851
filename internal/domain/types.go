package domain

import (
	"strings"
	"time"
)

// SessionID is the backend's session identifier. It is treated as an opaque token.
type SessionID string

func (id SessionID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

func (id SessionID) String() string {
	return string(id)
}

// RecordingState models the chunked recording lifecycle.
type RecordingState string

const (
	RecordingStateIdle      RecordingState = "idle"
	RecordingStateRecording RecordingState = "recording"
	RecordingStateError     RecordingState = "error"
)

// StateReason provides a structured reason for state transitions.
type StateReason string

const (
	ReasonSessionReady       StateReason = "session_ready"
	ReasonSessionNotReady    StateReason = "session_not_ready"
	ReasonSessionReplaced    StateReason = "session_replaced"
	ReasonRecordingStarted   StateReason = "recording_started"
	ReasonRecordingStopped   StateReason = "recording_stopped"
	ReasonAutoStopped        StateReason = "auto_stopped"
	ReasonRecorderFailed     StateReason = "recorder_failed"
	ReasonChunkUploaded      StateReason = "chunk_uploaded"
	ReasonChunkUploadFailed  StateReason = "chunk_upload_failed"
	ReasonWaitingForResults  StateReason = "waiting_for_results"
	ReasonResultsReady       StateReason = "results_ready"
	ReasonResultsTimedOut    StateReason = "results_timed_out"
	ReasonResultsUnavailable StateReason = "results_unavailable"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup  ErrorCode = "startup"
	ErrorCodeSession  ErrorCode = "session"
	ErrorCodeRecorder ErrorCode = "recorder"
	ErrorCodeUpload   ErrorCode = "upload"
	ErrorCodeResults  ErrorCode = "results"
	ErrorCodeKeywords ErrorCode = "keywords"
	ErrorCodeAlerts   ErrorCode = "alerts"
	ErrorCodeRules    ErrorCode = "rules"
)

// ProcessingStatus is the server-side processing state of a session.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "PENDING"
	ProcessingRecording  ProcessingStatus = "RECORDING"
	ProcessingProcessing ProcessingStatus = "PROCESSING"
	ProcessingComplete   ProcessingStatus = "COMPLETE"
)

// IsTerminal reports whether results are ready to fetch.
func (s ProcessingStatus) IsTerminal() bool {
	return s == ProcessingComplete
}

// SessionStatus is the payload of the session status endpoint.
type SessionStatus struct {
	Status        ProcessingStatus `json:"status"`
	DoneChunks    int              `json:"done_chunks"`
	TotalChunks   int              `json:"total_chunks"`
	KeywordAlerts []KeywordAlert   `json:"keyword_alerts,omitempty"`
}

// KeywordAlert reports a registered keyword spotted in a broadcast.
type KeywordAlert struct {
	Keyword     string `json:"keyword"`
	BroadcastID *int64 `json:"broadcast_id"`
	DetectedAt  string `json:"detected_at"`
}

// SessionResult is the processed output of an ended session.
type SessionResult struct {
	Summary            string          `json:"summary"`
	Timeline           []TimelineEntry `json:"timeline"`
	TotalAnnouncements int             `json:"total_announcements"`
}

// TimelineEntry is one grouped announcement.
type TimelineEntry struct {
	AnnouncementID   int64             `json:"announcement_id"`
	FullText         string            `json:"full_text"`
	Summary          string            `json:"summary,omitempty"`
	KeywordsDetected []string          `json:"keywords_detected"`
	Info             *AnnouncementInfo `json:"info,omitempty"`
}

// AnnouncementInfo is structured data extracted from an announcement.
type AnnouncementInfo struct {
	Station   string   `json:"station"`
	Door      string   `json:"door"`
	Transfers []string `json:"transfers"`
	Warnings  []string `json:"warnings"`
}

func (i *AnnouncementInfo) IsEmpty() bool {
	if i == nil {
		return true
	}
	return i.Station == "" && i.Door == "" && len(i.Transfers) == 0 && len(i.Warnings) == 0
}

// Keyword is a registered keyword. ID is nil until the server assigns one.
type Keyword struct {
	ID        *int64    `json:"id"`
	Text      string    `json:"text"`
	SessionID SessionID `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Chunk is a finalized audio capture on local storage.
type Chunk struct {
	Path      string    `json:"path"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}

// ChunkUpload describes one chunk upload request. A nil Duration marks the final chunk.
type ChunkUpload struct {
	SessionID SessionID
	Duration  *int
	Path      string
}

// UploadAck is the server acknowledgement for a chunk upload.
type UploadAck struct {
	AudioID int64  `json:"audio_id"`
	Status  string `json:"status"`
	File    string `json:"file"`
}

// StopResult is returned once a recording run has been finalized.
type StopResult struct {
	EndedSessionID  SessionID   `json:"endedSessionId"`
	ActiveSessionID SessionID   `json:"activeSessionId"`
	Reason          StateReason `json:"reason"`
	UploadedChunks  int         `json:"uploadedChunks"`
	FailedChunks    int         `json:"failedChunks"`
}

// Status summarizes the current runtime status.
type Status struct {
	State     RecordingState `json:"state"`
	Active    bool           `json:"active"`
	Ready     bool           `json:"ready"`
	SessionID SessionID      `json:"sessionId,omitempty"`
	Elapsed   time.Duration  `json:"elapsed"`
	Message   string         `json:"message,omitempty"`
}
