package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"stationear/internal/domain"
	"stationear/internal/ports"
)

// chunkUploader finalizes one capture: stop, upload, discard.
type chunkUploader struct {
	store    SessionStore
	recorder ports.ChunkRecorder
	events   ports.EventSink
	logger   *slog.Logger
}

func newChunkUploader(store SessionStore, recorder ports.ChunkRecorder, events ports.EventSink, logger *slog.Logger) chunkUploader {
	return chunkUploader{store: store, recorder: recorder, events: events, logger: logger}
}

// Deliver uploads the capture with the given duration; nil marks the final
// chunk. Failures are reported and counted, never returned: a dropped chunk
// does not interrupt recording.
func (u chunkUploader) Deliver(ctx context.Context, run *recordingRun, capture ports.ChunkCapture, duration *int) bool {
	chunk, err := capture.Stop()
	if err != nil {
		run.failed.Add(1)
		u.logger.Error("failed to finalize chunk", "error", err)
		u.events.SessionError(domain.ErrorCodeRecorder, fmt.Sprintf("failed to finalize chunk: %v", err))
		return false
	}
	defer func() {
		if err := u.recorder.Discard(chunk); err != nil {
			u.logger.Warn("failed to discard chunk", "path", chunk.Path, "error", err)
		}
	}()

	ack, err := u.store.UploadChunk(ctx, chunk, duration)
	if err != nil {
		run.failed.Add(1)
		u.logger.Warn("chunk upload failed", "path", chunk.Path, "error", err)
		u.events.SessionError(domain.ErrorCodeUpload, fmt.Sprintf("chunk upload failed: %v", err))
		return false
	}

	run.uploaded.Add(1)
	if ack != nil {
		u.logger.Debug("chunk uploaded", "audio_id", ack.AudioID, "status", ack.Status, "final", duration == nil)
	}
	return true
}
