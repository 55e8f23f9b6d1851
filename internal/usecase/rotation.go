package usecase

import (
	"fmt"
	"time"

	"stationear/internal/domain"
)

func (c *RecordingController) tickLoop(run *recordingRun) {
	defer close(run.done)

	for {
		select {
		case <-run.quit:
			return
		case <-run.ticker.C():
			if !c.rotate(run) {
				return
			}
		}
	}
}

// rotate closes the current chunk, uploads it and opens the next one. It
// reports whether the run is still recording afterwards.
func (c *RecordingController) rotate(run *recordingRun) bool {
	run.cycleMu.Lock()
	if run.stopping.Load() {
		run.cycleMu.Unlock()
		return false
	}

	duration := int(c.cfg.ChunkInterval / time.Second)
	if run.capture != nil {
		reason := domain.ReasonChunkUploadFailed
		if c.uploader.Deliver(run.ctx, run, run.capture, &duration) {
			reason = domain.ReasonChunkUploaded
		}
		c.events.RecordingStateChanged(domain.RecordingStateRecording, reason)
		run.capture = nil
	}

	if run.addElapsed(c.cfg.ChunkInterval) >= c.cfg.MaxDuration {
		run.cycleMu.Unlock()
		_, _ = c.finish(run.ctx, run, domain.ReasonAutoStopped)
		return false
	}
	if run.stopping.Load() {
		run.cycleMu.Unlock()
		return false
	}

	next, err := c.recorder.Start(run.ctx)
	if err != nil {
		run.cycleMu.Unlock()
		c.logger.Error("failed to open next chunk", "error", err)
		c.events.SessionError(domain.ErrorCodeRecorder, fmt.Sprintf("failed to start recorder: %v", err))
		_, _ = c.finish(run.ctx, run, domain.ReasonRecorderFailed)
		return false
	}
	run.capture = next
	run.cycleMu.Unlock()
	return true
}
