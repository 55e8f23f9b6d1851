package cli

import (
	"fmt"
	"io"
	"sync"

	"stationear/internal/domain"
)

// eventPrinter reports runtime events as lines on the error stream.
type eventPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	view renderer

	stopped chan domain.StopResult
}

func newEventPrinter(out io.Writer, plain bool) *eventPrinter {
	return &eventPrinter{
		out:     out,
		view:    newRenderer(out, plain),
		stopped: make(chan domain.StopResult, 1),
	}
}

// Stopped receives the result of a run that ended, including auto-stops.
func (p *eventPrinter) Stopped() <-chan domain.StopResult {
	return p.stopped
}

func (p *eventPrinter) RecordingStateChanged(state domain.RecordingState, reason domain.StateReason) {
	p.line("recording %s (%s)", state, reason)
}

func (p *eventPrinter) SessionChanged(active domain.SessionID, ended domain.SessionID) {
	p.line("session %s replaced %s", active, ended)
}

func (p *eventPrinter) RecordingStopped(result domain.StopResult) {
	p.line("stopped session %s: %d chunks uploaded, %d failed", result.EndedSessionID, result.UploadedChunks, result.FailedChunks)
	select {
	case p.stopped <- result:
	default:
	}
}

func (p *eventPrinter) ResultsReady(id domain.SessionID, result domain.SessionResult) {
	p.line("results ready for session %s (%d announcements)", id, result.TotalAnnouncements)
}

func (p *eventPrinter) KeywordAlert(id domain.SessionID, alert domain.KeywordAlert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.view.alert(id, alert)
}

func (p *eventPrinter) SessionError(code domain.ErrorCode, detail string) {
	p.line("error [%s] %s", code, detail)
}

func (p *eventPrinter) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}
