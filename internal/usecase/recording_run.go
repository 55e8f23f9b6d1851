package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"stationear/internal/ports"
)

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	*time.Ticker
}

func newTimeTicker(d time.Duration) ticker {
	return timeTicker{Ticker: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time {
	return t.Ticker.C
}

// recordingRun is the state of one start..stop cycle.
type recordingRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	ticker ticker
	quit   chan struct{}
	done   chan struct{}

	stopping atomic.Bool

	// cycleMu serializes chunk rotation and finalization; capture is only
	// touched while it is held.
	cycleMu sync.Mutex
	capture ports.ChunkCapture

	elapsed  atomic.Int64
	uploaded atomic.Int32
	failed   atomic.Int32
}

func (r *recordingRun) addElapsed(d time.Duration) time.Duration {
	return time.Duration(r.elapsed.Add(int64(d)))
}

func (r *recordingRun) elapsedTotal() time.Duration {
	return time.Duration(r.elapsed.Load())
}

func (r *recordingRun) resetElapsed() {
	r.elapsed.Store(0)
}

func (r *recordingRun) counts() (uploaded int, failed int) {
	return int(r.uploaded.Load()), int(r.failed.Load())
}
