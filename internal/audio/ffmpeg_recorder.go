package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"stationear/internal/domain"
	"stationear/internal/ports"
)

const (
	chunkExtension = ".m4a"
	startupProbe   = 250 * time.Millisecond
	stopGrace      = 1200 * time.Millisecond
)

// FFMPEGRecorder records microphone audio into one m4a file per chunk using ffmpeg.
type FFMPEGRecorder struct {
	command string
	dir     string
	cfg     ports.AudioConfig
	now     func() time.Time
}

func NewFFMPEGRecorder(command string, dir string, cfg ports.AudioConfig) *FFMPEGRecorder {
	if command == "" {
		command = "ffmpeg"
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "stationear-chunks")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return &FFMPEGRecorder{command: command, dir: dir, cfg: cfg, now: time.Now}
}

// Start launches ffmpeg writing a new chunk file. The capture runs until Stop.
func (r *FFMPEGRecorder) Start(ctx context.Context) (ports.ChunkCapture, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}
	path := filepath.Join(r.dir, "chunk_"+uuid.NewString()+chunkExtension)

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", r.cfg.InputFormat,
		"-i", r.cfg.InputDevice,
		"-ac", strconv.Itoa(r.cfg.Channels),
		"-ar", strconv.Itoa(r.cfg.SampleRate),
		"-c:a", "aac",
		"-y",
		path,
	}

	cmd := exec.CommandContext(ctx, r.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	startedAt := r.now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = os.Remove(path)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before recording started: %w: %s", err, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before recording started")
	case <-time.After(startupProbe):
	}

	return &ffmpegChunk{
		path:      path,
		startedAt: startedAt,
		now:       r.now,
		stderr:    &stderr,
		process:   cmd.Process,
		waitErr:   waitErr,
	}, nil
}

// Discard removes a chunk file once it has been uploaded. Missing files are ignored.
func (r *FFMPEGRecorder) Discard(chunk domain.Chunk) error {
	if chunk.Path == "" {
		return nil
	}
	if err := os.Remove(chunk.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove chunk: %w", err)
	}
	return nil
}

type ffmpegChunk struct {
	path      string
	startedAt time.Time
	now       func() time.Time
	stderr    *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	chunk    domain.Chunk
	stopErr  error
}

// Stop interrupts ffmpeg so it finalizes the container, killing it if it does not exit in time.
func (c *ffmpegChunk) Stop() (domain.Chunk, error) {
	c.stopOnce.Do(func() {
		if c.process != nil {
			_ = c.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-c.waitErr:
			if ok {
				c.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if c.process != nil {
				_ = c.process.Kill()
			}
			err, ok := <-c.waitErr
			if ok {
				c.stopErr = normalizeStopErr(err)
			}
		}

		if c.stopErr != nil && c.stderr != nil && c.stderr.Len() > 0 {
			c.stopErr = fmt.Errorf("%w: %s", c.stopErr, stringsTrimSpaceSafe(c.stderr.String()))
		}
		if c.stopErr == nil {
			if _, err := os.Stat(c.path); err != nil {
				c.stopErr = fmt.Errorf("chunk file missing after recording: %w", err)
			}
		}
		c.chunk = domain.Chunk{Path: c.path, StartedAt: c.startedAt, EndedAt: c.now()}
	})

	if c.stopErr != nil {
		return domain.Chunk{}, c.stopErr
	}
	return c.chunk, nil
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
