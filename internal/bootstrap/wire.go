package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"stationear/internal/audio"
	"stationear/internal/config"
	"stationear/internal/domain"
	"stationear/internal/keywords"
	"stationear/internal/ports"
	"stationear/internal/providers/transitapi"
	"stationear/internal/rules"
	"stationear/internal/session"
	"stationear/internal/storage"
	"stationear/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config   config.Config
	Logger   *slog.Logger
	Client   *transitapi.Client
	Storage  *storage.Store
	Sessions *session.Store
	Keywords *keywords.Registry
	Alerts   *keywords.Deduper
	Rules    *rules.Engine
	Recorder *usecase.RecordingController
	Watcher  *usecase.Watcher
	Monitor  *usecase.AlertMonitor
}

// Build wires all backend dependencies for the current runtime. Logs go to stderr.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWith(cfg, eventSink, os.Stderr)
}

// BuildWith wires the runtime graph from an explicit configuration.
func BuildWith(cfg config.Config, eventSink ports.EventSink, logOutput io.Writer) (Services, error) {
	if eventSink == nil {
		return Services{}, errors.New("event sink is required")
	}
	logger := NewLogger(logOutput, cfg.LogLevel)

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return Services{}, err
	}

	client := transitapi.NewClient(transitapi.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
	})

	sessions := session.NewStore(client, store, logger)
	registry := keywords.NewRegistry(client, store, cfg.Keywords.Defaults, logger)
	alerts := keywords.NewDeduper(0)

	recorder := usecase.NewRecordingController(
		audio.NewFFMPEGRecorder(cfg.Audio.RecorderCommand, cfg.Audio.ChunkDir, ports.AudioConfig{
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
		}),
		sessions,
		registry,
		eventSink,
		logger,
		usecase.RecordingConfig{
			ChunkInterval: cfg.Recording.ChunkInterval,
			MaxDuration:   cfg.Recording.MaxDuration,
		},
	)

	watcher := usecase.NewWatcher(sessions, alerts, eventSink, logger, usecase.WatcherConfig{
		PollInterval: cfg.Recording.PollInterval,
		PollTimeout:  cfg.Recording.PollTimeout,
	})

	monitor := usecase.NewAlertMonitor(streamAlerts(client), alerts, eventSink, logger)

	return Services{
		Config:   cfg,
		Logger:   logger,
		Client:   client,
		Storage:  store,
		Sessions: sessions,
		Keywords: registry,
		Alerts:   alerts,
		Rules:    rulesEngine,
		Recorder: recorder,
		Watcher:  watcher,
		Monitor:  monitor,
	}, nil
}

// Close stops any recording without replacing the session and releases the database.
func (s Services) Close() error {
	if s.Monitor != nil {
		s.Monitor.Close()
	}
	if s.Recorder != nil {
		s.Recorder.Shutdown()
	}
	if s.Storage != nil {
		return s.Storage.Close()
	}
	return nil
}

func streamAlerts(client *transitapi.Client) usecase.AlertSubscribeFunc {
	return func(ctx context.Context, id domain.SessionID) (<-chan domain.KeywordAlert, error) {
		stream, err := client.Subscribe(ctx, id)
		if err != nil {
			return nil, err
		}
		return stream.Events(), nil
	}
}

// NewLogger returns the text logger used across the runtime.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = io.Discard
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
