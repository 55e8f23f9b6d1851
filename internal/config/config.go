package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIBase          = "https://yeonhee.shop/api"
	defaultChunkSeconds     = 10
	defaultMaxSeconds       = 90
	defaultPollIntervalMS   = 2000
	defaultPollTimeoutMS    = 30000
	defaultAPITimeoutMS     = 10000
	defaultKeywordSeedValue = "승강장,안전,지연,출발,혼잡,환승,좌측"
)

// Config stores runtime configuration.
type Config struct {
	API       APIConfig
	Audio     AudioConfig
	Recording RecordingConfig
	Storage   StorageConfig
	Rules     RulesConfig
	Keywords  KeywordsConfig
	LogLevel  slog.Level
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	ChunkDir        string
}

type RecordingConfig struct {
	ChunkInterval time.Duration
	MaxDuration   time.Duration
	PollInterval  time.Duration
	PollTimeout   time.Duration
}

type StorageConfig struct {
	DBPath string
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type KeywordsConfig struct {
	Defaults []string
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	dataHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME"))
	if dataHome == "" {
		dataHome = filepath.Join(home, ".local", "share")
	}

	cfg := Config{
		API: APIConfig{
			BaseURL: strings.TrimRight(envOrDefault("STATIONEAR_API_BASE", defaultAPIBase), "/"),
			Timeout: time.Duration(envOrDefaultInt("STATIONEAR_API_TIMEOUT_MS", defaultAPITimeoutMS)) * time.Millisecond,
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("STATIONEAR_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("STATIONEAR_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("STATIONEAR_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("STATIONEAR_SAMPLE_RATE", 44100),
			Channels:        envOrDefaultInt("STATIONEAR_CHANNELS", 1),
			ChunkDir:        envOrDefault("STATIONEAR_CHUNK_DIR", filepath.Join(os.TempDir(), "stationear-chunks")),
		},
		Recording: RecordingConfig{
			ChunkInterval: time.Duration(envOrDefaultInt("STATIONEAR_CHUNK_SECONDS", defaultChunkSeconds)) * time.Second,
			MaxDuration:   time.Duration(envOrDefaultInt("STATIONEAR_MAX_RECORDING_SECONDS", defaultMaxSeconds)) * time.Second,
			PollInterval:  time.Duration(envOrDefaultInt("STATIONEAR_POLL_INTERVAL_MS", defaultPollIntervalMS)) * time.Millisecond,
			PollTimeout:   time.Duration(envOrDefaultInt("STATIONEAR_POLL_TIMEOUT_MS", defaultPollTimeoutMS)) * time.Millisecond,
		},
		Storage: StorageConfig{
			DBPath: envOrDefault("STATIONEAR_DB_PATH", filepath.Join(dataHome, "stationear", "stationear.sqlite")),
		},
		Rules: RulesConfig{
			Path:           envOrDefault("STATIONEAR_RULES_FILE", filepath.Join(home, ".config", "stationear", "transcript.rules")),
			IterationLimit: envOrDefaultInt("STATIONEAR_RULE_ITERATION_LIMIT", 30),
		},
		Keywords: KeywordsConfig{
			Defaults: splitList(envOrDefault("STATIONEAR_DEFAULT_KEYWORDS", defaultKeywordSeedValue)),
		},
		LogLevel: parseLevel(os.Getenv("STATIONEAR_LOG_LEVEL")),
	}

	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = defaultAPITimeoutMS * time.Millisecond
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 44100
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Recording.ChunkInterval <= 0 {
		cfg.Recording.ChunkInterval = defaultChunkSeconds * time.Second
	}
	if cfg.Recording.MaxDuration < cfg.Recording.ChunkInterval {
		cfg.Recording.MaxDuration = defaultMaxSeconds * time.Second
		if cfg.Recording.MaxDuration < cfg.Recording.ChunkInterval {
			cfg.Recording.MaxDuration = cfg.Recording.ChunkInterval
		}
	}
	if cfg.Recording.PollInterval <= 0 {
		cfg.Recording.PollInterval = defaultPollIntervalMS * time.Millisecond
	}
	if cfg.Recording.PollTimeout <= 0 {
		cfg.Recording.PollTimeout = defaultPollTimeoutMS * time.Millisecond
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}

	return cfg, nil
}

func parseLevel(value string) slog.Level {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
