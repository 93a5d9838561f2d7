package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/beatgrid/internal/engine"
)

// Output modes.
const (
	OutputStream = "stream"
	OutputDevice = "device"
	OutputBoth   = "both"
	OutputNone   = "none"
)

// ErrOutputMode is returned for an output mode other than the four above.
var ErrOutputMode = errors.New("config: unknown output mode")

// Config holds all runtime configuration: defaults, then the optional YAML
// file named by BEATGRID_CONFIG, then BEATGRID_* environment variables.
type Config struct {
	// Engine tuning
	SampleRate          int    `yaml:"sample_rate"`
	Channels            int    `yaml:"channels"`
	PreloadFrames       int    `yaml:"preload_frames"`
	ChunkFrames         int    `yaml:"chunk_frames"`
	ChunkWindowFrames   int    `yaml:"chunk_window_frames"`
	PoolCapacity        int    `yaml:"pool_capacity"`
	StretchBlockFrames  int    `yaml:"stretch_block_frames"`
	ContinuityTolerance uint64 `yaml:"continuity_tolerance"`
	MaxPeriodFrames     int    `yaml:"max_period_frames"`

	// Runtime
	IOInterval time.Duration `yaml:"io_interval"`
	BPM        float64       `yaml:"bpm"`

	// Output
	Port            int           `yaml:"port"` // 0 disables HTTP
	OutputMode      string        `yaml:"output_mode"`
	DeviceBuffer    time.Duration `yaml:"device_buffer"`
	RouteByPlayhead bool          `yaml:"route_by_playhead"`

	// Song import
	ImportDir string  `yaml:"import_dir"`
	ImportBPM float64 `yaml:"import_bpm"` // 0 skips untagged files
}

// Defaults returns the stock configuration.
func Defaults() Config {
	e := engine.DefaultConfig()
	return Config{
		SampleRate:          e.SampleRate,
		Channels:            e.Channels,
		PreloadFrames:       e.PreloadFrames,
		ChunkFrames:         e.ChunkFrames,
		ChunkWindowFrames:   e.ChunkWindowFrames,
		PoolCapacity:        e.PoolCapacity,
		StretchBlockFrames:  e.StretchBlockFrames,
		ContinuityTolerance: e.ContinuityTolerance,
		MaxPeriodFrames:     e.MaxPeriodFrames,

		IOInterval: 10 * time.Millisecond,
		BPM:        120,

		Port:         8080,
		OutputMode:   OutputStream,
		DeviceBuffer: 100 * time.Millisecond,
	}
}

// Load builds the configuration and validates it.
func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("BEATGRID_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.SampleRate = envInt("BEATGRID_SAMPLE_RATE", cfg.SampleRate)
	cfg.Channels = envInt("BEATGRID_CHANNELS", cfg.Channels)
	cfg.PreloadFrames = envInt("BEATGRID_PRELOAD_FRAMES", cfg.PreloadFrames)
	cfg.ChunkFrames = envInt("BEATGRID_CHUNK_FRAMES", cfg.ChunkFrames)
	cfg.ChunkWindowFrames = envInt("BEATGRID_CHUNK_WINDOW_FRAMES", cfg.ChunkWindowFrames)
	cfg.PoolCapacity = envInt("BEATGRID_POOL_CAPACITY", cfg.PoolCapacity)
	cfg.StretchBlockFrames = envInt("BEATGRID_STRETCH_BLOCK", cfg.StretchBlockFrames)
	cfg.ContinuityTolerance = uint64(envInt("BEATGRID_CONTINUITY_TOLERANCE", int(cfg.ContinuityTolerance)))
	cfg.MaxPeriodFrames = envInt("BEATGRID_MAX_PERIOD_FRAMES", cfg.MaxPeriodFrames)

	cfg.IOInterval = time.Duration(envInt("BEATGRID_IO_INTERVAL_MS", int(cfg.IOInterval/time.Millisecond))) * time.Millisecond
	cfg.BPM = envFloat("BEATGRID_BPM", cfg.BPM)

	cfg.Port = envInt("BEATGRID_PORT", cfg.Port)
	cfg.OutputMode = strings.ToLower(envStr("BEATGRID_OUTPUT", cfg.OutputMode))
	cfg.DeviceBuffer = time.Duration(envInt("BEATGRID_DEVICE_BUFFER_MS", int(cfg.DeviceBuffer/time.Millisecond))) * time.Millisecond
	cfg.RouteByPlayhead = envBool("BEATGRID_ROUTE_BY_PLAYHEAD", cfg.RouteByPlayhead)

	cfg.ImportDir = envStr("BEATGRID_IMPORT_DIR", cfg.ImportDir)
	cfg.ImportBPM = envFloat("BEATGRID_IMPORT_BPM", cfg.ImportBPM)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the engine tuning and the runtime settings.
func (c Config) Validate() error {
	if err := c.Engine().Validate(); err != nil {
		return err
	}
	switch c.OutputMode {
	case OutputStream, OutputDevice, OutputBoth, OutputNone:
	default:
		return fmt.Errorf("%w: %q", ErrOutputMode, c.OutputMode)
	}
	if c.IOInterval <= 0 {
		return fmt.Errorf("config: io interval must be positive, got %v", c.IOInterval)
	}
	if c.BPM <= 0 {
		return fmt.Errorf("config: bpm must be positive, got %v", c.BPM)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.ImportBPM < 0 {
		return fmt.Errorf("config: import bpm must not be negative, got %v", c.ImportBPM)
	}
	return nil
}

// Engine returns the engine tuning carried by c.
func (c Config) Engine() engine.Config {
	return engine.Config{
		SampleRate:          c.SampleRate,
		Channels:            c.Channels,
		PreloadFrames:       c.PreloadFrames,
		ChunkFrames:         c.ChunkFrames,
		ChunkWindowFrames:   c.ChunkWindowFrames,
		PoolCapacity:        c.PoolCapacity,
		StretchBlockFrames:  c.StretchBlockFrames,
		ContinuityTolerance: c.ContinuityTolerance,
		MaxPeriodFrames:     c.MaxPeriodFrames,
	}
}

// Stream reports whether the HTTP/WebRTC pipeline should run.
func (c Config) Stream() bool {
	return c.OutputMode == OutputStream || c.OutputMode == OutputBoth
}

// Device reports whether the local sound card should be opened.
func (c Config) Device() bool {
	return c.OutputMode == OutputDevice || c.OutputMode == OutputBoth
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
