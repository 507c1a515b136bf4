// Package config loads alohacast settings from a YAML file, with defaults and
// environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all settings. Zero values are replaced by Default().
type Config struct {
	// Engine binary (ffmpeg).
	// Env: ALOHACAST_FFMPEG
	FFmpeg string `yaml:"ffmpeg"`

	// Logging directives, as for $LOGLEVEL, e.g. "info,pipeline=debug".
	// Env: ALOHACAST_LOG_LEVEL
	LogLevel string `yaml:"log_level"`

	// Address for the websocket monitor. Empty disables it.
	// Env: ALOHACAST_MONITOR
	Monitor string `yaml:"monitor"`

	Caster Caster `yaml:"caster"`
	Viewer Viewer `yaml:"viewer"`
}

type Caster struct {
	// UDP port for control and data.
	// Env: ALOHACAST_PORT
	Port int `yaml:"port"`

	FrameRate int    `yaml:"frame_rate"`
	Bitrate   int    `yaml:"bitrate"`
	Display   string `yaml:"display"`

	// Largest payload datagram.
	ChunkSize int `yaml:"chunk_size"`

	// Per-viewer outbound queue length, in chunks.
	QueueLength int `yaml:"queue_length"`

	// Listener socket read timeout; bounds shutdown latency.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// File holding saved crop rectangles.
	CropFile string `yaml:"crop_file"`
}

type Viewer struct {
	// Caster port to connect to.
	Port int `yaml:"port"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	RetryInterval    time.Duration `yaml:"retry_interval"`

	// Frame conversion workers. Zero means one per CPU.
	Workers int `yaml:"workers"`

	// Directory for recordings.
	// Env: ALOHACAST_SAVE_DIR
	SaveDir string `yaml:"save_dir"`

	// Skip the same-LAN check.
	AllowRemote bool `yaml:"allow_remote"`
}

// Default returns a Config with default values.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		FFmpeg:   "ffmpeg",
		LogLevel: "info",
		Caster: Caster{
			Port:        8080,
			FrameRate:   30,
			Bitrate:     4000000,
			ChunkSize:   1400,
			QueueLength: 1024,
			ReadTimeout: 500 * time.Millisecond,
			CropFile:    filepath.Join(home, ".config", "alohacast", "crop.yaml"),
		},
		Viewer: Viewer{
			Port:             8080,
			HandshakeTimeout: 5 * time.Second,
			RetryInterval:    200 * time.Millisecond,
			SaveDir:          filepath.Join(home, "Videos"),
		},
	}
}

// Load reads path over the defaults, then applies environment overrides. A
// missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (cfg *Config) applyEnv() error {
	if val := os.Getenv("ALOHACAST_FFMPEG"); val != "" {
		cfg.FFmpeg = val
	}
	if val := os.Getenv("ALOHACAST_LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}
	if val := os.Getenv("ALOHACAST_MONITOR"); val != "" {
		cfg.Monitor = val
	}
	if val := os.Getenv("ALOHACAST_SAVE_DIR"); val != "" {
		cfg.Viewer.SaveDir = val
	}
	if val := os.Getenv("ALOHACAST_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return errors.New("ALOHACAST_PORT must be a valid integer")
		}
		cfg.Caster.Port = port
		cfg.Viewer.Port = port
	}
	return nil
}

// Validate checks ranges.
func (cfg *Config) Validate() error {
	for _, port := range []int{cfg.Caster.Port, cfg.Viewer.Port} {
		if port < 0 || port > 65535 {
			return errors.Errorf("port %d out of range", port)
		}
	}
	if cfg.Caster.ChunkSize <= 0 || cfg.Caster.ChunkSize > 65507 {
		return errors.Errorf("chunk_size %d must be between 1 and 65507", cfg.Caster.ChunkSize)
	}
	if cfg.Caster.FrameRate <= 0 {
		return errors.New("frame_rate must be positive")
	}
	if cfg.Caster.ReadTimeout <= 0 {
		return errors.New("read_timeout must be positive")
	}
	if cfg.Viewer.HandshakeTimeout <= 0 || cfg.Viewer.RetryInterval <= 0 {
		return errors.New("handshake_timeout and retry_interval must be positive")
	}
	if cfg.Viewer.RetryInterval > cfg.Viewer.HandshakeTimeout {
		return errors.New("retry_interval exceeds handshake_timeout")
	}
	if cfg.Viewer.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	return nil
}
