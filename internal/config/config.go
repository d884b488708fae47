package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/andresmejia3/amdlink/internal/posture"
	"github.com/pelletier/go-toml/v2"
)

// DefaultPath is read when no --config flag is given and the file exists.
const DefaultPath = "amdlink.toml"

// Server contains relay addressing.
type Server struct {
	URL    string `toml:"url"`
	Listen string `toml:"listen"`
	Path   string `toml:"path"`
}

// Sensor contains the external bridge process configuration.
type Sensor struct {
	Command     string   `toml:"command"`
	Args        []string `toml:"args"`
	FaceSources int      `toml:"face_sources"`
	LockFile    string   `toml:"lock_file"`
}

// Posture contains classifier thresholds.
type Posture struct {
	StandingSpineY float64 `toml:"standing_spine_y"`
	ReclinedExtent float64 `toml:"reclined_extent"`
}

// History contains observer interval tracking settings.
type History struct {
	GracePeriod  string `toml:"grace_period"`
	BlipDuration string `toml:"blip_duration"`
}

// Logging contains logger settings.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Store contains the PostgreSQL connection string. Empty disables persistence.
type Store struct {
	URL string `toml:"url"`
}

// Config is the full application configuration.
type Config struct {
	Server  Server  `toml:"server"`
	Sensor  Sensor  `toml:"sensor"`
	Posture Posture `toml:"posture"`
	History History `toml:"history"`
	Logging Logging `toml:"logging"`
	Store   Store   `toml:"store"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			URL:    "ws://127.0.0.1:8080/ws_kinect",
			Listen: ":8080",
			Path:   "/ws_kinect",
		},
		Sensor: Sensor{
			FaceSources: 6,
			LockFile:    "/tmp/amdlink-sensor.lock",
		},
		Posture: Posture{
			StandingSpineY: posture.DefaultThresholds.StandingSpineY,
			ReclinedExtent: posture.DefaultThresholds.ReclinedExtent,
		},
		History: History{
			GracePeriod:  "2s",
			BlipDuration: "500ms",
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads path over the defaults. An empty path falls back to DefaultPath when it exists.
// It returns the config and whether a file was read.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return &cfg, false, cfg.Validate()
		}
		return nil, false, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, false, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, true, nil
}

// Thresholds returns the classifier thresholds.
func (c *Config) Thresholds() posture.Thresholds {
	return posture.Thresholds{
		StandingSpineY: c.Posture.StandingSpineY,
		ReclinedExtent: c.Posture.ReclinedExtent,
	}
}

// GracePeriod returns the parsed history grace period.
func (c *Config) GracePeriod() time.Duration {
	d, _ := time.ParseDuration(c.History.GracePeriod)
	return d
}

// BlipDuration returns the parsed history blip duration.
func (c *Config) BlipDuration() time.Duration {
	d, _ := time.ParseDuration(c.History.BlipDuration)
	return d
}
