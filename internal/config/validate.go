package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePosture(); err != nil {
		return err
	}
	if err := c.validateSensor(); err != nil {
		return err
	}
	if err := c.validateHistory(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Server.Path) == "" || !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with '/', got %q", c.Server.Path)
	}
	return nil
}

func (c *Config) validatePosture() error {
	p := c.Posture
	if math.IsNaN(p.StandingSpineY) || math.IsInf(p.StandingSpineY, 0) {
		return errors.New("posture.standing_spine_y must be a finite number")
	}
	if math.IsNaN(p.ReclinedExtent) || math.IsInf(p.ReclinedExtent, 0) || p.ReclinedExtent < 0 {
		return errors.New("posture.reclined_extent must be a finite, non-negative number")
	}
	return nil
}

func (c *Config) validateSensor() error {
	if c.Sensor.FaceSources < 1 {
		return fmt.Errorf("sensor.face_sources must be >= 1, got %d", c.Sensor.FaceSources)
	}
	return nil
}

func (c *Config) validateHistory() error {
	grace, err := time.ParseDuration(c.History.GracePeriod)
	if err != nil {
		return fmt.Errorf("history.grace_period: invalid duration (use '2s', '500ms'): %w", err)
	}
	blip, err := time.ParseDuration(c.History.BlipDuration)
	if err != nil {
		return fmt.Errorf("history.blip_duration: invalid duration (use '2s', '500ms'): %w", err)
	}
	if grace < 0 || blip < 0 {
		return errors.New("history durations must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (want auto, text or json)", c.Logging.Format)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
