package config

import (
	"fmt"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errors = append(errors, fmt.Sprintf("invalid logging.level: %s (must be: debug, info, warn, error, fatal)", c.Logging.Level))
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid logging.format: %s (must be: text or json)", c.Logging.Format))
	}

	if c.Pipeline.EngineTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("pipeline.engine_timeout must be > 0, got: %v", c.Pipeline.EngineTimeout))
	}

	if c.Pipeline.StatsInterval <= 0 {
		errors = append(errors, fmt.Sprintf("pipeline.stats_interval must be > 0, got: %v", c.Pipeline.StatsInterval))
	}

	if c.Detector.PerformanceMode != "fast" && c.Detector.PerformanceMode != "accurate" {
		errors = append(errors, fmt.Sprintf("invalid detector.performance_mode: %s (must be: fast or accurate)", c.Detector.PerformanceMode))
	}

	if c.Detector.ConfidenceThreshold < 0 || c.Detector.ConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("detector.confidence_threshold must be between 0 and 1, got: %.2f", c.Detector.ConfidenceThreshold))
	}

	if c.Engine.Mode != "http" && c.Engine.Mode != "fake" {
		errors = append(errors, fmt.Sprintf("invalid engine.mode: %s (must be: http or fake)", c.Engine.Mode))
	}

	if c.Engine.Mode == "http" && c.Engine.URL == "" {
		errors = append(errors, "engine.url is required when engine.mode is http")
	}

	if c.Engine.Timeout <= 0 {
		errors = append(errors, fmt.Sprintf("engine.timeout must be > 0, got: %v", c.Engine.Timeout))
	}

	seen := make(map[string]bool)
	for i, s := range c.Sensors {
		if s.ID == "" {
			errors = append(errors, fmt.Sprintf("sensors[%d].id is required", i))
			continue
		}
		if seen[s.ID] {
			errors = append(errors, fmt.Sprintf("duplicate sensor id: %s", s.ID))
		}
		seen[s.ID] = true

		if s.Facing != "front" && s.Facing != "back" {
			errors = append(errors, fmt.Sprintf("sensors[%d].facing must be front or back, got: %s", i, s.Facing))
		}

		switch s.Rotation {
		case 0, 90, 180, 270:
		default:
			errors = append(errors, fmt.Sprintf("sensors[%d].rotation must be 0, 90, 180 or 270, got: %d", i, s.Rotation))
		}

		if s.URL == "" {
			errors = append(errors, fmt.Sprintf("sensors[%d].url is required", i))
		}

		if s.Width < 0 || s.Height < 0 {
			errors = append(errors, fmt.Sprintf("sensors[%d] decode size must not be negative, got: %dx%d", i, s.Width, s.Height))
		}
	}

	if c.Overlay.Width <= 0 || c.Overlay.Height <= 0 {
		errors = append(errors, fmt.Sprintf("overlay.width and overlay.height must be > 0, got: %dx%d", c.Overlay.Width, c.Overlay.Height))
	}

	if c.Web.Enabled {
		if c.Web.Port <= 0 || c.Web.Port > 65535 {
			errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
		}
	}

	if c.Record.Enabled {
		if c.Record.DBPath == "" {
			errors = append(errors, "record.db_path is required when record is enabled")
		}
		if c.Record.RetainDays < 0 {
			errors = append(errors, fmt.Sprintf("record.retain_days must be >= 0, got: %d", c.Record.RetainDays))
		}
	}

	if c.Replay.FPS <= 0 {
		errors = append(errors, fmt.Sprintf("replay.fps must be > 0, got: %d", c.Replay.FPS))
	}

	if c.Replay.Engine != "fake" && c.Replay.Engine != "http" {
		errors = append(errors, fmt.Sprintf("invalid replay.engine: %s (must be: fake or http)", c.Replay.Engine))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
