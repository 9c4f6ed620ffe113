package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Detector DetectorConfig `yaml:"detector"`
	Engine   EngineConfig   `yaml:"engine"`
	Sensors  []SensorConfig `yaml:"sensors"`
	Overlay  OverlayConfig  `yaml:"overlay"`
	Web      WebConfig      `yaml:"web"`
	Record   RecordConfig   `yaml:"record"`
	Replay   ReplayConfig   `yaml:"replay"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PipelineConfig contains frame pipeline configuration
type PipelineConfig struct {
	// DisableFrontCompensation turns off the +90 degree rotation applied
	// for front-facing sensors on platforms that deliver uncompensated
	// frames. The zero value keeps compensation on.
	DisableFrontCompensation bool          `yaml:"disable_front_compensation"`
	EngineTimeout            time.Duration `yaml:"engine_timeout"`
	StatsInterval            time.Duration `yaml:"stats_interval"`
}

// DetectorConfig contains the detector option set sent with every
// inference request. Constructed once at startup, immutable afterwards.
type DetectorConfig struct {
	Classification      bool    `yaml:"classification"`
	Landmarks           bool    `yaml:"landmarks"`
	Tracking            bool    `yaml:"tracking"`
	PerformanceMode     string  `yaml:"performance_mode"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// EngineConfig contains inference engine client configuration
type EngineConfig struct {
	Mode    string        `yaml:"mode"` // http or fake
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SensorConfig describes one selectable camera sensor
type SensorConfig struct {
	ID       string `yaml:"id"`
	Label    string `yaml:"label"`
	Facing   string `yaml:"facing"`   // front or back
	Rotation int    `yaml:"rotation"` // fixed mounting rotation in degrees
	URL      string `yaml:"url"`      // rtsp:// stream, file path, or synthetic:
	Width    int    `yaml:"width"`    // decode size for rtsp streams
	Height   int    `yaml:"height"`
}

// OverlayConfig contains render surface configuration
type OverlayConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// RecordConfig contains the optional detection recorder configuration
type RecordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DBPath     string `yaml:"db_path"`
	RetainDays int    `yaml:"retain_days"`
}

// ReplayConfig contains defaults for the replay command
type ReplayConfig struct {
	FPS    int    `yaml:"fps"`
	Engine string `yaml:"engine"` // fake or http
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// Default returns the built-in configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config.yaml",
		"./config/config.yaml",
		"/etc/faceframe/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Return the first default if none found (will error later)
	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Pipeline.EngineTimeout == 0 {
		c.Pipeline.EngineTimeout = 2 * time.Second
	}
	if c.Pipeline.StatsInterval == 0 {
		c.Pipeline.StatsInterval = 30 * time.Second
	}

	if c.Detector.PerformanceMode == "" {
		c.Detector.PerformanceMode = "fast"
	}
	if c.Detector.ConfidenceThreshold == 0 {
		c.Detector.ConfidenceThreshold = 0.5
	}

	if c.Engine.Mode == "" {
		c.Engine.Mode = "http"
	}
	if c.Engine.URL == "" {
		c.Engine.URL = "http://localhost:8080"
	}
	if c.Engine.Timeout == 0 {
		c.Engine.Timeout = c.Pipeline.EngineTimeout
	}

	if c.Overlay.Width == 0 {
		c.Overlay.Width = 720
	}
	if c.Overlay.Height == 0 {
		c.Overlay.Height = 1280
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8095
	}

	if c.Record.DBPath == "" {
		c.Record.DBPath = "./data/detections.db"
	}
	if c.Record.RetainDays == 0 {
		c.Record.RetainDays = 7
	}

	if c.Replay.FPS == 0 {
		c.Replay.FPS = 30
	}
	if c.Replay.Engine == "" {
		c.Replay.Engine = "fake"
	}

	for i := range c.Sensors {
		if c.Sensors[i].Facing == "" {
			c.Sensors[i].Facing = "back"
		}
		if c.Sensors[i].Label == "" {
			c.Sensors[i].Label = c.Sensors[i].ID
		}
	}
}
