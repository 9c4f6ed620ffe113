package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ebalodis/faceframe/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []Watcher
}

// Watcher is called when configuration changes
type Watcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]Watcher, 0),
	}, nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldConfig := s.config

	newConfig, err := Load(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	applyEnvOverrides(newConfig)

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid reloaded configuration: %w", err)
	}

	s.config = newConfig

	for _, watcher := range s.watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("FACEFRAME_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("FACEFRAME_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("FACEFRAME_LOG_OUTPUT"); val != "" {
		cfg.Logging.Output = val
	}

	if val := os.Getenv("FACEFRAME_ENGINE_MODE"); val != "" {
		cfg.Engine.Mode = val
	}
	if val := os.Getenv("FACEFRAME_ENGINE_URL"); val != "" {
		cfg.Engine.URL = val
	}
	if val := os.Getenv("FACEFRAME_ENGINE_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			cfg.Engine.Timeout = timeout
		}
	}

	if val := os.Getenv("FACEFRAME_CONFIDENCE_THRESHOLD"); val != "" {
		if threshold, err := parseFloat64(val); err == nil {
			cfg.Detector.ConfidenceThreshold = threshold
		}
	}
	if val := os.Getenv("FACEFRAME_PERFORMANCE_MODE"); val != "" {
		cfg.Detector.PerformanceMode = val
	}

	if val := os.Getenv("FACEFRAME_WEB_ENABLED"); val != "" {
		cfg.Web.Enabled = (val == "true" || val == "1")
	}
	if val := os.Getenv("FACEFRAME_WEB_PORT"); val != "" {
		if port, err := parseInt(val); err == nil {
			cfg.Web.Port = port
		}
	}

	if val := os.Getenv("FACEFRAME_RECORD_ENABLED"); val != "" {
		cfg.Record.Enabled = (val == "true" || val == "1")
	}
	if val := os.Getenv("FACEFRAME_RECORD_DB_PATH"); val != "" {
		cfg.Record.DBPath = val
	}
}

// Helper functions for parsing environment variables
func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(s, "%d", &result)
	return result, err
}

func parseFloat64(s string) (float64, error) {
	var result float64
	_, err := fmt.Sscanf(s, "%f", &result)
	return result, err
}
