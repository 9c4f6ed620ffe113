package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ebalodis/faceframe/internal/config"
	"github.com/ebalodis/faceframe/internal/detect"
	"github.com/ebalodis/faceframe/internal/logger"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cfgFile is the --config flag shared by all subcommands
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "faceframe",
	Short:   "Real-time face detection pipeline with overlay rendering",
	Version: version,
}

// Execute runs the root command with signal-driven cancellation
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to configuration file")
}

// loadConfig loads the configuration file, failing when none is found
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// loadConfigOrDefault loads the configuration file when one is given or
// discoverable, and falls back to built-in defaults otherwise. Commands
// that do not need sensor definitions use this so they run standalone.
func loadConfigOrDefault() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		if cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		return config.Default()
	}
	return cfg
}

// newLogger builds the process logger from the logging configuration
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// buildEngine constructs the inference engine for the given mode
func buildEngine(cfg *config.Config, mode string, log *logger.Logger) (detect.Engine, error) {
	switch mode {
	case "fake":
		return detect.NewFakeEngine(), nil
	case "http":
		return detect.NewHTTPEngine(detect.HTTPEngineConfig{
			ServiceURL:          cfg.Engine.URL,
			Timeout:             cfg.Engine.Timeout,
			Options:             detectorOptions(cfg.Detector),
			ConfidenceThreshold: cfg.Detector.ConfidenceThreshold,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown engine mode: %s", mode)
	}
}

// detectorOptions maps the detector configuration to the option set sent
// with every inference request
func detectorOptions(d config.DetectorConfig) detect.Options {
	return detect.Options{
		Classification:  d.Classification,
		Landmarks:       d.Landmarks,
		Tracking:        d.Tracking,
		PerformanceMode: detect.PerformanceMode(d.PerformanceMode),
	}
}
