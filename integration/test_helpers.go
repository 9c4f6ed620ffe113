package integration

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ebalodis/faceframe/internal/config"
	"github.com/ebalodis/faceframe/internal/logger"
)

// TestEnvironment provides a test environment for integration tests
type TestEnvironment struct {
	TempDir string
	Config  *config.Config
	Logger  *logger.Logger
}

// SetupTestEnvironment creates a configuration with two fast synthetic
// sensors and a recorder database under a temporary directory
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.Default()
	cfg.Engine.Mode = "fake"
	cfg.Web.Enabled = false
	cfg.Pipeline.StatsInterval = 0
	cfg.Overlay.Width = 360
	cfg.Overlay.Height = 640
	cfg.Record.Enabled = true
	cfg.Record.DBPath = filepath.Join(tmpDir, "db", "detections.db")
	cfg.Record.RetainDays = 1
	cfg.Sensors = []config.SensorConfig{
		{
			ID:     "back",
			Label:  "Back Camera",
			Facing: "back",
			URL:    "synthetic:?width=320&height=240&fps=30",
		},
		{
			ID:     "front",
			Label:  "Front Camera",
			Facing: "front",
			URL:    "synthetic:?width=320&height=240&fps=30",
		},
	}

	return &TestEnvironment{
		TempDir: tmpDir,
		Config:  cfg,
		Logger:  logger.NewNopLogger(),
	}
}

// WaitForCondition waits for a condition to become true
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}
