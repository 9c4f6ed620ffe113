package pipeline

import (
	"sync"

	"github.com/ebalodis/faceframe/internal/frame"
	"github.com/ebalodis/faceframe/internal/source"
)

// State holds the per-sensor-selection pipeline state: the active sensor
// and the effective rotation derived from it. The rotation is computed
// once per selection, at Reset, and read on every cycle; it is never
// recomputed per frame.
type State struct {
	frontCompensation bool

	mu       sync.RWMutex
	sensor   source.Sensor
	rotation int
}

// NewState creates pipeline state with no sensor selected.
// frontCompensation controls the extra +90 degrees applied to
// front-facing sensors whose platform delivers uncompensated frames.
func NewState(frontCompensation bool) *State {
	return &State{frontCompensation: frontCompensation}
}

// Reset installs a new sensor selection and recomputes the cached
// effective rotation. Must complete before any frame from the new
// sensor is processed.
func (s *State) Reset(sensor source.Sensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensor = sensor
	s.rotation = frame.EffectiveRotation(sensor.Rotation, sensor.Facing, s.frontCompensation)
}

// Snapshot returns the active sensor and its effective rotation as one
// consistent pair
func (s *State) Snapshot() (source.Sensor, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sensor, s.rotation
}

// Sensor returns the active sensor
func (s *State) Sensor() source.Sensor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sensor
}

// Rotation returns the cached effective rotation
func (s *State) Rotation() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rotation
}
