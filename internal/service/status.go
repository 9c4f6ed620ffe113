package service

import (
	"sync"
	"time"
)

// Status represents the lifecycle state of a service
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// ServiceStatus tracks the runtime state of a single service
type ServiceStatus struct {
	Name      string
	StartedAt time.Time

	mu     sync.RWMutex
	status Status
	err    error
}

// NewServiceStatus creates a status tracker in the stopped state
func NewServiceStatus(name string) *ServiceStatus {
	return &ServiceStatus{
		Name:   name,
		status: StatusStopped,
	}
}

// SetStatus updates the lifecycle state. Entering the running state
// records the start time and clears any previous error.
func (s *ServiceStatus) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if status == StatusRunning {
		s.StartedAt = time.Now()
		s.err = nil
	}
}

// GetStatus returns the current lifecycle state
func (s *ServiceStatus) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetError records an error and moves the service to the error state
func (s *ServiceStatus) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	s.status = StatusError
}

// GetError returns the last recorded error, if any
func (s *ServiceStatus) GetError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// IsRunning reports whether the service is in the running state
func (s *ServiceStatus) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == StatusRunning
}

// GetUptime returns how long the service has been running, or zero when
// it is not running
func (s *ServiceStatus) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusRunning || s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}
