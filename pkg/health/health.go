package health

import (
	"context"
	"time"
)

// Kind names how a checker probes its dependency
type Kind string

const (
	KindHTTP Kind = "http"
	KindFunc Kind = "func"
)

// Result is the outcome of one probe
type Result struct {
	Healthy bool

	// Message describes the failure, or the status line on success
	Message string

	CheckedAt time.Time

	// Duration is how long the probe took
	Duration time.Duration
}

// Checker probes a single dependency
type Checker interface {
	Check(ctx context.Context) Result
	Kind() Kind
}

// Config controls how often a dependency is probed and how many
// consecutive failures mark it unhealthy
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout is the maximum time to wait for a single probe
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns the probe settings used by serve
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	}
}

// Status tracks the health of one dependency across probes
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed probes
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful probes
	ConsecutiveSuccesses int

	// LastCheck is the timestamp of the last probe
	LastCheck time.Time

	// LastResult is the result of the last probe
	LastResult Result

	// Healthy indicates if the dependency is currently considered healthy
	Healthy bool
}

// NewStatus returns a status that is healthy until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds a probe result into the status. A single success restores
// health; Retries consecutive failures are needed to lose it.
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}
