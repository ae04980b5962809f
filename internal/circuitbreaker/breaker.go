// Package circuitbreaker guards outbound calls with per-name state machines.
package circuitbreaker

import (
	"fmt"
	"time"
)

// State is the protective state of a single named circuit.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Options configure a circuit. They are fixed the first time a circuit
// name is used; later calls with different options are ignored until the
// circuit is reset.
type Options struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	MonitoringWindow time.Duration
}

// DefaultOptions are applied for any field left at its zero value.
var DefaultOptions = Options{
	FailureThreshold: 5,
	SuccessThreshold: 3,
	Timeout:          30 * time.Second,
	MonitoringWindow: 60 * time.Second,
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultOptions.FailureThreshold
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = DefaultOptions.SuccessThreshold
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultOptions.Timeout
	}
	if o.MonitoringWindow <= 0 {
		o.MonitoringWindow = DefaultOptions.MonitoringWindow
	}
	return o
}

// Metrics are the per-circuit counters.
type Metrics struct {
	Failures        int       `json:"failures"`
	Successes       int       `json:"successes"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastStateChange time.Time `json:"last_state_change"`
	TotalRequests   int64     `json:"total_requests"`
	FailedRequests  int64     `json:"failed_requests"`
}

// Status is a read-only snapshot of a circuit.
type Status struct {
	Name    string  `json:"name"`
	State   State   `json:"state"`
	Metrics Metrics `json:"metrics"`
	Options Options `json:"options"`
}

// OpenError rejects a call without invoking the wrapped operation.
// RetryAfter is the remaining time until a probe will be allowed.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q is open, retry after %s", e.Name, e.RetryAfter)
}
