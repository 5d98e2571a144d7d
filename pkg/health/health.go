package health

import (
	"context"
	"time"

	"github.com/wharfd/wharf/pkg/types"
)

// Verdict is the outcome of a single probe attempt.
type Verdict string

const (
	// Healthy: the service answered as expected.
	Healthy Verdict = "healthy"

	// Unhealthy: the service exists but is not serving correctly
	// (unexpected HTTP status, connect timeout, dead socket).
	Unhealthy Verdict = "unhealthy"

	// Unreachable: nothing is listening at all (connection refused/reset).
	Unreachable Verdict = "unreachable"
)

// Result represents the outcome of a single health check attempt.
type Result struct {
	Verdict   Verdict
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Healthy is a convenience accessor for Verdict == Healthy.
func (r Result) Healthy() bool {
	return r.Verdict == Healthy
}

// Checker is the interface implemented by all probe protocols.
type Checker interface {
	// Check performs one probe attempt and returns the result.
	Check(ctx context.Context) Result

	// Kind returns the probe protocol.
	Kind() types.CheckKind
}

// Defaults applied when the health check descriptor leaves them zero.
const (
	DefaultTimeout  = 2 * time.Second
	DefaultInterval = 500 * time.Millisecond
	DefaultDeadline = 30 * time.Second
)

// ForDescriptor builds the checker matching a spec's health check
// descriptor.
func ForDescriptor(hc *types.HealthCheck) Checker {
	host := hc.Host
	if host == "" {
		host = "localhost"
	}
	timeout := hc.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	switch hc.Kind {
	case types.CheckKindHTTP:
		c := NewHTTPChecker(host, hc.Port, hc.Path).WithTimeout(timeout)
		if hc.ExpectedStatus != 0 {
			c = c.WithExpectedStatus(hc.ExpectedStatus)
		}
		return c
	default:
		return NewTCPChecker(host, hc.Port).WithTimeout(timeout)
	}
}
