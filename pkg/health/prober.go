package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/wharfd/wharf/pkg/log"
	"github.com/wharfd/wharf/pkg/types"
)

// Prober retries a checker at a fixed interval until it reports Healthy or
// an overall deadline elapses.
type Prober struct {
	Interval time.Duration
	Deadline time.Duration
	logger   zerolog.Logger
}

// NewProber creates a prober with the descriptor's interval and deadline,
// falling back to defaults for zero values.
func NewProber(hc *types.HealthCheck) *Prober {
	interval := DefaultInterval
	deadline := DefaultDeadline
	if hc != nil {
		if hc.Interval > 0 {
			interval = hc.Interval
		}
		if hc.Deadline > 0 {
			deadline = hc.Deadline
		}
	}
	return &Prober{
		Interval: interval,
		Deadline: deadline,
		logger:   log.WithComponent("health"),
	}
}

// Probe runs the checker until it reports Healthy, the deadline elapses, or
// ctx is cancelled. The final verdict on deadline is Unhealthy regardless of
// how many attempts were Unreachable versus Unhealthy; both mean the service
// is not yet serving. The attempt mix is logged for diagnosis.
func (p *Prober) Probe(ctx context.Context, checker Checker) Result {
	ctx, cancel := context.WithTimeout(ctx, p.Deadline)
	defer cancel()

	var last Result
	attempts, unreachable := 0, 0
	for {
		last = checker.Check(ctx)
		attempts++
		if last.Verdict == Unreachable {
			unreachable++
		}
		if last.Healthy() {
			p.logger.Debug().
				Int("attempts", attempts).
				Str("message", last.Message).
				Msg("probe succeeded")
			return last
		}
		p.logger.Debug().
			Int("attempt", attempts).
			Str("verdict", string(last.Verdict)).
			Str("message", last.Message).
			Msg("probe attempt failed")

		select {
		case <-ctx.Done():
			p.logger.Warn().
				Int("attempts", attempts).
				Int("unreachable", unreachable).
				Int("unhealthy", attempts-unreachable).
				Str("last", last.Message).
				Msg("probe deadline reached")
			last.Verdict = Unhealthy
			return last
		case <-time.After(p.Interval):
		}
	}
}
