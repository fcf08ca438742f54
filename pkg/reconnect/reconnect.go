// Package reconnect decides when a dropped bridge connection should be
// re-established. It sits above the bridge and only observes polled events.
package reconnect

import (
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/bridge"
)

// Policy schedules reconnect attempts with a jittered exponential backoff.
// It is not safe for concurrent use; feed it from the polling goroutine.
type Policy struct {
	b      *backoff.Backoff
	logger *zap.Logger

	due     time.Time
	waiting bool
}

// New creates a Policy waiting between min and max before each attempt.
func New(min, max time.Duration, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		b:      &backoff.Backoff{Min: min, Max: max, Factor: 2, Jitter: true},
		logger: logger,
	}
}

// Observe updates the policy with one polled event.
func (p *Policy) Observe(e bridge.Event, now time.Time) {
	switch e := e.(type) {
	case bridge.Connected:
		p.b.Reset()
		p.waiting = false
	case bridge.Disconnected:
		p.schedule(now, e.Cause)
	}
}

// Check reports whether a reconnect attempt should be made now. state is the
// bridge state; an attempt that ended without connecting schedules a retry.
func (p *Policy) Check(state bridge.State, now time.Time) bool {
	if state == bridge.StateConnecting {
		return false
	}
	if !p.waiting {
		if state == bridge.StateDisconnected {
			p.schedule(now, "connection attempt failed")
		}
		return false
	}
	if now.Before(p.due) {
		return false
	}
	p.waiting = false
	return true
}

// Attempts returns the number of attempts scheduled since the last
// successful connection.
func (p *Policy) Attempts() int {
	return int(p.b.Attempt())
}

func (p *Policy) schedule(now time.Time, cause string) {
	if p.waiting {
		return
	}
	d := p.b.Duration()
	p.due = now.Add(d)
	p.waiting = true
	p.logger.Info("Scheduling reconnect", zap.String("cause", cause), zap.Duration("in", d), zap.Int("attempt", p.Attempts()))
}
