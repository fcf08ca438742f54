package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/bridge"
)

func TestReconnectAfterDisconnected(t *testing.T) {
	p := New(time.Second, 8*time.Second, nil)
	now := time.Unix(1000, 0)

	assert.False(t, p.Check(bridge.StateConnected, now))

	p.Observe(bridge.Disconnected{Cause: "eof"}, now)
	assert.Equal(t, 1, p.Attempts())
	assert.False(t, p.Check(bridge.StateConnected, now))

	// Jitter keeps the delay within [0, max].
	assert.True(t, p.Check(bridge.StateConnected, now.Add(9*time.Second)))
	assert.False(t, p.Check(bridge.StateConnected, now.Add(10*time.Second)))
}

func TestFailedAttemptSchedulesRetry(t *testing.T) {
	p := New(time.Second, 8*time.Second, nil)
	now := time.Unix(1000, 0)

	assert.False(t, p.Check(bridge.StateConnecting, now))
	assert.False(t, p.Check(bridge.StateDisconnected, now))
	assert.Equal(t, 1, p.Attempts())
	assert.True(t, p.Check(bridge.StateDisconnected, now.Add(time.Minute)))

	// Next failure backs off further.
	assert.False(t, p.Check(bridge.StateDisconnected, now.Add(time.Minute)))
	assert.Equal(t, 2, p.Attempts())
}

func TestConnectedResetsBackoff(t *testing.T) {
	p := New(time.Second, 8*time.Second, nil)
	now := time.Unix(1000, 0)

	p.Observe(bridge.Disconnected{}, now)
	p.Observe(bridge.Connected{Endpoint: "tcp://a:1"}, now)
	assert.Equal(t, 0, p.Attempts())
	assert.False(t, p.Check(bridge.StateConnected, now.Add(time.Hour)))
}

func TestRepeatedDisconnectKeepsFirstSchedule(t *testing.T) {
	p := New(time.Second, 8*time.Second, nil)
	now := time.Unix(1000, 0)

	p.Observe(bridge.Disconnected{}, now)
	p.Observe(bridge.Disconnected{}, now.Add(time.Second))
	assert.Equal(t, 1, p.Attempts())
}
