package bridge

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/broker"
)

// ErrDuplicateToken is raised when the library hands out a token that is
// still pending.
var ErrDuplicateToken = errors.New("delivery token already pending")

// pendingTable maps in-flight delivery tokens to the published message.
// The worker inserts, the delivery callback removes. Other goroutines only
// read the entry count through size, which never takes mu.
type pendingTable struct {
	mu      sync.Mutex
	entries map[broker.DeliveryToken]broker.Message
	n       atomic.Int64
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[broker.DeliveryToken]broker.Message)}
}

// track calls publish and records the returned token for acknowledged QoS
// levels. The lock is held across publish so a completion reported before
// publish returns still finds its entry.
func (p *pendingTable) track(msg broker.Message, publish func(broker.Message) (broker.DeliveryToken, error)) (broker.DeliveryToken, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	token, err := publish(msg)
	if err != nil || !msg.QoS.Acknowledged() {
		return token, err
	}
	if _, ok := p.entries[token]; ok {
		return token, fmt.Errorf("token %d: %w", token, ErrDuplicateToken)
	}
	p.entries[token] = msg
	p.n.Add(1)
	return token, nil
}

// complete removes token and returns its message.
func (p *pendingTable) complete(token broker.DeliveryToken) (broker.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg, ok := p.entries[token]
	if ok {
		delete(p.entries, token)
		p.n.Add(-1)
	}
	return msg, ok
}

// size returns the number of pending entries.
func (p *pendingTable) size() int {
	return int(p.n.Load())
}
