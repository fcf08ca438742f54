package bridge

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/broker"
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/broker/mqtt"
)

const defaultIdleInterval = 10 * time.Millisecond

// Bridge lets a single polling goroutine drive a callback based broker
// client. Requests are queued to a worker goroutine that owns the client;
// outcomes come back as Events through PollEvents.
//
// None of the methods block on network I/O except Disconnect, which waits for
// the worker to release the connection.
type Bridge struct {
	newClient    broker.Factory
	logger       *zap.Logger
	idleInterval time.Duration

	events *eventQueues

	mu sync.Mutex
	w  *worker
}

// New creates a Bridge. Without WithClientFactory connections are made with
// the paho client.
func New(opts ...Option) (*Bridge, error) {
	b := &Bridge{
		idleInterval: defaultIdleInterval,
		events:       newEventQueues(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		b.logger = l
	}
	if b.newClient == nil {
		b.newClient = mqtt.Factory(mqtt.WithLogger(b.logger.Named("mqtt")))
	}
	return b, nil
}

// Connect starts a worker connecting with cfg. It does nothing but log when a
// worker is already running.
func (b *Bridge) Connect(cfg ConnectionConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.w != nil {
		if b.w.running() {
			b.logger.Warn("Already connected", zap.String("broker", b.w.cfg.BrokerURI))
			return
		}
		b.releaseWorker()
	}
	if err := cfg.Validate(); err != nil {
		b.logger.Error("Invalid connection config", zap.Error(err))
		return
	}

	b.w = newWorker(cfg.withDefaults(), b.newClient, b.events, b.logger, b.idleInterval)
	b.w.start()
}

// Disconnect stops the worker and waits until it released the connection.
// No event is queued by that connection after Disconnect returns.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.w == nil {
		b.logger.Warn("Disconnect called while not connected")
		return
	}
	if !b.w.running() {
		b.logger.Warn("Disconnect called after the connection attempt ended")
	}
	b.releaseWorker()
}

func (b *Bridge) releaseWorker() {
	b.w.stop()
	<-b.w.done
	b.w.seal()
	b.w = nil
}

// Subscribe queues a subscription. The outcome is a Subscribed event, or a
// log entry on failure.
func (b *Bridge) Subscribe(topic string, qos broker.QoS) {
	if topic == "" || !qos.Valid() {
		b.logger.Warn("Dropping invalid subscribe request", zap.String("topic", topic), zap.Stringer("qos", qos))
		return
	}
	if w := b.active("subscribe", topic); w != nil {
		w.subscribes.Push(subscribeRequest{topic: topic, qos: qos})
		w.notify()
	}
}

// Unsubscribe queues an unsubscription. The outcome is an Unsubscribed
// event, or a log entry on failure.
func (b *Bridge) Unsubscribe(topic string) {
	if topic == "" {
		b.logger.Warn("Dropping unsubscribe request with empty topic")
		return
	}
	if w := b.active("unsubscribe", topic); w != nil {
		w.unsubscribes.Push(topic)
		w.notify()
	}
}

// Publish queues msg. A Delivered event follows once the broker acknowledged
// an AtLeastOnce or ExactlyOnce message; AtMostOnce messages produce none.
func (b *Bridge) Publish(msg broker.Message) {
	if err := msg.Validate(); err != nil {
		b.logger.Warn("Dropping invalid publish request", zap.String("topic", msg.Topic), zap.Error(err))
		return
	}
	if w := b.active("publish", msg.Topic); w != nil {
		w.publishes.Push(msg.Clone())
		w.notify()
	}
}

// PollEvents drains every queued event. Events of one kind keep their
// order; kinds are returned in the order of the Kind constants.
func (b *Bridge) PollEvents() []Event {
	return b.events.drain()
}

// State returns the lifecycle state of the current connection.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.w == nil {
		return StateDisconnected
	}
	return b.w.state.get()
}

// Pending returns the number of published messages waiting for delivery
// acknowledgement. It reads a counter kept by the table and never locks or
// reads the table entries.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.w == nil {
		return 0
	}
	return b.w.pending.size()
}

func (b *Bridge) active(op, topic string) *worker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.w == nil || !b.w.running() {
		b.logger.Warn("Dropping request while not connected", zap.String("op", op), zap.String("topic", topic))
		return nil
	}
	return b.w
}
