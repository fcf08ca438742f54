package bridge

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/broker"
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/queue"
)

type subscribeRequest struct {
	topic string
	qos   broker.QoS
}

// worker owns one connection attempt. Only its goroutine touches the
// broker.Client; everything else talks to it through queues.
type worker struct {
	cfg       ConnectionConfig
	newClient broker.Factory
	logger    *zap.Logger
	idle      time.Duration

	state   *stateManager
	pending *pendingTable
	events  *eventQueues

	subscribes   *queue.Queue[subscribeRequest]
	unsubscribes *queue.Queue[string]
	publishes    *queue.Queue[broker.Message]

	stopped atomic.Bool
	wake    chan struct{}
	done    chan struct{}

	gate   sync.RWMutex
	sealed bool
}

func newWorker(cfg ConnectionConfig, newClient broker.Factory, events *eventQueues, logger *zap.Logger, idle time.Duration) *worker {
	return &worker{
		cfg:          cfg,
		newClient:    newClient,
		logger:       logger,
		idle:         idle,
		state:        newStateManager(),
		pending:      newPendingTable(),
		events:       events,
		subscribes:   queue.New[subscribeRequest](),
		unsubscribes: queue.New[string](),
		publishes:    queue.New[broker.Message](),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// start enters StateConnecting and launches the worker goroutine.
func (w *worker) start() {
	w.state.transition(StateDisconnected, StateConnecting)
	go w.run()
}

func (w *worker) run() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Worker panic recovered", zap.Any("panic", r))
			w.state.set(StateDisconnected)
		}
	}()

	client, ok := w.connect()
	if !ok {
		return
	}
	defer w.release(client)

	w.loop(client)
}

// connect creates the client and performs the blocking connect call. A
// failed attempt leaves the worker in StateDisconnected without any event.
func (w *worker) connect() (_ broker.Client, ok bool) {
	clientID := w.cfg.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	logger := w.logger.With(zap.String("broker", w.cfg.BrokerURI), zap.String("client_id", clientID))

	client, err := w.newClient(w.cfg.BrokerURI, clientID)
	if err != nil {
		logger.Error("Failed to create broker client", zap.Error(err))
		w.state.transition(StateConnecting, StateDisconnected)
		return nil, false
	}
	// Runs on failed attempts and on panics inside the library calls.
	defer func() {
		if !ok {
			client.Destroy()
		}
	}()

	client.SetCallbacks(broker.Callbacks{
		ConnectionLost:   w.onConnectionLost,
		MessageArrived:   w.onMessageArrived,
		DeliveryComplete: w.onDeliveryComplete,
	})

	err = client.Connect(w.cfg.connectOptions())
	if err == nil && !client.IsConnected() {
		err = broker.ErrNotConnected
	}
	if err != nil {
		logger.Error("Failed to connect to broker", zap.Error(err))
		w.state.transition(StateConnecting, StateDisconnected)
		return nil, false
	}

	w.state.transition(StateConnecting, StateConnected)
	logger.Info("Connected to broker")
	w.emit(Connected{Endpoint: w.cfg.BrokerURI})
	return client, true
}

func (w *worker) loop(client broker.Client) {
	for !w.stopped.Load() {
		w.drainSubscribes(client)
		w.drainUnsubscribes(client)
		w.drainPublishes(client)
		w.wait()
	}
}

// wait blocks until a request is enqueued, stop is requested, or the idle
// interval elapses.
func (w *worker) wait() {
	t := time.NewTimer(w.idle)
	defer t.Stop()
	select {
	case <-w.wake:
	case <-t.C:
	}
}

func (w *worker) drainSubscribes(client broker.Client) {
	for {
		req, ok := w.subscribes.Pop()
		if !ok {
			return
		}
		if err := client.Subscribe(req.topic, req.qos); err != nil {
			w.logger.Error("Failed to subscribe", zap.String("topic", req.topic), zap.Stringer("qos", req.qos), zap.Error(err))
			continue
		}
		w.logger.Info("Subscribed", zap.String("topic", req.topic), zap.Stringer("qos", req.qos))
		w.emit(Subscribed{Topic: req.topic, QoS: req.qos})
	}
}

func (w *worker) drainUnsubscribes(client broker.Client) {
	for {
		topic, ok := w.unsubscribes.Pop()
		if !ok {
			return
		}
		if err := client.Unsubscribe(topic); err != nil {
			w.logger.Error("Failed to unsubscribe", zap.String("topic", topic), zap.Error(err))
			continue
		}
		w.logger.Info("Unsubscribed", zap.String("topic", topic))
		w.emit(Unsubscribed{Topic: topic})
	}
}

func (w *worker) drainPublishes(client broker.Client) {
	for {
		msg, ok := w.publishes.Pop()
		if !ok {
			return
		}
		token, err := w.pending.track(msg, client.Publish)
		if err != nil {
			w.logger.Error("Failed to publish", zap.String("topic", msg.Topic), zap.Stringer("qos", msg.QoS), zap.Error(err))
			continue
		}
		w.logger.Debug("Published", zap.String("topic", msg.Topic), zap.Stringer("qos", msg.QoS), zap.Int("token", int(token)))
	}
}

// release disconnects and destroys client. The handle is unusable afterwards
// whether or not the disconnect succeeded.
func (w *worker) release(client broker.Client) {
	w.state.transition(StateConnected, StateDisconnecting)
	err := client.Disconnect(w.cfg.DisconnectTimeout)
	switch {
	case errors.Is(err, broker.ErrNotConnected):
		w.logger.Debug("Connection already closed", zap.String("broker", w.cfg.BrokerURI))
	case err != nil:
		w.logger.Error("Failed to disconnect from broker", zap.String("broker", w.cfg.BrokerURI), zap.Error(err))
	default:
		w.logger.Info("Disconnected from broker", zap.String("broker", w.cfg.BrokerURI))
	}
	client.Destroy()
	w.state.transition(StateDisconnecting, StateDisconnected)
}

// stop asks the loop to exit after its current iteration.
func (w *worker) stop() {
	w.stopped.Store(true)
	w.notify()
}

func (w *worker) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// running reports whether the worker goroutine has not exited yet.
func (w *worker) running() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// seal drops every event emitted after it returns.
func (w *worker) seal() {
	w.gate.Lock()
	w.sealed = true
	w.gate.Unlock()
}

func (w *worker) emit(e Event) {
	w.gate.RLock()
	defer w.gate.RUnlock()
	if w.sealed {
		return
	}
	w.events.push(e)
}
