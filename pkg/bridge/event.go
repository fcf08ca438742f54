package bridge

import (
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/broker"
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/queue"
)

// Kind identifies an Event variant.
type Kind int

// Event kinds, in the order PollEvents returns them.
const (
	KindConnected Kind = iota
	KindDisconnected
	KindSubscribed
	KindUnsubscribed
	KindDelivered
	KindMessageReceived
)

func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindSubscribed:
		return "subscribed"
	case KindUnsubscribed:
		return "unsubscribed"
	case KindDelivered:
		return "delivered"
	case KindMessageReceived:
		return "message"
	default:
		return "unknown"
	}
}

// Event is a bridge notification consumed by the owning goroutine.
type Event interface {
	Kind() Kind
}

// Connected is emitted once the worker established the connection.
type Connected struct {
	Endpoint string
}

// Disconnected is emitted when the library reports a lost connection. It is
// not emitted for a requested Disconnect.
type Disconnected struct {
	Cause string
}

// Subscribed confirms a Subscribe request.
type Subscribed struct {
	Topic string
	QoS   broker.QoS
}

// Unsubscribed confirms an Unsubscribe request.
type Unsubscribed struct {
	Topic string
}

// Delivered reports that the broker acknowledged a published message.
type Delivered struct {
	Message broker.Message
}

// MessageReceived carries a message arriving on a subscribed topic.
type MessageReceived struct {
	Message broker.Message
}

func (Connected) Kind() Kind       { return KindConnected }
func (Disconnected) Kind() Kind    { return KindDisconnected }
func (Subscribed) Kind() Kind      { return KindSubscribed }
func (Unsubscribed) Kind() Kind    { return KindUnsubscribed }
func (Delivered) Kind() Kind       { return KindDelivered }
func (MessageReceived) Kind() Kind { return KindMessageReceived }

// eventQueues keeps one FIFO per event kind.
type eventQueues struct {
	connected    *queue.Queue[Connected]
	disconnected *queue.Queue[Disconnected]
	subscribed   *queue.Queue[Subscribed]
	unsubscribed *queue.Queue[Unsubscribed]
	delivered    *queue.Queue[Delivered]
	received     *queue.Queue[MessageReceived]
}

func newEventQueues() *eventQueues {
	return &eventQueues{
		connected:    queue.New[Connected](),
		disconnected: queue.New[Disconnected](),
		subscribed:   queue.New[Subscribed](),
		unsubscribed: queue.New[Unsubscribed](),
		delivered:    queue.New[Delivered](),
		received:     queue.New[MessageReceived](),
	}
}

func (q *eventQueues) push(e Event) {
	switch e := e.(type) {
	case Connected:
		q.connected.Push(e)
	case Disconnected:
		q.disconnected.Push(e)
	case Subscribed:
		q.subscribed.Push(e)
	case Unsubscribed:
		q.unsubscribed.Push(e)
	case Delivered:
		q.delivered.Push(e)
	case MessageReceived:
		q.received.Push(e)
	}
}

func (q *eventQueues) drain() []Event {
	var out []Event
	out = appendEvents(out, q.connected.Drain())
	out = appendEvents(out, q.disconnected.Drain())
	out = appendEvents(out, q.subscribed.Drain())
	out = appendEvents(out, q.unsubscribed.Drain())
	out = appendEvents(out, q.delivered.Drain())
	out = appendEvents(out, q.received.Drain())
	return out
}

func appendEvents[E Event](out []Event, events []E) []Event {
	for _, e := range events {
		out = append(out, e)
	}
	return out
}
