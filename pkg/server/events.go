package server

import (
	"sync"
	"time"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/bridge"
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/queue"
)

// EventView is the JSON form of a polled event.
type EventView struct {
	Seq      uint64    `json:"seq"`
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind"`
	Endpoint string    `json:"endpoint,omitempty"`
	Cause    string    `json:"cause,omitempty"`
	Topic    string    `json:"topic,omitempty"`
	QoS      *int      `json:"qos,omitempty"`
	Retained bool      `json:"retained,omitempty"`
	Payload  []byte    `json:"payload,omitempty"`
}

func newEventView(seq uint64, e bridge.Event, now time.Time) EventView {
	v := EventView{Seq: seq, Time: now, Kind: e.Kind().String()}
	qos := func(q int) *int { return &q }
	switch e := e.(type) {
	case bridge.Connected:
		v.Endpoint = e.Endpoint
	case bridge.Disconnected:
		v.Cause = e.Cause
	case bridge.Subscribed:
		v.Topic = e.Topic
		v.QoS = qos(int(e.QoS))
	case bridge.Unsubscribed:
		v.Topic = e.Topic
	case bridge.Delivered:
		v.Topic = e.Message.Topic
		v.QoS = qos(int(e.Message.QoS))
		v.Retained = e.Message.Retained
		v.Payload = e.Message.Payload
	case bridge.MessageReceived:
		v.Topic = e.Message.Topic
		v.QoS = qos(int(e.Message.QoS))
		v.Retained = e.Message.Retained
		v.Payload = e.Message.Payload
	}
	return v
}

// eventLog keeps the most recent max events for the events endpoint.
type eventLog struct {
	mu    sync.Mutex
	max   int
	seq   uint64
	items *queue.Queue[EventView]
}

func newEventLog(max int) *eventLog {
	return &eventLog{max: max, items: queue.New[EventView]()}
}

func (l *eventLog) add(e bridge.Event, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.items.Push(newEventView(l.seq, e, now))
	for l.items.Len() > l.max {
		l.items.Pop()
	}
}

// since returns the kept events with a sequence number above seq.
func (l *eventLog) since(seq uint64) []EventView {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := l.items.Drain()
	out := make([]EventView, 0, len(all))
	for _, v := range all {
		l.items.Push(v)
		if v.Seq > seq {
			out = append(out, v)
		}
	}
	return out
}

func (l *eventLog) last() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}
