package server

import (
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/bridge"
)

// Handlers observe polled events. Nil handlers are skipped.
type Handlers struct {
	OnConnect     func(bridge.Connected)
	OnDisconnect  func(bridge.Disconnected)
	OnSubscribe   func(bridge.Subscribed)
	OnUnsubscribe func(bridge.Unsubscribed)
	OnDelivery    func(bridge.Delivered)
	OnMessage     func(bridge.MessageReceived)
}

// dispatch hands each event to its handler in order. A panicking handler is
// logged and does not stop the remaining events.
func (h Handlers) dispatch(events []bridge.Event, logger *zap.Logger) {
	for _, e := range events {
		h.handle(e, logger)
	}
}

func (h Handlers) handle(e bridge.Event, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Event handler panicked", zap.Stringer("kind", e.Kind()), zap.Any("panic", r))
		}
	}()

	switch e := e.(type) {
	case bridge.Connected:
		if h.OnConnect != nil {
			h.OnConnect(e)
		}
	case bridge.Disconnected:
		if h.OnDisconnect != nil {
			h.OnDisconnect(e)
		}
	case bridge.Subscribed:
		if h.OnSubscribe != nil {
			h.OnSubscribe(e)
		}
	case bridge.Unsubscribed:
		if h.OnUnsubscribe != nil {
			h.OnUnsubscribe(e)
		}
	case bridge.Delivered:
		if h.OnDelivery != nil {
			h.OnDelivery(e)
		}
	case bridge.MessageReceived:
		if h.OnMessage != nil {
			h.OnMessage(e)
		}
	default:
		logger.Debug("Unhandled event", zap.Stringer("kind", e.Kind()))
	}
}
