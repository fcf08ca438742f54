package bridge

import (
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/broker"
)

// The handlers below run on goroutines owned by the protocol library. They
// only touch the event queues and the pending table, and never call back
// into the client.

func (w *worker) onConnectionLost(cause string) {
	w.logger.Warn("Connection lost with broker", zap.String("broker", w.cfg.BrokerURI), zap.String("cause", cause))
	w.emit(Disconnected{Cause: cause})
}

func (w *worker) onMessageArrived(in broker.Inbound) {
	msg := in.Message()
	w.emit(MessageReceived{Message: msg})
	if in.Ack != nil {
		in.Ack()
	}
}

func (w *worker) onDeliveryComplete(token broker.DeliveryToken) {
	msg, ok := w.pending.complete(token)
	if !ok {
		w.logger.Debug("Delivery completed for unknown token", zap.Int("token", int(token)))
		return
	}
	w.emit(Delivered{Message: msg})
}
