package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/broker"
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/traffic"
)

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	State     string       `json:"state"`
	Broker    string       `json:"broker"`
	Pending   int          `json:"pending"`
	LastEvent uint64       `json:"last_event"`
	Traffic   traffic.Stat `json:"traffic"`
}

// SubscribeRequest is the body of POST /subscriptions.
type SubscribeRequest struct {
	Topic string `json:"topic"`
	QoS   int    `json:"qos"`
}

// PublishRequest is the body of POST /messages.
type PublishRequest struct {
	Topic    string `json:"topic"`
	Payload  []byte `json:"payload"`
	QoS      int    `json:"qos"`
	Retained bool   `json:"retained"`
}

type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Status: http.StatusBadRequest, Message: message})
}

func accepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Status reports the bridge state.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		State:     s.b.State().String(),
		Broker:    s.cfg.BrokerURI,
		Pending:   s.b.Pending(),
		LastEvent: s.recent.last(),
		Traffic:   s.traffic.Current(),
	})
}

// Connect starts a connection with the configured broker.
func (s *Server) Connect(w http.ResponseWriter, r *http.Request) {
	if s.cfg.BrokerURI == "" {
		writeBadRequest(w, "no broker configured")
		return
	}
	s.connect()
	accepted(w)
}

// Disconnect closes the connection. It returns once the connection is released.
func (s *Server) Disconnect(w http.ResponseWriter, r *http.Request) {
	s.disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// Subscribe queues a subscription.
func (s *Server) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request: "+err.Error())
		return
	}
	if req.Topic == "" {
		writeBadRequest(w, broker.ErrEmptyTopic.Error())
		return
	}
	qos, err := broker.ParseQoS(req.QoS)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.b.Subscribe(req.Topic, qos)
	accepted(w)
}

// Unsubscribe queues an unsubscription of the topic query parameter.
func (s *Server) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeBadRequest(w, broker.ErrEmptyTopic.Error())
		return
	}
	s.b.Unsubscribe(topic)
	accepted(w)
}

// Publish queues a message.
func (s *Server) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request: "+err.Error())
		return
	}
	qos, err := broker.ParseQoS(req.QoS)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	msg := broker.Message{Topic: req.Topic, Payload: req.Payload, QoS: qos, Retained: req.Retained}
	if err := msg.Validate(); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.logger.Debug("Publish requested",
		zap.String("topic", msg.Topic),
		zap.Stringer("qos", msg.QoS),
		zap.String("size", humanize.Bytes(uint64(len(msg.Payload)))))
	s.b.Publish(msg)
	accepted(w)
}

// Events lists recent events, optionally only those after the since query
// parameter.
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "invalid since: "+err.Error())
			return
		}
		since = n
	}
	writeJSON(w, http.StatusOK, s.recent.since(since))
}
