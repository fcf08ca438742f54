package broker

import (
	"bytes"
	"errors"
	"fmt"
)

// QoS is the delivery guarantee of a message.
type QoS byte

const (
	AtMostOnce QoS = iota
	AtLeastOnce
	ExactlyOnce
)

var (
	// ErrInvalidQoS is raised for QoS values outside 0..2.
	ErrInvalidQoS = errors.New("invalid QoS level (must be 0, 1, or 2)")
	// ErrEmptyTopic is raised when a topic is empty.
	ErrEmptyTopic = errors.New("topic cannot be empty")
	// ErrNotConnected is raised when operating on a client with no live connection.
	ErrNotConnected = errors.New("no connection to broker server")
	// ErrClientDestroyed is raised when operating on a destroyed client.
	ErrClientDestroyed = errors.New("client destroyed")
)

// ParseQoS converts a numeric level to QoS.
func ParseQoS(v int) (QoS, error) {
	q := QoS(v)
	if v < 0 || !q.Valid() {
		return 0, fmt.Errorf("%d: %w", v, ErrInvalidQoS)
	}
	return q, nil
}

// Valid reports whether q is a known level.
func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

// Acknowledged reports whether the protocol confirms delivery at this level.
func (q QoS) Acknowledged() bool {
	return q == AtLeastOnce || q == ExactlyOnce
}

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	default:
		return fmt.Sprintf("qos(%d)", byte(q))
	}
}

// Message is a publish payload. It is a value type and is copied across
// goroutines; Payload must not be mutated after the message is handed over.
type Message struct {
	Topic    string `json:"topic"`
	Payload  []byte `json:"payload"`
	QoS      QoS    `json:"qos"`
	Retained bool   `json:"retained"`
}

// Validate checks the topic and QoS.
func (m Message) Validate() error {
	if m.Topic == "" {
		return ErrEmptyTopic
	}
	if !m.QoS.Valid() {
		return ErrInvalidQoS
	}
	return nil
}

// Equal reports whether m and o carry the same topic, payload and flags.
func (m Message) Equal(o Message) bool {
	return m.Topic == o.Topic && m.QoS == o.QoS && m.Retained == o.Retained && bytes.Equal(m.Payload, o.Payload)
}

// Clone returns a copy of m with its own payload buffer.
func (m Message) Clone() Message {
	if m.Payload != nil {
		m.Payload = append([]byte(nil), m.Payload...)
	}
	return m
}

// TopicName returns the topic of in using its explicit length, falling back
// to the first zero byte when the library reported no length.
func (in Inbound) TopicName() string {
	n := in.TopicLen
	if n <= 0 {
		n = bytes.IndexByte(in.Topic, 0)
		if n < 0 {
			n = len(in.Topic)
		}
	}
	if n > len(in.Topic) {
		n = len(in.Topic)
	}
	return string(in.Topic[:n])
}

// Message converts in to a Message, copying topic and payload.
func (in Inbound) Message() Message {
	return Message{
		Topic:    in.TopicName(),
		Payload:  append([]byte(nil), in.Payload...),
		QoS:      in.QoS,
		Retained: in.Retained,
	}
}
