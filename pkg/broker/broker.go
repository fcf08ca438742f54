package broker

import "time"

// Client is the protocol client handle the bridge drives.
//
// All methods except the registered callbacks are called from a single
// goroutine. Callbacks may be invoked from any goroutine the implementation
// owns and must not call back into the Client.
type Client interface {
	// SetCallbacks registers the asynchronous handlers. It must be called
	// before Connect.
	SetCallbacks(cb Callbacks)
	Connect(opts ConnectOptions) error
	IsConnected() bool
	Subscribe(topic string, qos QoS) error
	Unsubscribe(topic string) error
	// Publish sends msg. The returned token is only meaningful for QoS
	// AtLeastOnce and ExactlyOnce.
	Publish(msg Message) (DeliveryToken, error)
	Disconnect(timeout time.Duration) error
	// Destroy releases the handle. No callback fires after Destroy returns.
	Destroy()
}

// Factory creates a Client bound to serverURI with the given client identifier.
type Factory func(serverURI, clientID string) (Client, error)

// DeliveryToken identifies an in-flight acknowledged publish.
type DeliveryToken int

// ConnectOptions holds the parameters of a connect call.
type ConnectOptions struct {
	KeepAlive    time.Duration
	CleanSession bool
	Username     string
	Password     string
	Timeout      time.Duration
}

// Callbacks are invoked by the Client from its own goroutines.
type Callbacks struct {
	ConnectionLost   func(cause string)
	MessageArrived   func(in Inbound)
	DeliveryComplete func(token DeliveryToken)
}

// Inbound is a message as reported by the protocol library.
type Inbound struct {
	// Topic may carry bytes past the topic name; TopicLen is authoritative
	// unless it is zero.
	Topic    []byte
	TopicLen int
	Payload  []byte
	QoS      QoS
	Retained bool

	// Ack releases the message back to the library.
	Ack func()
}
