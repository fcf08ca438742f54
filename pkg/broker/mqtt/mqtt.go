package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/broker"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultKeepAlive      = 20 * time.Second
)

var _ broker.Client = (*Client)(nil)

// ErrTimeout is returned when the broker does not answer in time.
var ErrTimeout = errors.New("timed out waiting for broker")

var tokenWaitTimeout = 3 * time.Second

// Client implements broker.Client on top of paho.mqtt.golang.
type Client struct {
	uri      *url.URL
	clientID string
	username string
	password string
	client   mqtt.Client
	logger   *zap.Logger

	mu        sync.RWMutex
	cb        broker.Callbacks
	destroyed bool
	done      chan struct{}

	lastToken int64
	watchers  sync.WaitGroup
}

// NewClient creates a paho backed client for serverURI. No network activity
// happens until Connect.
func NewClient(serverURI, clientID string, opts ...Option) (*Client, error) {
	c := &Client{clientID: clientID, done: make(chan struct{})}
	if err := WithURL(serverURI)(c); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		c.logger = l
	}
	return c, nil
}

// Factory returns a broker.Factory creating paho clients with opts.
func Factory(opts ...Option) broker.Factory {
	return func(serverURI, clientID string) (broker.Client, error) {
		return NewClient(serverURI, clientID, opts...)
	}
}

func (c *Client) brokerURL() string {
	scheme := c.uri.Scheme
	switch scheme {
	case "", "mqtt":
		scheme = "tcp"
	case "mqtts":
		scheme = "ssl"
	}
	return scheme + "://" + c.uri.Host
}

func (c *Client) opts(o broker.ConnectOptions) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.brokerURL())
	opts.SetClientID(c.clientID)

	username := o.Username
	if username == "" {
		username = c.username
	}
	password := o.Password
	if password == "" {
		password = c.password
	}
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	keepAlive := o.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetCleanSession(o.CleanSession)
	opts.SetConnectTimeout(connectTimeout(o))

	// Reconnection is a policy of the caller, not of the connection.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetStore(mqtt.NewMemoryStore())
	opts.SetAutoAckDisabled(true)
	opts.SetOrderMatters(true)

	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		c.messageArrived(msg)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Error("Connection lost with broker", zap.Error(err))
		cause := "connection lost"
		if err != nil {
			cause = err.Error()
		}
		c.fire(func(cb broker.Callbacks) {
			if cb.ConnectionLost != nil {
				cb.ConnectionLost(cause)
			}
		})
	})
	return opts
}

func connectTimeout(o broker.ConnectOptions) time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return defaultConnectTimeout
}

// SetCallbacks implements broker.Client.
func (c *Client) SetCallbacks(cb broker.Callbacks) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

// Connect implements broker.Client.
func (c *Client) Connect(o broker.ConnectOptions) error {
	if c.isDestroyed() {
		return broker.ErrClientDestroyed
	}
	client := mqtt.NewClient(c.opts(o))
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout(o)) {
		return fmt.Errorf("connect %s: %w", c.brokerURL(), ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return err
	}
	c.client = client
	return nil
}

// IsConnected implements broker.Client.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Subscribe implements broker.Client. Messages are routed through the
// default publish handler.
func (c *Client) Subscribe(topic string, qos broker.QoS) error {
	if c.client == nil {
		return broker.ErrNotConnected
	}
	return wait(c.client.Subscribe(topic, byte(qos), nil))
}

// Unsubscribe implements broker.Client.
func (c *Client) Unsubscribe(topic string) error {
	if c.client == nil {
		return broker.ErrNotConnected
	}
	return wait(c.client.Unsubscribe(topic))
}

// Publish implements broker.Client.
func (c *Client) Publish(msg broker.Message) (broker.DeliveryToken, error) {
	if c.client == nil {
		return 0, broker.ErrNotConnected
	}
	token := c.client.Publish(msg.Topic, byte(msg.QoS), msg.Retained, msg.Payload)
	if !msg.QoS.Acknowledged() {
		return 0, wait(token)
	}

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return 0, err
		}
	default:
	}

	id := broker.DeliveryToken(atomic.AddInt64(&c.lastToken, 1))
	c.watchers.Add(1)
	go c.awaitDelivery(id, token)
	return id, nil
}

func (c *Client) awaitDelivery(id broker.DeliveryToken, token mqtt.Token) {
	defer c.watchers.Done()
	select {
	case <-token.Done():
	case <-c.done:
		return
	}
	if err := token.Error(); err != nil {
		c.logger.Error("Publish was not acknowledged", zap.Int("token", int(id)), zap.Error(err))
		return
	}
	c.fire(func(cb broker.Callbacks) {
		if cb.DeliveryComplete != nil {
			cb.DeliveryComplete(id)
		}
	})
}

// Disconnect implements broker.Client.
func (c *Client) Disconnect(timeout time.Duration) error {
	if c.client == nil {
		return broker.ErrNotConnected
	}
	open := c.client.IsConnectionOpen()
	c.client.Disconnect(uint(timeout / time.Millisecond))
	if !open {
		return broker.ErrNotConnected
	}
	return nil
}

// Destroy implements broker.Client.
func (c *Client) Destroy() {
	c.mu.Lock()
	if !c.destroyed {
		c.destroyed = true
		close(c.done)
	}
	c.mu.Unlock()
	c.watchers.Wait()
	c.client = nil
}

func (c *Client) isDestroyed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.destroyed
}

// fire runs f with the registered callbacks unless the client was destroyed.
// Destroy waits for running invocations.
func (c *Client) fire(f func(cb broker.Callbacks)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.destroyed {
		return
	}
	f(c.cb)
}

func (c *Client) messageArrived(msg mqtt.Message) {
	topic := msg.Topic()
	in := broker.Inbound{
		Topic:    []byte(topic),
		TopicLen: len(topic),
		Payload:  msg.Payload(),
		QoS:      broker.QoS(msg.Qos()),
		Retained: msg.Retained(),
		Ack:      msg.Ack,
	}
	handled := false
	c.fire(func(cb broker.Callbacks) {
		if cb.MessageArrived != nil {
			cb.MessageArrived(in)
			handled = true
		}
	})
	if !handled {
		msg.Ack()
	}
}

func (c *Client) String() string {
	return fmt.Sprintf("Broker [%s]", c.clientID)
}

func wait(token mqtt.Token) error {
	for !token.WaitTimeout(tokenWaitTimeout) {
	}
	return token.Error()
}
