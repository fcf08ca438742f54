// Package testlib provides a simulated protocol library for tests.
package testlib

import (
	"fmt"
	"sync"
	"time"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/broker"
)

// Library hands out simulated clients and holds the failures they inject.
type Library struct {
	mu      sync.Mutex
	clients []*Client

	createErr      error
	connectErr     error
	connectPanic   interface{}
	disconnectErr  error
	subscribeErr   map[string]error
	unsubscribeErr map[string]error
	publishErr     map[string]error
	autoComplete   bool
	hook           func(call string)
}

// NewLibrary creates a Library whose clients succeed at everything.
func NewLibrary() *Library {
	return &Library{
		subscribeErr:   make(map[string]error),
		unsubscribeErr: make(map[string]error),
		publishErr:     make(map[string]error),
	}
}

// Factory returns the create call of the library.
func (l *Library) Factory() broker.Factory {
	return func(serverURI, clientID string) (broker.Client, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.createErr != nil {
			return nil, l.createErr
		}
		c := &Client{lib: l, ServerURI: serverURI, ClientID: clientID}
		l.clients = append(l.clients, c)
		return c, nil
	}
}

// FailCreate makes the factory fail with err.
func (l *Library) FailCreate(err error) { l.set(func() { l.createErr = err }) }

// FailConnect makes connect calls fail with err.
func (l *Library) FailConnect(err error) { l.set(func() { l.connectErr = err }) }

// PanicConnect makes connect calls panic with v.
func (l *Library) PanicConnect(v interface{}) { l.set(func() { l.connectPanic = v }) }

// FailDisconnect makes disconnect calls fail with err.
func (l *Library) FailDisconnect(err error) { l.set(func() { l.disconnectErr = err }) }

// FailSubscribe makes subscribe calls for topic fail with err.
func (l *Library) FailSubscribe(topic string, err error) {
	l.set(func() { l.subscribeErr[topic] = err })
}

// FailUnsubscribe makes unsubscribe calls for topic fail with err.
func (l *Library) FailUnsubscribe(topic string, err error) {
	l.set(func() { l.unsubscribeErr[topic] = err })
}

// FailPublish makes publish calls on topic fail with err.
func (l *Library) FailPublish(topic string, err error) {
	l.set(func() { l.publishErr[topic] = err })
}

// AutoComplete makes clients report delivery of acknowledged publishes from
// a separate goroutine right after the publish call.
func (l *Library) AutoComplete(on bool) { l.set(func() { l.autoComplete = on }) }

// Hook installs f to run at the start of every subscribe, unsubscribe and
// publish call, on the calling goroutine. f may block to hold the caller.
func (l *Library) Hook(f func(call string)) { l.set(func() { l.hook = f }) }

func (l *Library) intercept(call string) {
	l.mu.Lock()
	h := l.hook
	l.mu.Unlock()
	if h != nil {
		h(call)
	}
}

func (l *Library) set(f func()) {
	l.mu.Lock()
	f()
	l.mu.Unlock()
}

// Clients returns every client created so far.
func (l *Library) Clients() []*Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Client(nil), l.clients...)
}

// Last returns the most recently created client, or nil.
func (l *Library) Last() *Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.clients) == 0 {
		return nil
	}
	return l.clients[len(l.clients)-1]
}

// Published is a message accepted by a simulated publish call.
type Published struct {
	Token   broker.DeliveryToken
	Message broker.Message
}

// Client is a simulated broker.Client.
type Client struct {
	lib       *Library
	ServerURI string
	ClientID  string

	mu        sync.Mutex
	opts      broker.ConnectOptions
	connected bool
	destroyed bool
	lastToken broker.DeliveryToken
	calls     []string
	published []Published
	acks      int

	fireMu   sync.RWMutex
	cb       broker.Callbacks
	gone     bool
	inflight sync.WaitGroup
}

var _ broker.Client = (*Client)(nil)

func (c *Client) record(call string) {
	c.calls = append(c.calls, call)
}

// SetCallbacks implements broker.Client.
func (c *Client) SetCallbacks(cb broker.Callbacks) {
	c.fireMu.Lock()
	c.cb = cb
	c.fireMu.Unlock()
}

// Connect implements broker.Client.
func (c *Client) Connect(opts broker.ConnectOptions) error {
	c.lib.mu.Lock()
	err := c.lib.connectErr
	p := c.lib.connectPanic
	c.lib.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("connect")
	c.opts = opts
	if p != nil {
		panic(p)
	}
	if err != nil {
		return err
	}
	c.connected = true
	return nil
}

// IsConnected implements broker.Client.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe implements broker.Client.
func (c *Client) Subscribe(topic string, qos broker.QoS) error {
	call := fmt.Sprintf("subscribe %s %d", topic, qos)
	c.lib.intercept(call)
	c.lib.mu.Lock()
	err := c.lib.subscribeErr[topic]
	c.lib.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(call)
	return err
}

// Unsubscribe implements broker.Client.
func (c *Client) Unsubscribe(topic string) error {
	call := "unsubscribe " + topic
	c.lib.intercept(call)
	c.lib.mu.Lock()
	err := c.lib.unsubscribeErr[topic]
	c.lib.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(call)
	return err
}

// Publish implements broker.Client.
func (c *Client) Publish(msg broker.Message) (broker.DeliveryToken, error) {
	call := fmt.Sprintf("publish %s %d", msg.Topic, msg.QoS)
	c.lib.intercept(call)
	c.lib.mu.Lock()
	err := c.lib.publishErr[msg.Topic]
	auto := c.lib.autoComplete
	c.lib.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(call)
	if err != nil {
		return 0, err
	}

	var token broker.DeliveryToken
	if msg.QoS.Acknowledged() {
		c.lastToken++
		token = c.lastToken
	}
	c.published = append(c.published, Published{Token: token, Message: msg.Clone()})

	if auto && msg.QoS.Acknowledged() {
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			c.CompleteDelivery(token)
		}()
	}
	return token, nil
}

// Disconnect implements broker.Client.
func (c *Client) Disconnect(timeout time.Duration) error {
	c.lib.mu.Lock()
	err := c.lib.disconnectErr
	c.lib.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("disconnect " + timeout.String())
	c.connected = false
	return err
}

// Destroy implements broker.Client.
func (c *Client) Destroy() {
	c.fireMu.Lock()
	c.gone = true
	c.fireMu.Unlock()
	c.inflight.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("destroy")
	c.destroyed = true
	c.connected = false
}

// CompleteDelivery fires the delivery-complete callback for token.
func (c *Client) CompleteDelivery(token broker.DeliveryToken) {
	c.fire(func(cb broker.Callbacks) {
		if cb.DeliveryComplete != nil {
			cb.DeliveryComplete(token)
		}
	})
}

// Deliver fires the message-arrived callback. The Ack of in is replaced with
// one counted by Acks.
func (c *Client) Deliver(in broker.Inbound) {
	in.Ack = func() {
		c.mu.Lock()
		c.acks++
		c.mu.Unlock()
	}
	c.fire(func(cb broker.Callbacks) {
		if cb.MessageArrived != nil {
			cb.MessageArrived(in)
		}
	})
}

// LoseConnection fires the connection-lost callback.
func (c *Client) LoseConnection(cause string) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.fire(func(cb broker.Callbacks) {
		if cb.ConnectionLost != nil {
			cb.ConnectionLost(cause)
		}
	})
}

func (c *Client) fire(f func(cb broker.Callbacks)) {
	c.fireMu.RLock()
	defer c.fireMu.RUnlock()
	if c.gone {
		return
	}
	f(c.cb)
}

// Calls returns the recorded library calls in order.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Published returns the accepted publishes in order.
func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// Options returns the options of the last connect call.
func (c *Client) Options() broker.ConnectOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// Acks returns how many delivered messages were acknowledged.
func (c *Client) Acks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acks
}

// Destroyed reports whether Destroy was called.
func (c *Client) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}
