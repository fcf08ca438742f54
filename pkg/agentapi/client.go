// Package agentapi is the client of the HTTP API served by the bridge agent.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v3"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/server"
)

const (
	userAgent       = "bizfly-mqtt-bridge-client"
	defaultMaxRetry = 5 * time.Second
	unixPrefix      = "unix://"
)

// Client is the client for interacting with a running agent.
type Client struct {
	client    *http.Client
	ServerURL *url.URL
	maxRetry  time.Duration

	logger *zap.Logger
}

// NewClient creates a Client talking to the agent listening on addr, which is
// either "unix:///path/to/sock" or an http url.
func NewClient(addr string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxRetry: defaultMaxRetry,
	}
	if strings.HasPrefix(addr, unixPrefix) {
		sock := strings.TrimPrefix(addr, unixPrefix)
		c.client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sock)
			},
		}
		addr = "http://unix"
	}
	su, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	c.ServerURL = su

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

// ClientOption provides mechanism to configure Client.
type ClientOption func(c *Client) error

// WithHTTPClient sets the underlying HTTP client for Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) error {
		if client == nil {
			return errors.New("nil HTTP client")
		}
		c.client = client
		return nil
	}
}

// WithMaxRetry sets how long requests are retried while the agent is unreachable.
func WithMaxRetry(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.maxRetry = d
		return nil
	}
}

// WithLogger sets the logger for Client.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// Error is an error response of the agent.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent returned %d: %s", e.StatusCode, e.Message)
}

// NewRequest create new http request
func (c *Client) NewRequest(method, relPath string, body interface{}) (*http.Request, error) {
	buf := new(bytes.Buffer)
	if body != nil {
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, err
		}
	}

	rel, err := url.Parse(relPath)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(method, c.ServerURL.ResolveReference(rel).String(), buf)
	if err != nil {
		return nil, err
	}
	req.Header.Add("User-Agent", userAgent)
	req.Header.Add("Content-Type", "application/json")
	return req, nil
}

// do sends the request, retrying while the agent cannot be reached, and
// decodes a successful response into v.
func (c *Client) do(method, relPath string, body, v interface{}) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = c.maxRetry
	bo.MaxElapsedTime = c.maxRetry

	var resp *http.Response
	op := func() error {
		req, err := c.NewRequest(method, relPath, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err = c.client.Do(req)
		if err == nil {
			return nil
		}
		// Only a failed dial proves the agent never saw a non-idempotent request.
		if method != http.MethodGet && !isDialError(err) {
			return backoff.Permanent(err)
		}
		c.logger.Debug("Agent unreachable", zap.String("path", relPath), zap.Error(err))
		return err
	}
	if err := backoff.Retry(op, bo); err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &Error{StatusCode: resp.StatusCode, Message: e.Message}
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// Status returns the agent bridge status.
func (c *Client) Status() (*server.StatusResponse, error) {
	var st server.StatusResponse
	if err := c.do(http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Connect asks the agent to connect to its broker.
func (c *Client) Connect() error {
	return c.do(http.MethodPost, "/connect", nil, nil)
}

// Disconnect asks the agent to disconnect from its broker.
func (c *Client) Disconnect() error {
	return c.do(http.MethodPost, "/disconnect", nil, nil)
}

// Subscribe asks the agent to subscribe to topic.
func (c *Client) Subscribe(topic string, qos int) error {
	return c.do(http.MethodPost, "/subscriptions/", server.SubscribeRequest{Topic: topic, QoS: qos}, nil)
}

// Unsubscribe asks the agent to unsubscribe from topic.
func (c *Client) Unsubscribe(topic string) error {
	return c.do(http.MethodDelete, "/subscriptions/?topic="+url.QueryEscape(topic), nil, nil)
}

// Publish asks the agent to publish a message.
func (c *Client) Publish(req server.PublishRequest) error {
	return c.do(http.MethodPost, "/messages", req, nil)
}

// Events lists the agent's recent events with a sequence number above since.
func (c *Client) Events(since uint64) ([]server.EventView, error) {
	var events []server.EventView
	if err := c.do(http.MethodGet, "/events?since="+strconv.FormatUint(since, 10), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}
