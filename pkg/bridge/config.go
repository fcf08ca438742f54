package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/broker"
)

const (
	defaultKeepAlive         = 20 * time.Second
	defaultConnectTimeout    = 10 * time.Second
	defaultDisconnectTimeout = 10 * time.Second
)

// ErrEmptyBrokerURI is raised by Validate when no broker is configured.
var ErrEmptyBrokerURI = errors.New("empty broker uri")

// ConnectionConfig describes one connection attempt. The worker takes a copy
// when it starts.
type ConnectionConfig struct {
	BrokerURI string
	Username  string
	Password  string

	// ClientID is used as is when set. Otherwise every connection attempt
	// generates a fresh identifier.
	ClientID string

	KeepAlive         time.Duration
	CleanSession      bool
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a clean-session config for brokerURI.
func DefaultConfig(brokerURI string) ConnectionConfig {
	return ConnectionConfig{
		BrokerURI:         brokerURI,
		KeepAlive:         defaultKeepAlive,
		CleanSession:      true,
		ConnectTimeout:    defaultConnectTimeout,
		DisconnectTimeout: defaultDisconnectTimeout,
	}
}

// EndpointURI builds a tcp broker uri from host and port.
func EndpointURI(host string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", host, port)
}

// Validate checks that c can be used for a connection attempt.
func (c ConnectionConfig) Validate() error {
	if c.BrokerURI == "" {
		return ErrEmptyBrokerURI
	}
	if c.KeepAlive < 0 || c.ConnectTimeout < 0 || c.DisconnectTimeout < 0 {
		return fmt.Errorf("negative duration in connection config for %s", c.BrokerURI)
	}
	return nil
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.KeepAlive == 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.DisconnectTimeout == 0 {
		c.DisconnectTimeout = defaultDisconnectTimeout
	}
	return c
}

func (c ConnectionConfig) connectOptions() broker.ConnectOptions {
	return broker.ConnectOptions{
		KeepAlive:    c.KeepAlive,
		CleanSession: c.CleanSession,
		Username:     c.Username,
		Password:     c.Password,
		Timeout:      c.ConnectTimeout,
	}
}
