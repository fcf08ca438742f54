package bridge

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/broker"
)

// ErrNoClientFactory is raised by WithClientFactory for a nil factory.
var ErrNoClientFactory = errors.New("nil client factory")

type Option func(b *Bridge) error

// WithClientFactory returns an Option which set how broker clients are created.
func WithClientFactory(f broker.Factory) Option {
	return func(b *Bridge) error {
		if f == nil {
			return ErrNoClientFactory
		}
		b.newClient = f
		return nil
	}
}

// WithLogger returns an Option which set the logger for Bridge.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) error {
		b.logger = logger
		return nil
	}
}

// WithIdleInterval returns an Option which set how long the worker sleeps
// when no request is queued.
func WithIdleInterval(d time.Duration) Option {
	return func(b *Bridge) error {
		if d <= 0 {
			return errors.New("idle interval must be positive")
		}
		b.idleInterval = d
		return nil
	}
}
