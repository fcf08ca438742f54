package server

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/bridge"
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/reconnect"
)

type Option func(s *Server) error

// WithAddr returns an Option which set the server listening address.
func WithAddr(addr string) Option {
	return func(s *Server) error {
		s.Addr = addr
		return nil
	}
}

// WithBridge returns an Option which set the bridge the server drives.
func WithBridge(b Bridge) Option {
	return func(s *Server) error {
		if b == nil {
			return errors.New("nil bridge")
		}
		s.b = b
		return nil
	}
}

// WithConnectionConfig returns an Option which set the config used by
// connect requests and reconnect attempts.
func WithConnectionConfig(cfg bridge.ConnectionConfig) Option {
	return func(s *Server) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		s.cfg = cfg
		return nil
	}
}

// WithAutoConnect returns an Option which make Run connect on start.
func WithAutoConnect(on bool) Option {
	return func(s *Server) error {
		s.autoConnect = on
		return nil
	}
}

// WithPollInterval returns an Option which set how often events are polled.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		s.pollInterval = d
		return nil
	}
}

// WithHandlers returns an Option which set the event observers.
func WithHandlers(h Handlers) Option {
	return func(s *Server) error {
		s.handlers = h
		return nil
	}
}

// WithEventBuffer returns an Option which set how many recent events are
// kept for the events endpoint.
func WithEventBuffer(n int) Option {
	return func(s *Server) error {
		if n <= 0 {
			return errors.New("event buffer must be positive")
		}
		s.recent.max = n
		return nil
	}
}

// WithReconnect returns an Option which enable reconnecting after the
// connection drops, waiting between min and max.
func WithReconnect(min, max time.Duration) Option {
	return func(s *Server) error {
		if min <= 0 || max < min {
			return errors.New("invalid reconnect delays")
		}
		s.reconnectMin, s.reconnectMax = min, max
		return nil
	}
}

// WithHeartbeat returns an Option which publish a status message on topic
// following the cron schedule.
func WithHeartbeat(schedule, topic string) Option {
	return func(s *Server) error {
		if schedule == "" {
			return nil
		}
		if topic == "" {
			return errors.New("heartbeat topic is required")
		}
		if _, err := cron.ParseStandard(schedule); err != nil {
			return err
		}
		s.heartbeatSchedule, s.heartbeatTopic = schedule, topic
		return nil
	}
}

// WithTrafficReport returns an Option which set how often traffic counters
// are logged while the server runs.
func WithTrafficReport(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return errors.New("traffic report interval must be positive")
		}
		s.trafficEvery = d
		return nil
	}
}

// WithLogger returns an Option which set the logger for Server.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

func (s *Server) newReconnectPolicy() *reconnect.Policy {
	if s.reconnectMin == 0 {
		return nil
	}
	return reconnect.New(s.reconnectMin, s.reconnectMax, s.logger.Named("reconnect"))
}
