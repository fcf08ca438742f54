package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/valve"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/bridge"
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/broker"
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/reconnect"
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/traffic"
)

const (
	defaultPollInterval = 33 * time.Millisecond
	defaultEventBuffer  = 1024
	defaultTrafficEvery = time.Minute
	shutdownTimeout     = 20 * time.Second
)

// Bridge is the part of bridge.Bridge the server drives.
type Bridge interface {
	Connect(cfg bridge.ConnectionConfig)
	Disconnect()
	Subscribe(topic string, qos broker.QoS)
	Unsubscribe(topic string)
	Publish(msg broker.Message)
	PollEvents() []bridge.Event
	State() bridge.State
	Pending() int
}

// Server hosts a bridge: it polls events on a fixed cadence, hands them to
// observers and exposes the bridge over HTTP.
type Server struct {
	Addr         string
	router       *chi.Mux
	b            Bridge
	cfg          bridge.ConnectionConfig
	autoConnect  bool
	pollInterval time.Duration
	handlers     Handlers
	useUnixSock  bool

	recent *eventLog

	// wantConnected is false after an explicit disconnect, which keeps the
	// reconnect policy quiet.
	wantConnected atomic.Bool
	// connMu serializes explicit connects and disconnects with reconnects.
	connMu       sync.Mutex
	reconnectMin time.Duration
	reconnectMax time.Duration
	policy       *reconnect.Policy

	traffic      *traffic.Reporter
	trafficEvery time.Duration

	heartbeatSchedule string
	heartbeatTopic    string

	// signal chan use for testing.
	testSignalCh chan os.Signal

	logger *zap.Logger
}

// New creates new server instance.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		pollInterval: defaultPollInterval,
		recent:       newEventLog(defaultEventBuffer),
		trafficEvery: defaultTrafficEvery,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.b == nil {
		return nil, errors.New("server requires a bridge")
	}

	s.router = chi.NewRouter()

	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}
	s.policy = s.newReconnectPolicy()
	s.traffic = s.newTrafficReporter()

	s.setupRoutes()
	s.useUnixSock = strings.HasPrefix(s.Addr, "unix://")
	s.Addr = strings.TrimPrefix(s.Addr, "unix://")

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Get("/status", s.Status)
	s.router.Post("/connect", s.Connect)
	s.router.Post("/disconnect", s.Disconnect)
	s.router.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", s.Subscribe)
		r.Delete("/", s.Unsubscribe)
	})
	s.router.Post("/messages", s.Publish)
	s.router.Get("/events", s.Events)
}

// connect starts a connection with the configured broker.
func (s *Server) connect() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.wantConnected.Store(true)
	s.b.Connect(s.cfg)
}

// disconnect stops the connection and waits for the worker to exit.
func (s *Server) disconnect() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.wantConnected.Store(false)
	s.b.Disconnect()
}

// tick drains the bridge once and dispatches what it got.
func (s *Server) tick(now time.Time) {
	events := s.b.PollEvents()
	for _, e := range events {
		s.recent.add(e, now)
	}
	s.traffic.Report(trafficOf(events))
	s.handlers.dispatch(events, s.logger)

	if s.policy == nil || !s.wantConnected.Load() {
		return
	}
	for _, e := range events {
		s.policy.Observe(e, now)
	}
	retry := s.policy.Check(s.b.State(), now)
	if retry {
		s.reconnect()
	}
}

// reconnect replaces the connection unless an explicit disconnect got in
// first.
func (s *Server) reconnect() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if !s.wantConnected.Load() {
		return
	}
	s.logger.Info("Reconnecting to broker", zap.String("broker", s.cfg.BrokerURI))
	s.b.Disconnect()
	if !s.wantConnected.Load() {
		return
	}
	s.b.Connect(s.cfg)
}

func (s *Server) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("context is cancelled")
			return
		case <-valve.Lever(ctx).Stop():
			s.logger.Debug("valve is closed")
			return
		case now := <-ticker.C:
			func() {
				if err := valve.Lever(ctx).Open(); err != nil {
					return
				}
				defer valve.Lever(ctx).Close()
				s.tick(now)
			}()
		}
	}
}

func (s *Server) newTrafficReporter() *traffic.Reporter {
	r := traffic.NewReporter(s.trafficEvery)
	r.OnUpdate = func(st traffic.Stat, runtime time.Duration, ticker bool) {
		if ticker {
			s.logger.Info("Traffic", zap.Stringer("stat", st), zap.Duration("runtime", runtime))
		}
	}
	r.OnDone = func(st traffic.Stat, runtime time.Duration, _ bool) {
		s.logger.Info("Traffic total", zap.Stringer("stat", st), zap.Duration("runtime", runtime))
	}
	return r
}

func trafficOf(events []bridge.Event) traffic.Stat {
	var st traffic.Stat
	for _, e := range events {
		switch e := e.(type) {
		case bridge.Disconnected:
			st.Disconnects++
		case bridge.Subscribed:
			st.Subscribed++
		case bridge.Unsubscribed:
			st.Unsubscribed++
		case bridge.Delivered:
			st.Delivered++
		case bridge.MessageReceived:
			st.Received++
			st.Bytes += uint64(len(e.Message.Payload))
		}
	}
	return st
}

func (s *Server) startHeartbeat() (*cron.Cron, error) {
	if s.heartbeatSchedule == "" {
		return nil, nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.heartbeatSchedule, s.publishHeartbeat); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func (s *Server) publishHeartbeat() {
	if s.b.State() != bridge.StateConnected {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"status":    "online",
		"broker":    s.cfg.BrokerURI,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	s.b.Publish(broker.Message{Topic: s.heartbeatTopic, Payload: payload, QoS: broker.AtLeastOnce})
}

// Run serves the HTTP API and the poll loop until a termination signal.
// The bridge is disconnected before Run returns.
func (s *Server) Run() error {
	// Graceful valve shut-off package to manage code preemption and shutdown signaling.
	valv := valve.New()
	baseCtx := valv.Context()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	if s.autoConnect {
		s.connect()
	}
	defer func() {
		s.disconnect()
		s.tick(time.Now())
	}()

	s.traffic.Start()
	defer s.traffic.Done()

	heartbeat, err := s.startHeartbeat()
	if err != nil {
		return err
	}
	if heartbeat != nil {
		defer heartbeat.Stop()
	}

	srv := http.Server{Handler: chi.ServerBaseContext(baseCtx, s.router)}

	c := make(chan os.Signal, 1)
	if s.testSignalCh != nil {
		c = s.testSignalCh
	}
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(c)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.pollLoop(gctx)
		return nil
	})
	g.Go(func() error {
		select {
		case <-c:
		case <-gctx.Done():
		}
		s.logger.Info("shutting down...")

		if err := valv.Shutdown(shutdownTimeout); err != nil {
			s.logger.Error("failed to shutdown valv")
		}

		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.logger.Error("failed to shutdown http server")
		}
		cancel()
		return nil
	})
	g.Go(func() error {
		err := s.serve(&srv)
		if !errors.Is(err, http.ErrServerClosed) {
			cancel()
		}
		return err
	})
	return g.Wait()
}

func (s *Server) serve(srv *http.Server) error {
	if s.useUnixSock {
		_ = os.Remove(s.Addr)
		unixListener, err := net.Listen("unix", s.Addr)
		if err != nil {
			return err
		}
		return srv.Serve(unixListener)
	}

	srv.Addr = s.Addr
	return srv.ListenAndServe()
}
