package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/bridge"
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/broker"
	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/testlib"
)

const (
	testURI  = "tcp://127.0.0.1:1883"
	waitFor  = 2 * time.Second
	interval = 5 * time.Millisecond
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *testlib.Library) {
	t.Helper()
	lib := testlib.NewLibrary()
	b, err := bridge.New(bridge.WithClientFactory(lib.Factory()), bridge.WithLogger(zap.NewNop()), bridge.WithIdleInterval(time.Millisecond))
	require.NoError(t, err)

	opts = append([]Option{
		WithBridge(b),
		WithConnectionConfig(bridge.DefaultConfig(testURI)),
		WithLogger(zap.NewNop()),
	}, opts...)
	s, err := New(opts...)
	require.NoError(t, err)
	return s, lib
}

// waitState ticks the server until the bridge reaches st.
func waitState(t *testing.T, s *Server, st bridge.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.tick(time.Now())
		return s.b.State() == st
	}, waitFor, interval, "waiting for state %s", st)
}

func TestNewRequiresBridge(t *testing.T) {
	_, err := New(WithLogger(zap.NewNop()))
	assert.Error(t, err)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"empty broker", WithConnectionConfig(bridge.ConnectionConfig{})},
		{"zero poll interval", WithPollInterval(0)},
		{"zero event buffer", WithEventBuffer(0)},
		{"reconnect max below min", WithReconnect(time.Second, time.Millisecond)},
		{"heartbeat without topic", WithHeartbeat("@every 1m", "")},
		{"bad heartbeat schedule", WithHeartbeat("every minute", "status")},
		{"nil bridge", WithBridge(nil)},
		{"zero traffic interval", WithTrafficReport(0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := &Server{recent: newEventLog(defaultEventBuffer)}
			assert.Error(t, tc.opt(s))
		})
	}
}

func TestServerRun(t *testing.T) {
	tests := []struct {
		addr string
	}{
		{"unix://" + filepath.Join(os.TempDir(), "bizfly-mqtt-bridge-test-server.sock")},
		{"127.0.0.1:0"},
	}
	for _, tc := range tests {
		s, lib := newTestServer(t, WithAddr(tc.addr), WithAutoConnect(true), WithPollInterval(time.Millisecond))
		s.testSignalCh = make(chan os.Signal, 1)
		var serverError error
		done := make(chan struct{})
		go func() {
			serverError = s.Run()
			close(done)
		}()
		require.Eventually(t, func() bool {
			return s.b.State() == bridge.StateConnected
		}, waitFor, interval)
		s.testSignalCh <- syscall.SIGTERM
		<-done
		assert.IsType(t, http.ErrServerClosed, serverError)

		require.NotNil(t, lib.Last())
		assert.True(t, lib.Last().Destroyed())
		assert.Equal(t, bridge.StateDisconnected, s.b.State())
		assert.NotEmpty(t, s.recent.since(0))
	}
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI(t *testing.T) {
	s, lib := newTestServer(t)
	lib.AutoComplete(true)

	rec := do(t, s.router, http.MethodPost, "/connect", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitState(t, s, bridge.StateConnected)

	rec = do(t, s.router, http.MethodPost, "/subscriptions", SubscribeRequest{Topic: "room/1", QoS: 1})
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, s.router, http.MethodPost, "/messages", PublishRequest{Topic: "room/1", Payload: []byte("hi"), QoS: 1})
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, s.router, http.MethodDelete, "/subscriptions?topic=room/1", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var kinds []string
	require.Eventually(t, func() bool {
		s.tick(time.Now())
		var views []EventView
		rec := do(t, s.router, http.MethodGet, "/events", nil)
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &views) != nil {
			return false
		}
		kinds = kinds[:0]
		for _, v := range views {
			kinds = append(kinds, v.Kind)
		}
		return len(views) == 4
	}, waitFor, interval)
	assert.ElementsMatch(t, []string{"connected", "subscribed", "delivered", "unsubscribed"}, kinds)

	rec = do(t, s.router, http.MethodGet, "/events?since=3", nil)
	var tail []EventView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tail))
	require.Len(t, tail, 1)
	assert.EqualValues(t, 4, tail[0].Seq)

	rec = do(t, s.router, http.MethodGet, "/status", nil)
	var st StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "connected", st.State)
	assert.Equal(t, testURI, st.Broker)
	assert.Equal(t, 0, st.Pending)
	assert.EqualValues(t, 4, st.LastEvent)

	rec = do(t, s.router, http.MethodPost, "/disconnect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, lib.Last().Destroyed())
	assert.Equal(t, bridge.StateDisconnected, s.b.State())
}

func TestAPIBadRequests(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   interface{}
	}{
		{"subscribe empty topic", http.MethodPost, "/subscriptions", SubscribeRequest{QoS: 1}},
		{"subscribe bad qos", http.MethodPost, "/subscriptions", SubscribeRequest{Topic: "a", QoS: 3}},
		{"unsubscribe no topic", http.MethodDelete, "/subscriptions", nil},
		{"publish empty topic", http.MethodPost, "/messages", PublishRequest{}},
		{"publish bad qos", http.MethodPost, "/messages", PublishRequest{Topic: "a", QoS: -1}},
		{"publish not json", http.MethodPost, "/messages", "topic"},
		{"events bad since", http.MethodGet, "/events?since=x", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s.router, tc.method, tc.target, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var e errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			assert.NotEmpty(t, e.Message)
		})
	}
}

func TestHandlersDispatch(t *testing.T) {
	var got []string
	h := Handlers{
		OnConnect: func(e bridge.Connected) { got = append(got, "connect "+e.Endpoint) },
		OnSubscribe: func(e bridge.Subscribed) {
			panic("boom")
		},
		OnMessage: func(e bridge.MessageReceived) { got = append(got, "message "+e.Message.Topic) },
	}
	h.dispatch([]bridge.Event{
		bridge.Connected{Endpoint: testURI},
		bridge.Subscribed{Topic: "a", QoS: broker.AtLeastOnce},
		bridge.Delivered{Message: broker.Message{Topic: "a"}},
		bridge.MessageReceived{Message: broker.Message{Topic: "b"}},
	}, zap.NewNop())

	assert.Equal(t, []string{"connect " + testURI, "message b"}, got)
}

func TestEventLogBounded(t *testing.T) {
	l := newEventLog(2)
	now := time.Now()
	l.add(bridge.Unsubscribed{Topic: "a"}, now)
	l.add(bridge.Unsubscribed{Topic: "b"}, now)
	l.add(bridge.Unsubscribed{Topic: "c"}, now)

	views := l.since(0)
	require.Len(t, views, 2)
	assert.Equal(t, "b", views[0].Topic)
	assert.Equal(t, "c", views[1].Topic)
	assert.EqualValues(t, 3, l.last())
	assert.Len(t, l.since(0), 2)
}

func TestReconnectAfterConnectionLost(t *testing.T) {
	s, lib := newTestServer(t, WithReconnect(time.Millisecond, 2*time.Millisecond))
	s.connect()
	waitState(t, s, bridge.StateConnected)

	lib.Last().LoseConnection("broker went away")
	require.Eventually(t, func() bool {
		s.tick(time.Now())
		return len(lib.Clients()) == 2 && s.b.State() == bridge.StateConnected
	}, waitFor, interval)
	assert.True(t, lib.Clients()[0].Destroyed())

	s.disconnect()
	s.tick(time.Now())
	assert.Len(t, lib.Clients(), 2)
}

// hookedBridge runs onDisconnect inside every Disconnect call and counts
// connects.
type hookedBridge struct {
	Bridge
	onDisconnect func()
	connects     int
}

func (h *hookedBridge) Connect(cfg bridge.ConnectionConfig) {
	h.connects++
	h.Bridge.Connect(cfg)
}

func (h *hookedBridge) Disconnect() {
	h.Bridge.Disconnect()
	if h.onDisconnect != nil {
		h.onDisconnect()
	}
}

func TestExplicitDisconnectDuringReconnect(t *testing.T) {
	s, lib := newTestServer(t, WithReconnect(time.Millisecond, 2*time.Millisecond))
	hb := &hookedBridge{Bridge: s.b}
	s.b = hb

	s.connect()
	waitState(t, s, bridge.StateConnected)
	require.Equal(t, 1, hb.connects)

	// An explicit disconnect flips the intent while the reconnect is
	// tearing down the old connection.
	hb.onDisconnect = func() { s.wantConnected.Store(false) }
	lib.Last().LoseConnection("broker went away")
	require.Eventually(t, func() bool {
		s.tick(time.Now())
		return !s.wantConnected.Load()
	}, waitFor, interval)

	for i := 0; i < 10; i++ {
		s.tick(time.Now())
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 1, hb.connects)
	assert.Len(t, lib.Clients(), 1)
	assert.Equal(t, bridge.StateDisconnected, s.b.State())
}

func TestNoReconnectAfterDisconnect(t *testing.T) {
	s, lib := newTestServer(t, WithReconnect(time.Millisecond, time.Millisecond))
	s.connect()
	waitState(t, s, bridge.StateConnected)
	s.disconnect()

	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		s.tick(time.Now())
		time.Sleep(time.Millisecond)
	}
	assert.Len(t, lib.Clients(), 1)
}

func TestHeartbeatPublishesWhenConnected(t *testing.T) {
	s, lib := newTestServer(t, WithHeartbeat("@every 1m", "agents/status"))

	s.publishHeartbeat()
	assert.Nil(t, lib.Last())

	s.connect()
	waitState(t, s, bridge.StateConnected)
	s.publishHeartbeat()
	require.Eventually(t, func() bool {
		return len(lib.Last().Published()) == 1
	}, waitFor, interval)

	p := lib.Last().Published()[0]
	assert.Equal(t, "agents/status", p.Message.Topic)
	assert.Equal(t, broker.AtLeastOnce, p.Message.QoS)
	var body map[string]string
	require.NoError(t, json.Unmarshal(p.Message.Payload, &body))
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, testURI, body["broker"])
	s.disconnect()
}

func TestTrafficInStatus(t *testing.T) {
	s, lib := newTestServer(t, WithTrafficReport(time.Hour))
	s.traffic.Start()
	defer s.traffic.Done()

	s.connect()
	waitState(t, s, bridge.StateConnected)
	lib.Last().Deliver(broker.Inbound{Topic: []byte("room/1"), TopicLen: 6, Payload: []byte("hello")})
	lib.Last().LoseConnection("EOF")

	var st StatusResponse
	require.Eventually(t, func() bool {
		s.tick(time.Now())
		rec := do(t, s.router, http.MethodGet, "/status", nil)
		return json.Unmarshal(rec.Body.Bytes(), &st) == nil && st.Traffic.Disconnects == 1
	}, waitFor, interval)
	assert.EqualValues(t, 1, st.Traffic.Received)
	assert.EqualValues(t, 5, st.Traffic.Bytes)
	s.disconnect()
}
