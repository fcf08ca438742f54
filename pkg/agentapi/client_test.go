package agentapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-mqtt-bridge/pkg/server"
)

var (
	client *Client
	mux    *http.ServeMux
	srv    *httptest.Server
)

func setUp(t *testing.T) {
	mux = http.NewServeMux()
	srv = httptest.NewServer(mux)

	var err error
	client, err = NewClient(srv.URL, WithLogger(zap.NewNop()), WithMaxRetry(100*time.Millisecond))
	require.NoError(t, err)
}

func tearDown() {
	srv.Close()
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name       string
		opt        ClientOption
		wantErr    bool
		assertFunc func(c *Client) bool
	}{
		{"valid http client", WithHTTPClient(http.DefaultClient), false, func(c *Client) bool { return c.client == http.DefaultClient }},
		{"nil http client", WithHTTPClient(nil), true, nil},
		{"max retry", WithMaxRetry(time.Second), false, func(c *Client) bool { return c.maxRetry == time.Second }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, err := NewClient("http://127.0.0.1:9000", tc.opt, WithLogger(zap.NewNop()))
			requireFunc := require.NoError
			if tc.wantErr {
				requireFunc = require.Error
			}
			requireFunc(t, err)
			if tc.assertFunc != nil {
				assert.True(t, tc.assertFunc(c))
			}
		})
	}
}

func TestStatus(t *testing.T) {
	setUp(t)
	defer tearDown()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		require.NoError(t, json.NewEncoder(w).Encode(server.StatusResponse{State: "connected", Pending: 2}))
	})
	st, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, "connected", st.State)
	assert.Equal(t, 2, st.Pending)
}

func TestRequests(t *testing.T) {
	setUp(t)
	defer tearDown()

	var calls []string
	mux.HandleFunc("/subscriptions/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req server.SubscribeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			calls = append(calls, "subscribe "+req.Topic)
		case http.MethodDelete:
			calls = append(calls, "unsubscribe "+r.URL.Query().Get("topic"))
		}
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		var req server.PublishRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls = append(calls, "publish "+req.Topic+" "+string(req.Payload))
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) { calls = append(calls, "connect") })
	mux.HandleFunc("/disconnect", func(w http.ResponseWriter, r *http.Request) { calls = append(calls, "disconnect") })

	require.NoError(t, client.Connect())
	require.NoError(t, client.Subscribe("room/+", 1))
	require.NoError(t, client.Publish(server.PublishRequest{Topic: "room/1", Payload: []byte("hi"), QoS: 1}))
	require.NoError(t, client.Unsubscribe("room/+"))
	require.NoError(t, client.Disconnect())

	assert.Equal(t, []string{"connect", "subscribe room/+", "publish room/1 hi", "unsubscribe room/+", "disconnect"}, calls)
}

func TestEvents(t *testing.T) {
	setUp(t)
	defer tearDown()

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("since"))
		require.NoError(t, json.NewEncoder(w).Encode([]server.EventView{{Seq: 8, Kind: "connected"}}))
	})
	events, err := client.Events(7)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.EqualValues(t, 8, events[0].Seq)
}

func TestErrorResponse(t *testing.T) {
	setUp(t)
	defer tearDown()

	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":400,"message":"topic cannot be empty"}`))
	})
	err := client.Publish(server.PublishRequest{})
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "topic cannot be empty", apiErr.Message)
}

func TestUnixSocket(t *testing.T) {
	sock := filepath.Join(os.TempDir(), "bizfly-mqtt-bridge-test-client.sock")
	_ = os.Remove(sock)
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	hs := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"disconnected"}`))
	})}
	go func() { _ = hs.Serve(l) }()
	defer hs.Close()

	c, err := NewClient("unix://"+sock, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, "disconnected", st.State)
}

func TestUnreachableAgent(t *testing.T) {
	c, err := NewClient("unix://"+filepath.Join(os.TempDir(), "bizfly-mqtt-bridge-missing.sock"),
		WithLogger(zap.NewNop()), WithMaxRetry(50*time.Millisecond))
	require.NoError(t, err)
	_, err = c.Status()
	assert.Error(t, err)
}

func TestPublishNotRetriedAfterSend(t *testing.T) {
	setUp(t)
	defer tearDown()

	var requests int32
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		<-r.Context().Done()
	})
	c, err := NewClient(srv.URL,
		WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}),
		WithLogger(zap.NewNop()),
		WithMaxRetry(500*time.Millisecond))
	require.NoError(t, err)

	err = c.Publish(server.PublishRequest{Topic: "room/1", Payload: []byte("hi"), QoS: 1})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests))
}

func TestIsDialError(t *testing.T) {
	assert.True(t, isDialError(&url.Error{Op: "Post", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}}))
	assert.False(t, isDialError(&url.Error{Op: "Post", Err: &net.OpError{Op: "read", Err: errors.New("reset")}}))
	assert.False(t, isDialError(errors.New("timeout")))
}
