// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package fanout

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidChannel(t *testing.T) {
	assert.True(t, ValidChannel(ChannelLogs))
	assert.True(t, ValidChannel(ChannelTraces))
	assert.True(t, ValidChannel(ChannelMetrics))
	assert.False(t, ValidChannel("events"))
	assert.False(t, ValidChannel(""))
}

func TestBroadcastWithoutSubscribersIsNoop(t *testing.T) {
	h := NewHub(zap.NewNop(), 4)
	h.Broadcast(ChannelLogs, map[string]string{"body": "nobody listens"})

	stats := h.Stats()
	assert.Equal(t, 0, stats.Connections)
	assert.Equal(t, int64(0), stats.Dropped)
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	h := NewHub(zap.NewNop(), 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &Conn{
		hub:    h,
		logger: zap.NewNop(),
		subs:   map[Channel]struct{}{ChannelLogs: {}},
		out:    make(chan Envelope, 2),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < 5; i++ {
		conn.enqueue(Envelope{Type: "data", Channel: ChannelLogs, Payload: i})
	}

	// Queue holds the two newest payloads; three were dropped.
	assert.Equal(t, int64(3), h.dropped.Load())
	first := <-conn.out
	second := <-conn.out
	assert.Equal(t, 3, first.Payload)
	assert.Equal(t, 4, second.Payload)
	select {
	case env := <-conn.out:
		t.Fatalf("queue should be empty, got %v", env.Payload)
	default:
	}
}

func dialTestHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h.ServeWS(&websocket.Upgrader{}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func waitForSubscribers(t *testing.T, h *Hub, channel Channel, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.Stats().Subscribers[channel] == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	h := NewHub(zap.NewNop(), 8)
	defer h.Close()
	ws := dialTestHub(t, h)

	require.NoError(t, ws.WriteJSON(controlFrame{Type: "subscribe", Channel: ChannelLogs}))
	waitForSubscribers(t, h, ChannelLogs, 1)

	h.Broadcast(ChannelLogs, map[string]string{"body": "hello"})
	// A frame on another channel must not reach this subscriber.
	h.Broadcast(ChannelMetrics, map[string]string{"name": "unseen"})

	var env Envelope
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&env))
	assert.Equal(t, "data", env.Type)
	assert.Equal(t, ChannelLogs, env.Channel)
	assert.False(t, env.Timestamp.IsZero())
	payload, ok := env.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", payload["body"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(zap.NewNop(), 8)
	defer h.Close()
	ws := dialTestHub(t, h)

	require.NoError(t, ws.WriteJSON(controlFrame{Type: "subscribe", Channel: ChannelTraces}))
	waitForSubscribers(t, h, ChannelTraces, 1)
	require.NoError(t, ws.WriteJSON(controlFrame{Type: "unsubscribe", Channel: ChannelTraces}))
	waitForSubscribers(t, h, ChannelTraces, 0)

	h.Broadcast(ChannelTraces, map[string]string{"traceId": "abc"})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var env Envelope
	assert.Error(t, ws.ReadJSON(&env), "no envelope expected after unsubscribe")
}

func TestUnknownChannelClosesConnection(t *testing.T) {
	h := NewHub(zap.NewNop(), 8)
	defer h.Close()
	ws := dialTestHub(t, h)

	require.NoError(t, ws.WriteJSON(controlFrame{Type: "subscribe", Channel: "events"}))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool {
		return h.Stats().Connections == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMalformedControlFrameClosesConnection(t *testing.T) {
	h := NewHub(zap.NewNop(), 8)
	defer h.Close()
	ws := dialTestHub(t, h)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	h := NewHub(zap.NewNop(), 8)
	defer h.Close()
	ws1 := dialTestHub(t, h)
	ws2 := dialTestHub(t, h)

	require.NoError(t, ws1.WriteJSON(controlFrame{Type: "subscribe", Channel: ChannelMetrics}))
	require.NoError(t, ws2.WriteJSON(controlFrame{Type: "subscribe", Channel: ChannelMetrics}))
	waitForSubscribers(t, h, ChannelMetrics, 2)

	h.Broadcast(ChannelMetrics, map[string]string{"name": "cpu"})

	for _, ws := range []*websocket.Conn{ws1, ws2} {
		var env Envelope
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, ws.ReadJSON(&env))
		assert.Equal(t, ChannelMetrics, env.Channel)
	}
}

func TestCloseDisconnectsSubscribers(t *testing.T) {
	h := NewHub(zap.NewNop(), 8)
	ws := dialTestHub(t, h)

	require.NoError(t, ws.WriteJSON(controlFrame{Type: "subscribe", Channel: ChannelLogs}))
	waitForSubscribers(t, h, ChannelLogs, 1)

	h.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, h.Stats().Connections)
}
