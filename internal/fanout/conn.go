// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// controlFrame is the inbound subscribe/unsubscribe protocol.
type controlFrame struct {
	Type    string  `json:"type"`
	Channel Channel `json:"channel"`
}

// Conn is one subscriber connection. Two goroutines run for its lifetime:
// a reader applying control frames to the subscription set and a writer
// draining the outgoing queue. Either one ending tears the whole connection
// down through the shared cancellation.
type Conn struct {
	hub    *Hub
	ws     *websocket.Conn
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[Channel]struct{}

	out chan Envelope

	ctx      context.Context
	cancel   context.CancelFunc
	closeOne sync.Once
}

func newConn(hub *Hub, ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		hub:    hub,
		ws:     ws,
		logger: hub.logger.With(zap.String("remote", ws.RemoteAddr().String())),
		subs:   make(map[Channel]struct{}),
		out:    make(chan Envelope, hub.queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeWS upgrades the request and runs the connection until either side
// ends it. The handler returns when the connection is torn down.
func (h *Hub) ServeWS(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		conn := newConn(h, ws)
		h.register(conn)
		go conn.writeLoop()
		conn.readLoop()
	}
}

// subscribed reports membership without blocking broadcasters for long.
func (c *Conn) subscribed(channel Channel) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

func (c *Conn) subscriptions() []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chans := make([]Channel, 0, len(c.subs))
	for ch := range c.subs {
		chans = append(chans, ch)
	}
	return chans
}

// enqueue adds env to the outgoing queue, dropping the oldest queued message
// when full. It never blocks the broadcaster.
func (c *Conn) enqueue(env Envelope) {
	for {
		select {
		case c.out <- env:
			return
		default:
		}
		select {
		case dropped := <-c.out:
			c.hub.dropped.Inc()
			c.logger.Debug("dropping oldest queued message",
				zap.String("channel", string(dropped.Channel)))
		default:
			// Writer drained the queue between selects; retry the send.
		}
	}
}

// readLoop decodes inbound control frames until the socket closes or a
// protocol error occurs.
func (c *Conn) readLoop() {
	defer c.teardown()

	c.ws.SetReadLimit(1 << 12)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if err := c.handleControl(data); err != nil {
			c.logger.Warn("closing connection on protocol error", zap.Error(err))
			return
		}
	}
}

func (c *Conn) handleControl(data []byte) error {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("malformed control frame: %w", err)
	}
	if !ValidChannel(frame.Channel) {
		return fmt.Errorf("unknown channel %q", frame.Channel)
	}
	switch frame.Type {
	case "subscribe":
		c.mu.Lock()
		c.subs[frame.Channel] = struct{}{}
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		delete(c.subs, frame.Channel)
		c.mu.Unlock()
	default:
		return fmt.Errorf("unknown control type %q", frame.Type)
	}
	return nil
}

// writeLoop serializes queued envelopes onto the socket and keeps the
// connection alive with pings.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.teardown()

	for {
		select {
		case <-c.ctx.Done():
			return
		case env := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				c.logger.Warn("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown cancels the peer goroutine, closes the socket and removes the
// connection from the registry. Safe to call from both loops.
func (c *Conn) teardown() {
	c.closeOne.Do(func() {
		c.cancel()
		_ = c.ws.Close()
		c.hub.unregister(c)
	})
}
