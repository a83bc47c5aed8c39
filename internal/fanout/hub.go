// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

// Package fanout routes newly stored telemetry records to live streaming
// subscribers.
//
// Each subscriber holds one websocket connection with a private bounded
// outgoing queue. Broadcast never blocks: a full queue drops its oldest
// message to make room, so one slow consumer can never stall ingestion or
// other consumers.
package fanout

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Channel names a broadcast stream. The set is fixed.
type Channel string

const (
	ChannelLogs    Channel = "logs"
	ChannelTraces  Channel = "traces"
	ChannelMetrics Channel = "metrics"
)

// ValidChannel reports whether name is a recognized channel.
func ValidChannel(name Channel) bool {
	switch name {
	case ChannelLogs, ChannelTraces, ChannelMetrics:
		return true
	}
	return false
}

// Envelope is the outbound data frame.
type Envelope struct {
	Type      string    `json:"type"`
	Channel   Channel   `json:"channel"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultQueueSize bounds a connection's outgoing queue when the config does
// not say otherwise.
const DefaultQueueSize = 128

// Stats is the hub's health snapshot.
type Stats struct {
	Connections int             `json:"connections"`
	Subscribers map[Channel]int `json:"subscribers"`
	Dropped     int64           `json:"dropped"`
}

// Hub is the broadcast registry. Its synchronization is independent of the
// store's: registering, dropping and broadcasting touch only the connection
// set.
type Hub struct {
	logger    *zap.Logger
	queueSize int

	mu    sync.RWMutex
	conns map[*Conn]struct{}

	dropped atomic.Int64
}

// NewHub creates a Hub whose connections queue up to queueSize outgoing
// messages each.
func NewHub(logger *zap.Logger, queueSize int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		logger:    logger,
		queueSize: queueSize,
		conns:     make(map[*Conn]struct{}),
	}
}

// Broadcast enqueues payload to every connection subscribed to channel.
// Broadcasting to a channel with no subscribers is a no-op.
func (h *Hub) Broadcast(channel Channel, payload any) {
	env := Envelope{
		Type:      "data",
		Channel:   channel,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.conns {
		if conn.subscribed(channel) {
			conn.enqueue(env)
		}
	}
}

// Stats returns the live connection count and per-channel subscriber counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := Stats{
		Connections: len(h.conns),
		Subscribers: map[Channel]int{ChannelLogs: 0, ChannelTraces: 0, ChannelMetrics: 0},
		Dropped:     h.dropped.Load(),
	}
	for conn := range h.conns {
		for _, ch := range conn.subscriptions() {
			stats.Subscribers[ch]++
		}
	}
	return stats
}

// Close tears down every live connection. Used at server shutdown;
// subscribers are expected to reconnect and resubscribe with backoff.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		conn.teardown()
	}
}

func (h *Hub) register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}
