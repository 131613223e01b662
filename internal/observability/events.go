// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package observability

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devmon/devmon/internal/host"
)

// PathEvents streams object events over a websocket.
const PathEvents = "/debug/events"

// EventSnapshot is the kind of the first message on PathEvents. Later
// messages carry host.EventAdded or host.EventRemoved.
const EventSnapshot = "snapshot"

const (
	eventBuffer       = 64
	eventWriteTimeout = 5 * time.Second
)

// EventMessage is one websocket text message. A client first receives a
// snapshot of every object, then one message per added or removed object.
// An object added while the client connects can appear in both.
type EventMessage struct {
	Kind    string            `json:"kind"`
	Object  *host.ObjectInfo  `json:"object,omitempty"`
	Objects []host.ObjectInfo `json:"objects,omitempty"`
}

type eventClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *eventClient) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(time.Second))
}

// EventHub fans host object events out to websocket clients. Clients that
// fall behind by more than eventBuffer messages are disconnected.
type EventHub struct {
	snapshot func() []host.ObjectInfo
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*eventClient]struct{}
	closed  bool
}

// NewEventHub creates a hub. snapshot lists the current objects for newly
// connected clients; it is only called while serving a request.
func NewEventHub(snapshot func() []host.ObjectInfo, logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		snapshot: snapshot,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*eventClient]struct{}),
	}
}

// Publish sends ev to every client without blocking. It is a host observer.
func (h *EventHub) Publish(ev host.Event) {
	obj := ev.Object
	data, err := json.Marshal(EventMessage{Kind: ev.Kind, Object: &obj})
	if err != nil {
		h.logger.Warn("failed to encode object event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow event client", "remote", c.conn.RemoteAddr().String())
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. Incoming messages are discarded.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		h.logger.Debug("event stream upgrade failed", "error", err)
		return
	}

	c := &eventClient{conn: conn, send: make(chan []byte, eventBuffer)}
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	go c.writePump()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

// add registers c with the snapshot queued first. The snapshot is taken
// under h.mu so no event published after it can be missed.
func (h *EventHub) add(c *eventClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	data, err := json.Marshal(EventMessage{Kind: EventSnapshot, Objects: h.snapshot()})
	if err != nil {
		h.logger.Warn("failed to encode object snapshot", "error", err)
		return false
	}
	c.send <- data
	h.clients[c] = struct{}{}
	return true
}

func (h *EventHub) remove(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *EventHub) removeLocked(c *eventClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
