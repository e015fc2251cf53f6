// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_capture/internal/command"
	"github.com/relabs-tech/imu_capture/internal/session"
)

const (
	socketBufferSize  = 1024
	messageBufferSize = 16
	writeWait         = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  socketBufferSize,
	WriteBufferSize: socketBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true // tools are served from other ports on the LAN
	},
}

// EventKind tells websocket clients what an Event carries.
type EventKind string

const (
	EventReply   EventKind = "reply"
	EventSession EventKind = "session"
)

// Event is one message pushed to /ws/events clients.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Reply   *command.Reply  `json:"reply,omitempty"`
	Session *session.Status `json:"session,omitempty"`
	Time    time.Time       `json:"time"`
}

type eventClient struct {
	send chan []byte
}

// Hub fans events out to every connected websocket client. Slow clients
// miss events rather than stall the hub.
type Hub struct {
	mu      sync.Mutex
	clients map[*eventClient]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*eventClient]struct{})}
}

// Len is the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish sends e to every client.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		log.Errorf("events: marshal: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			log.Debugf("events: client queue full, event dropped")
		}
	}
}

func (h *Hub) join(c *eventClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Debugf("events: client joined")
}

func (h *Hub) leave(c *eventClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	log.Debugf("events: client left")
}

// ServeHTTP upgrades the request and streams events until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("events: upgrade: %v", err)
		return
	}
	c := &eventClient{send: make(chan []byte, messageBufferSize)}
	h.join(c)

	go func() {
		defer conn.Close()
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.leave(c)
}
