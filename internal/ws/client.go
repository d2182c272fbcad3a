// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codedeck-io/codedeck-backend/internal/sessions"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// sendBuf bounds how far a slow client may fall behind before output
	// frames are dropped.
	sendBuf = 256
)

// Request is a client→server frame.
type Request struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id,omitempty"`
	Command   string `json:"command,omitempty"`
}

// Event is a server→client frame.
type Event struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id,omitempty"`
	Backend       string `json:"backend,omitempty"`
	Port          int    `json:"port,omitempty"`
	Data          string `json:"data,omitempty"`
	AnnouncedPort int    `json:"announced_port,omitempty"`
	URL           string `json:"url,omitempty"`
	ExitCode      *int   `json:"exit_code,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Client owns one websocket connection and its session. The read pump is
// the only goroutine that talks to the manager; session callbacks feed the
// send channel, which the write pump drains.
type Client struct {
	id      string
	conn    *websocket.Conn
	manager *sessions.Manager

	mu     sync.Mutex
	closed bool
	send   chan Event
}

func newClient(id string, conn *websocket.Conn, m *sessions.Manager) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		manager: m,
		send:    make(chan Event, sendBuf),
	}
}

// enqueue hands an event to the write pump. Non-blocking: a client that
// cannot keep up loses frames instead of stalling the session pump.
func (c *Client) enqueue(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
		log.Printf("ws: dropping %s frame for connection %s", ev.Type, c.id)
	}
}

// shutdown stops the write pump and the session. Safe to call once per
// connection; guarded by the closed flag.
func (c *Client) shutdown() {
	c.manager.StopSession(c.id)

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error on connection %s: %v", c.id, err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.enqueue(Event{Type: "error", Message: "invalid message"})
			continue
		}
		c.handleRequest(req)
	}
}

func (c *Client) handleRequest(req Request) {
	switch req.Type {
	case "create_session":
		res, err := c.manager.CreateSession(c.id, req.ProjectID, c.callbacks())
		if err != nil {
			c.enqueue(Event{Type: "error", Message: err.Error()})
			return
		}
		c.enqueue(Event{
			Type:      "created",
			SessionID: res.SessionID,
			Backend:   string(res.Backend),
			Port:      res.Port,
		})

	case "exec":
		if !c.manager.ExecCommand(c.id, req.Command) {
			c.enqueue(Event{Type: "error", Message: "no active session"})
		}

	case "interrupt":
		if !c.manager.Interrupt(c.id) {
			c.enqueue(Event{Type: "error", Message: "no active session"})
		}

	case "stop":
		if c.manager.StopSession(c.id) {
			c.enqueue(Event{Type: "stopped"})
		} else {
			c.enqueue(Event{Type: "error", Message: "no active session"})
		}

	case "ping":
		// Client keepalive; presence is enough.

	default:
		log.Printf("ws: unknown request type %q on connection %s", req.Type, c.id)
		c.enqueue(Event{Type: "error", Message: "unknown request type"})
	}
}

// callbacks routes session events onto this connection's send channel.
func (c *Client) callbacks() sessions.Callbacks {
	return sessions.Callbacks{
		OnOutput: func(data []byte) {
			c.enqueue(Event{Type: "output", Data: string(data)})
		},
		OnError: func(data []byte) {
			c.enqueue(Event{Type: "error", Data: string(data)})
		},
		OnPreview: func(ev sessions.PreviewEvent) {
			c.enqueue(Event{
				Type:          "preview",
				SessionID:     ev.SessionID,
				AnnouncedPort: ev.AnnouncedPort,
				URL:           ev.URL,
			})
		},
		OnExit: func(code int) {
			c.enqueue(Event{Type: "exited", ExitCode: &code})
		},
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
