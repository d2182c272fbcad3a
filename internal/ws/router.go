// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package ws is the websocket transport: each connection gets its own
// identity and drives the session manager through JSON request frames,
// receiving session events back over a write pump.
package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/codedeck-io/codedeck-backend/internal/sessions"
)

// Router upgrades HTTP requests to websocket connections and binds each
// one to the session manager.
type Router struct {
	manager  *sessions.Manager
	upgrader websocket.Upgrader
}

// NewRouter creates a router. allowedOrigins is the comma-separated-style
// list of acceptable Origin values; empty rejects all browser origins.
func NewRouter(m *sessions.Manager, allowedOrigins []string) *Router {
	return &Router{
		manager: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
	}
}

// originAllowed validates an Origin header value. Supports exact matches,
// "*" for all origins, and "http://host:*" for any port on a host.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		// Browsers always send Origin on cross-origin requests; reject.
		return false
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == origin || a == "*" {
			return true
		}
		if strings.HasSuffix(a, ":*") {
			prefix := strings.TrimSuffix(a, "*")
			if strings.HasPrefix(origin, prefix) && isNumeric(strings.TrimPrefix(origin, prefix)) {
				return true
			}
		}
	}
	return false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// HandleWebSocket upgrades the request and starts the connection's pumps.
// The connection identity is minted here; the client never supplies it.
func (r *Router) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	client := newClient(uuid.New().String(), conn, r.manager)
	go client.readPump()
	go client.writePump()
}
