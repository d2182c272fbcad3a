// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package sessions manages execution session lifecycle.
//
// A Session is one client's active execution environment: a sandboxed
// container process when the backend is healthy, a plain host shell
// otherwise. Sessions are ephemeral and single-tenant; when one is stopped
// or its process dies, every associated resource (process, ports,
// registry entry) is reclaimed exactly once.
package sessions

import (
	"sync"
	"time"

	"github.com/codedeck-io/codedeck-backend/internal/proc"
)

// Backend identifies how a session's process is executed.
type Backend string

const (
	BackendSandboxed Backend = "sandboxed"
	BackendFallback  Backend = "fallback"
)

// PreviewEvent is emitted when session output announces an HTTP server.
type PreviewEvent struct {
	SessionID     string `json:"session_id"`
	ProjectID     string `json:"project_id"`
	AnnouncedPort int    `json:"announced_port"`
	URL           string `json:"url"`
}

// Callbacks are the caller-supplied sinks for session events. The session
// invokes them but does not own their lifetime. OnExit fires only for
// unexpected process death, not for an explicit stop.
type Callbacks struct {
	OnOutput  func(data []byte)
	OnError   func(data []byte)
	OnPreview func(ev PreviewEvent)
	OnExit    func(code int)
}

// Session is the per-connection execution environment and its bookkeeping.
type Session struct {
	ID           string
	ConnectionID string
	ProjectID    string
	CreatedAt    time.Time
	WorkDir      string

	callbacks Callbacks

	mu            sync.Mutex
	backend       Backend
	handle        proc.Handle
	containerName string // set while the handle is a sandboxed container
	port          int
	portMap       map[int]int
	active        bool
	initializing  bool // sandboxed spawn not yet confirmed by output
	retried       bool // the single sandboxed→fallback transition happened
	stopped       bool // explicit stop has begun; no replacement may spawn
	gen           int  // bumped when the handle is swapped
	portsTaken    bool

	ready       chan struct{} // closed on first output
	readyOnce   sync.Once
	cleanupOnce sync.Once // workspace sync-back and removal run once
}

// markReady records that the process produced output, which confirms a
// sandboxed spawn.
func (s *Session) markReady() {
	s.readyOnce.Do(func() {
		s.mu.Lock()
		s.initializing = false
		s.mu.Unlock()
		close(s.ready)
	})
}

// genIs reports whether g is still the session's current handle
// generation. Pumps use it to drop chunks buffered in a swapped-out
// handle.
func (s *Session) genIs(g int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == g
}

func (s *Session) isReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Backend returns the session's current backend kind.
func (s *Session) Backend() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// Active reports whether the session's process is still considered live.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Port returns the session's primary host port.
func (s *Session) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// PortMap returns a copy of the logical→host port mapping. Nil for the
// fallback backend, whose mapping is the identity.
func (s *Session) PortMap() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.portMap == nil {
		return nil
	}
	out := make(map[int]int, len(s.portMap))
	for k, v := range s.portMap {
		out[k] = v
	}
	return out
}

// takePorts atomically claims the session's allocated ports for release.
// Returns nil on every call after the first, so the exit path and the stop
// path cannot both release them.
func (s *Session) takePorts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.portsTaken {
		return nil
	}
	s.portsTaken = true

	if s.portMap != nil {
		out := make([]int, 0, len(s.portMap))
		for _, hp := range s.portMap {
			out = append(out, hp)
		}
		return out
	}
	if s.port != 0 {
		return []int{s.port}
	}
	return nil
}

// SessionSummary is the operational view of a session.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	ConnectionID string    `json:"connection_id"`
	ProjectID    string    `json:"project_id"`
	Backend      Backend   `json:"backend"`
	Port         int       `json:"port"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Session) summary() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSummary{
		SessionID:    s.ID,
		ConnectionID: s.ConnectionID,
		ProjectID:    s.ProjectID,
		Backend:      s.backend,
		Port:         s.port,
		CreatedAt:    s.CreatedAt,
	}
}
