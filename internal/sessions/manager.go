// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package sessions

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/codedeck-io/codedeck-backend/internal/id"
	"github.com/codedeck-io/codedeck-backend/internal/ports"
	"github.com/codedeck-io/codedeck-backend/internal/preview"
	"github.com/codedeck-io/codedeck-backend/internal/proc"
	"github.com/codedeck-io/codedeck-backend/internal/sandbox"
	"github.com/codedeck-io/codedeck-backend/internal/workspace"
)

var (
	ErrInvalidProject = errors.New("invalid project id")
	ErrWorkspaceSync  = errors.New("workspace sync failed")
	ErrSpawnFailed    = errors.New("could not start session process")
)

// Config tunes session provisioning and teardown.
type Config struct {
	// SandboxImage is the container image sandboxed sessions run in.
	SandboxImage string

	// SandboxCPUs and SandboxMemoryMB are per-session resource limits.
	SandboxCPUs     float64
	SandboxMemoryMB int

	// Shell overrides the fallback shell binary. Empty picks the default.
	Shell string

	// PreviewHost is the hostname used in preview URLs.
	PreviewHost string

	// ServicePorts are the logical in-sandbox ports that get host mappings.
	// The first entry's mapping is the session's primary port.
	ServicePorts []int

	// InitTimeout bounds how long a sandboxed spawn may stay silent before
	// the session is retried on the fallback backend.
	InitTimeout time.Duration

	// GraceTimeout and TermTimeout pace the stop escalation: exit directive,
	// then SIGTERM, then SIGKILL.
	GraceTimeout time.Duration
	TermTimeout  time.Duration

	// SpawnFallback overrides how fallback shells are started. Nil uses a
	// pty-backed host shell.
	SpawnFallback func(shell, dir string) (proc.Handle, error)
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		SandboxImage:    "codedeck-sandbox:latest",
		SandboxCPUs:     1,
		SandboxMemoryMB: 1024,
		PreviewHost:     "localhost",
		ServicePorts:    ports.DefaultServicePorts,
		InitTimeout:     15 * time.Second,
		GraceTimeout:    1500 * time.Millisecond,
		TermTimeout:     3 * time.Second,
	}
}

// Result is what a successful CreateSession returns to the transport.
type Result struct {
	SessionID string  `json:"session_id"`
	Backend   Backend `json:"backend"`
	Port      int     `json:"port"`
}

// Manager owns the connection→session registry and the full session
// lifecycle: provisioning, output routing, fallback recovery, and teardown.
type Manager struct {
	cfg          Config
	runtime      sandbox.Runtime
	materializer workspace.Materializer
	alloc        *ports.Allocator

	mu       sync.Mutex
	sessions map[string]*Session

	createMu sync.Mutex
	creating map[string]*sync.Mutex
}

// NewManager wires a manager from its collaborators.
func NewManager(cfg Config, rt sandbox.Runtime, mat workspace.Materializer, alloc *ports.Allocator) *Manager {
	return &Manager{
		cfg:          cfg,
		runtime:      rt,
		materializer: mat,
		alloc:        alloc,
		sessions:     make(map[string]*Session),
		creating:     make(map[string]*sync.Mutex),
	}
}

// connLock serializes session creation per connection, so two racing
// create requests for the same client cannot both provision.
func (m *Manager) connLock(connectionID string) *sync.Mutex {
	m.createMu.Lock()
	defer m.createMu.Unlock()
	l, ok := m.creating[connectionID]
	if !ok {
		l = &sync.Mutex{}
		m.creating[connectionID] = l
	}
	return l
}

func isPlaceholderProject(projectID string) bool {
	switch strings.TrimSpace(projectID) {
	case "", "undefined", "null":
		return true
	}
	return false
}

// CreateSession provisions an execution environment for a connection. An
// existing session for the same connection is stopped and replaced. The
// sandbox backend is preferred; when it is unavailable or fails to spawn,
// the session starts on a host shell instead.
func (m *Manager) CreateSession(connectionID, projectID string, cb Callbacks) (Result, error) {
	if isPlaceholderProject(projectID) {
		return Result{}, ErrInvalidProject
	}

	lock := m.connLock(connectionID)
	lock.Lock()
	defer lock.Unlock()

	// Replacement is synchronous: the old session must be fully torn down
	// before the new workspace is materialized, or its cleanup could race
	// the replacement's files. Only this connection waits.
	if old := m.take(connectionID); old != nil {
		log.Printf("sessions: replacing existing session for connection %s", connectionID)
		m.terminate(old)
	}

	synced, err := m.materializer.SyncToDisk(projectID)
	if err != nil {
		if errors.Is(err, workspace.ErrUnknownProject) {
			return Result{}, ErrInvalidProject
		}
		return Result{}, fmt.Errorf("%w: %v", ErrWorkspaceSync, err)
	}

	sessionID, err := id.New()
	if err != nil {
		return Result{}, err
	}

	sess := &Session{
		ID:           sessionID,
		ConnectionID: connectionID,
		ProjectID:    projectID,
		CreatedAt:    time.Now(),
		WorkDir:      synced.Path,
		callbacks:    cb,
		ready:        make(chan struct{}),
	}

	if m.runtime.Available() {
		res, err := m.startSandboxed(sess)
		if err == nil {
			return res, nil
		}
		log.Printf("sessions: sandboxed spawn failed for connection %s: %v", connectionID, err)
		// Spawn failure consumes the one retry this session gets.
		sess.retried = true
	}

	res, err := m.startFallbackSession(sess)
	if err != nil {
		m.releaseWorkspace(sess)
		return Result{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	return res, nil
}

func (m *Manager) startSandboxed(sess *Session) (Result, error) {
	portMap, err := m.alloc.AllocateMap(m.cfg.ServicePorts)
	if err != nil {
		return Result{}, err
	}

	pubs := make([]sandbox.PortPublish, 0, len(portMap))
	for lp, hp := range portMap {
		pubs = append(pubs, sandbox.PortPublish{HostPort: hp, Port: lp})
	}

	spec := sandbox.RunSpec{
		Name:     "codedeck-" + sess.ID[:12],
		Image:    m.cfg.SandboxImage,
		CPUs:     m.cfg.SandboxCPUs,
		MemoryMB: m.cfg.SandboxMemoryMB,
		HostDir:  sess.WorkDir,
		Ports:    pubs,
	}

	h, err := m.runtime.Spawn(spec)
	if err != nil {
		released := make([]int, 0, len(portMap))
		for _, hp := range portMap {
			released = append(released, hp)
		}
		m.alloc.Release(released...)
		return Result{}, err
	}

	primary := 0
	if len(m.cfg.ServicePorts) > 0 {
		primary = portMap[m.cfg.ServicePorts[0]]
	}

	sess.mu.Lock()
	sess.backend = BackendSandboxed
	sess.containerName = spec.Name
	sess.portMap = portMap
	sess.port = primary
	sess.handle = h
	sess.active = true
	sess.initializing = true
	sess.gen++
	gen := sess.gen
	sess.mu.Unlock()

	m.register(sess)
	go m.pump(sess, h, gen)
	go m.watchInit(sess, h)

	log.Printf("sessions: sandboxed session %s started for connection %s (port %d)", sess.ID, sess.ConnectionID, primary)
	return Result{SessionID: sess.ID, Backend: BackendSandboxed, Port: primary}, nil
}

// startFallbackSession provisions a brand-new fallback session. Recovery
// of an already-registered session goes through retryFallback instead.
func (m *Manager) startFallbackSession(sess *Session) (Result, error) {
	if sess.port == 0 {
		port, err := m.alloc.Allocate()
		if err != nil {
			return Result{}, err
		}
		sess.port = port
	}

	if err := m.startFallback(sess); err != nil {
		m.alloc.Release(sess.takePorts()...)
		return Result{}, err
	}

	m.register(sess)
	log.Printf("sessions: fallback session %s started for connection %s (port %d)", sess.ID, sess.ConnectionID, sess.Port())
	return Result{SessionID: sess.ID, Backend: BackendFallback, Port: sess.Port()}, nil
}

// startFallback swaps the session onto a host shell and starts its pump.
func (m *Manager) startFallback(sess *Session) error {
	h, err := m.spawnFallback(sess.WorkDir)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	sess.backend = BackendFallback
	sess.containerName = ""
	sess.portMap = nil
	sess.handle = h
	sess.active = true
	sess.initializing = false
	sess.gen++
	gen := sess.gen
	sess.mu.Unlock()

	go m.pump(sess, h, gen)
	return nil
}

func (m *Manager) spawnFallback(dir string) (proc.Handle, error) {
	if m.cfg.SpawnFallback != nil {
		return m.cfg.SpawnFallback(m.cfg.Shell, dir)
	}
	return proc.StartShell(m.cfg.Shell, dir, nil)
}

// pump drains one handle's output into the session callbacks, scanning
// each chunk for a server announcement, then settles the exit. A pump is
// bound to the handle generation it was started with; after a fallback
// swap the stale pump drops whatever was still buffered in the dead
// handle and its exit handling is a no-op.
func (m *Manager) pump(sess *Session, h proc.Handle, gen int) {
	for chunk := range h.Output() {
		if !sess.genIs(gen) {
			continue
		}
		sess.markReady()

		if p, ok := preview.Detect(string(chunk.Data), sess.PortMap(), m.cfg.PreviewHost); ok {
			if sess.callbacks.OnPreview != nil {
				sess.callbacks.OnPreview(PreviewEvent{
					SessionID:     sess.ID,
					ProjectID:     sess.ProjectID,
					AnnouncedPort: p.AnnouncedPort,
					URL:           p.URL,
				})
			}
		}

		switch chunk.Stream {
		case proc.Stderr:
			if sess.callbacks.OnError != nil {
				sess.callbacks.OnError(chunk.Data)
			}
		default:
			if sess.callbacks.OnOutput != nil {
				sess.callbacks.OnOutput(chunk.Data)
			}
		}
	}
	<-h.Done()

	sess.mu.Lock()
	deferToInit := sess.initializing && sess.gen == gen
	sess.mu.Unlock()
	if deferToInit {
		// Died before producing any output; the init watcher decides
		// whether this becomes a fallback retry.
		return
	}
	m.finishExit(sess, h, gen)
}

// watchInit waits for a sandboxed spawn to confirm itself with output. A
// silent timeout or an exit before any output triggers the single
// fallback retry.
func (m *Manager) watchInit(sess *Session, h proc.Handle) {
	timer := time.NewTimer(m.cfg.InitTimeout)
	defer timer.Stop()

	select {
	case <-sess.ready:
		return
	case <-h.Done():
		if sess.isReady() {
			return // output arrived; the pump settles the exit
		}
		m.retryFallback(sess, h, "sandboxed process exited before producing output")
	case <-timer.C:
		m.retryFallback(sess, h, "no output within init timeout")
	}
}

// retryFallback replaces a dead-on-arrival sandboxed handle with a host
// shell, keeping the session ID and primary port. Runs at most once per
// session.
func (m *Manager) retryFallback(sess *Session, old proc.Handle, reason string) {
	if sess.isReady() {
		return
	}

	sess.mu.Lock()
	if sess.retried || sess.stopped || !sess.active || sess.handle != old {
		sess.mu.Unlock()
		return
	}
	sess.retried = true
	sess.initializing = false
	sess.gen++ // invalidate the old pump's forwarding and exit handling
	name := sess.containerName
	released := sess.portMap
	sess.portMap = nil
	primary := sess.port
	sess.mu.Unlock()

	log.Printf("sessions: %s for connection %s, retrying on fallback shell", reason, sess.ConnectionID)
	if name != "" {
		// Killing the attached client would leave the container running.
		if err := m.runtime.Remove(name); err != nil {
			log.Printf("sessions: container removal failed for session %s: %v", sess.ID, err)
		}
	}
	old.Kill()

	// The primary port stays reserved for the replacement session.
	extras := make([]int, 0, len(released))
	for _, hp := range released {
		if hp != primary {
			extras = append(extras, hp)
		}
	}
	m.alloc.Release(extras...)

	if err := m.startFallback(sess); err != nil {
		log.Printf("sessions: fallback spawn failed for connection %s: %v", sess.ConnectionID, err)
		m.removeSession(sess)
		m.alloc.Release(sess.takePorts()...)
		m.releaseWorkspace(sess)
		return
	}

	// A concurrent stop may have fired between the checks above and the
	// spawn. Whoever observes both the stop and the new handle kills it.
	sess.mu.Lock()
	if sess.stopped {
		h := sess.handle
		sess.mu.Unlock()
		h.Kill()
		return
	}
	sess.mu.Unlock()
}

// finishExit settles a process exit for the given handle generation:
// marks the session inactive, removes it from the registry, and releases
// its ports.
func (m *Manager) finishExit(sess *Session, h proc.Handle, gen int) {
	sess.mu.Lock()
	if sess.gen != gen {
		sess.mu.Unlock()
		return
	}
	wasActive := sess.active
	sess.active = false
	sess.mu.Unlock()

	removed := m.removeSession(sess)
	m.alloc.Release(sess.takePorts()...)
	m.releaseWorkspace(sess)

	if removed && wasActive {
		st := h.ExitStatus()
		log.Printf("sessions: session %s process exited (code %d)", sess.ID, st.Code)
		if sess.callbacks.OnExit != nil {
			sess.callbacks.OnExit(st.Code)
		}
	}
}

// releaseWorkspace persists whatever the session wrote back to the store
// and drops the scratch directory unless another live session still uses
// the same project. Runs at most once per session.
func (m *Manager) releaseWorkspace(sess *Session) {
	sess.cleanupOnce.Do(func() {
		if _, err := m.materializer.SyncFromDisk(sess.ProjectID); err != nil {
			log.Printf("sessions: workspace sync back failed for project %s: %v", sess.ProjectID, err)
		}
		if !m.projectInUse(sess.ProjectID) {
			m.materializer.CleanupDirectory(sess.ProjectID)
		}
	})
}

func (m *Manager) projectInUse(projectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ProjectID == projectID {
			return true
		}
	}
	return false
}

// ExecCommand writes a command line to the session's process. Returns
// false when no live session exists for the connection or the write fails.
func (m *Manager) ExecCommand(connectionID, command string) bool {
	sess := m.get(connectionID)
	if sess == nil {
		return false
	}

	sess.mu.Lock()
	h, active := sess.handle, sess.active
	sess.mu.Unlock()
	if !active || h == nil {
		return false
	}

	if _, err := h.Write([]byte(command + "\n")); err != nil {
		log.Printf("sessions: command write failed for connection %s: %v", connectionID, err)
		sess.mu.Lock()
		sess.active = false
		sess.mu.Unlock()
		return false
	}
	return true
}

// Interrupt sends a break to the session's foreground job. Sandboxed
// sessions take a daemon-side SIGINT: the attached client has no tty, so
// an in-stream 0x03 would arrive in the container as a plain input byte.
// Fallback shells take the 0x03 through the pty line discipline, plus a
// process-level SIGINT in case the line discipline swallowed it.
func (m *Manager) Interrupt(connectionID string) bool {
	sess := m.get(connectionID)
	if sess == nil {
		return false
	}

	sess.mu.Lock()
	h, active, backend, name := sess.handle, sess.active, sess.backend, sess.containerName
	sess.mu.Unlock()
	if !active || h == nil {
		return false
	}

	if backend == BackendSandboxed {
		if err := m.runtime.Signal(name, "INT"); err != nil {
			log.Printf("sessions: interrupt failed for session %s: %v", sess.ID, err)
			return false
		}
		return true
	}

	_, err := h.Write([]byte{0x03})
	h.Signal(os.Interrupt)
	return err == nil
}

// StopSession removes the connection's session from the registry and
// begins teardown. The caller does not wait for the process to die; the
// escalation runs in the background.
func (m *Manager) StopSession(connectionID string) bool {
	sess := m.take(connectionID)
	if sess == nil {
		return false
	}
	go m.terminate(sess)
	return true
}

// take removes and returns the connection's session, or nil.
func (m *Manager) take(connectionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[connectionID]
	if ok {
		delete(m.sessions, connectionID)
	}
	return sess
}

// terminate escalates until the session's process is gone: a polite exit
// directive, then SIGTERM, then SIGKILL. For sandboxed sessions both
// signals go through the runtime to the container itself, not to the
// attached client, which could not proxy a SIGKILL and would die leaving
// the container (and its published ports) behind. Ports are released
// exactly once regardless of which step lands.
func (m *Manager) terminate(sess *Session) {
	sess.mu.Lock()
	sess.stopped = true
	sess.active = false
	h := sess.handle
	name := sess.containerName
	sess.mu.Unlock()

	defer func() {
		m.alloc.Release(sess.takePorts()...)
		m.releaseWorkspace(sess)
	}()

	if h == nil {
		return
	}

	h.Write([]byte("exit\n"))
	select {
	case <-h.Done():
		return
	case <-time.After(m.cfg.GraceTimeout):
	}

	if name != "" {
		if err := m.runtime.Signal(name, "TERM"); err != nil {
			log.Printf("sessions: container TERM failed for session %s: %v", sess.ID, err)
		}
	} else {
		h.Signal(syscall.SIGTERM)
	}
	select {
	case <-h.Done():
		return
	case <-time.After(m.cfg.TermTimeout):
	}

	log.Printf("sessions: force killing process for session %s", sess.ID)
	if name != "" {
		if err := m.runtime.Signal(name, "KILL"); err != nil {
			log.Printf("sessions: container KILL failed for session %s: %v", sess.ID, err)
			m.runtime.Remove(name)
		}
		select {
		case <-h.Done():
			return
		case <-time.After(m.cfg.TermTimeout):
			// The daemon never reported the exit; reap the client too.
		}
	}
	h.Kill()
	<-h.Done()
}

// Cleanup stops every session and waits for all teardowns to finish.
// Used on server shutdown.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	if len(all) == 0 {
		return
	}
	log.Printf("sessions: stopping %d active sessions", len(all))

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			m.terminate(s)
		}(s)
	}
	wg.Wait()
}

// ListActiveSessions snapshots the registry for operational visibility.
func (m *Manager) ListActiveSessions() []SessionSummary {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := make([]SessionSummary, 0, len(all))
	for _, s := range all {
		out = append(out, s.summary())
	}
	return out
}

// Session returns the live session for a connection, or nil.
func (m *Manager) Session(connectionID string) *Session {
	return m.get(connectionID)
}

func (m *Manager) get(connectionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[connectionID]
}

func (m *Manager) register(sess *Session) {
	m.mu.Lock()
	m.sessions[sess.ConnectionID] = sess
	m.mu.Unlock()
}

// removeSession deletes the session from the registry only if it is still
// the current entry for its connection; a replacement stays untouched.
func (m *Manager) removeSession(sess *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[sess.ConnectionID]; ok && cur == sess {
		delete(m.sessions, sess.ConnectionID)
		return true
	}
	return false
}
