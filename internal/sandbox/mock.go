// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/codedeck-io/codedeck-backend/internal/proc"
)

var ErrSpawnRefused = errors.New("mock runtime refused spawn")

// MockRuntime implements Runtime for testing without docker. Signals and
// removals are recorded and, by default, delivered to the spawned
// MockHandle the way the daemon would: TERM as a catchable signal, KILL
// and Remove as an unconditional kill.
type MockRuntime struct {
	mu        sync.Mutex
	specs     []RunSpec
	handles   map[string]*proc.MockHandle
	signalLog []string
	removed   []string

	// AvailableFlag is what Available reports.
	AvailableFlag bool

	// FailSpawn causes Spawn to fail.
	FailSpawn bool

	// NewHandle builds the handle returned by Spawn. Nil means a fresh
	// MockHandle per spawn.
	NewHandle func(spec RunSpec) proc.Handle

	// SignalFunc and RemoveFunc override the default delivery.
	SignalFunc func(name, sig string) error
	RemoveFunc func(name string) error
}

// NewMockRuntime creates an available mock runtime.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{
		AvailableFlag: true,
		handles:       make(map[string]*proc.MockHandle),
	}
}

func (m *MockRuntime) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AvailableFlag
}

func (m *MockRuntime) Spawn(spec RunSpec) (proc.Handle, error) {
	m.mu.Lock()
	fail := m.FailSpawn
	newHandle := m.NewHandle
	if !fail {
		m.specs = append(m.specs, spec)
	}
	m.mu.Unlock()

	if fail {
		return nil, ErrSpawnRefused
	}

	var h proc.Handle
	if newHandle != nil {
		h = newHandle(spec)
	} else {
		h = proc.NewMockHandle()
	}
	if mh, ok := h.(*proc.MockHandle); ok {
		m.mu.Lock()
		m.handles[spec.Name] = mh
		m.mu.Unlock()
	}
	return h, nil
}

func (m *MockRuntime) Signal(name, sig string) error {
	m.mu.Lock()
	m.signalLog = append(m.signalLog, name+":"+sig)
	h := m.handles[name]
	fn := m.SignalFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(name, sig)
	}
	if h == nil {
		return fmt.Errorf("no such container %s", name)
	}
	switch sig {
	case "TERM":
		h.Signal(syscall.SIGTERM)
	case "INT":
		h.Signal(os.Interrupt)
	case "KILL":
		h.Kill()
	}
	return nil
}

func (m *MockRuntime) Remove(name string) error {
	m.mu.Lock()
	m.removed = append(m.removed, name)
	h := m.handles[name]
	fn := m.RemoveFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(name)
	}
	if h != nil {
		h.Kill()
	}
	return nil
}

// SpawnCount returns how many spawns succeeded.
func (m *MockRuntime) SpawnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.specs)
}

// LastSpec returns the spec of the most recent spawn.
func (m *MockRuntime) LastSpec() RunSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.specs) == 0 {
		return RunSpec{}
	}
	return m.specs[len(m.specs)-1]
}

// Signals returns the delivered name:signal pairs in order.
func (m *MockRuntime) Signals() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.signalLog...)
}

// Removed returns the force-removed container names in order.
func (m *MockRuntime) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

var _ Runtime = (*MockRuntime)(nil)
