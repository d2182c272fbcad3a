// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package proc

import (
	"os"
	"sync"
	"syscall"
)

// MockHandle implements Handle for tests without real processes. Output is
// scripted with Emit and termination with ExitWith; writes and signals are
// recorded for assertions.
type MockHandle struct {
	mu      sync.Mutex
	writes  [][]byte
	signals []os.Signal
	exited  bool
	status  ExitStatus

	output chan Chunk
	done   chan struct{}

	// WriteErr makes Write fail, simulating a broken stdin pipe.
	WriteErr error

	// IgnoreSignals keeps the mock alive through SIGTERM, forcing the
	// stop path to escalate to Kill.
	IgnoreSignals bool
}

// NewMockHandle creates a mock process handle.
func NewMockHandle() *MockHandle {
	return &MockHandle{
		output: make(chan Chunk, 256),
		done:   make(chan struct{}),
	}
}

// Emit scripts an output chunk. No-op once the mock has exited.
func (m *MockHandle) Emit(stream Stream, data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		return
	}
	m.output <- Chunk{Stream: stream, Data: []byte(data)}
}

// ExitWith ends the mock process with the given code. Idempotent.
func (m *MockHandle) ExitWith(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		return
	}
	m.exited = true
	m.status = ExitStatus{Code: code}
	close(m.output)
	close(m.done)
}

func (m *MockHandle) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	if m.exited {
		return 0, os.ErrClosed
	}
	data := make([]byte, len(p))
	copy(data, p)
	m.writes = append(m.writes, data)
	return len(p), nil
}

func (m *MockHandle) Output() <-chan Chunk { return m.output }

func (m *MockHandle) Done() <-chan struct{} { return m.done }

func (m *MockHandle) ExitStatus() ExitStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *MockHandle) Signal(sig os.Signal) error {
	m.mu.Lock()
	m.signals = append(m.signals, sig)
	ignore := m.IgnoreSignals
	m.mu.Unlock()

	if !ignore && (sig == syscall.SIGTERM || sig == syscall.SIGKILL) {
		m.ExitWith(-1)
	}
	return nil
}

func (m *MockHandle) Kill() error {
	m.ExitWith(-1)
	return nil
}

// Writes returns everything written to the mock's stdin.
func (m *MockHandle) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	for i, w := range m.writes {
		out[i] = string(w)
	}
	return out
}

// Signals returns the signals delivered to the mock.
func (m *MockHandle) Signals() []os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]os.Signal(nil), m.signals...)
}

// Exited reports whether the mock process has ended.
func (m *MockHandle) Exited() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exited
}

var _ Handle = (*MockHandle)(nil)
