// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package proc

import (
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// DefaultShell returns the preferred shell for interactive sessions.
// Honors SHELL when set, otherwise falls back to /bin/bash or /bin/sh.
func DefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	if _, err := os.Stat("/bin/bash"); err == nil {
		return "/bin/bash"
	}
	return "/bin/sh"
}

// Shell runs an interactive shell on a pty. The pty merges stdout and
// stderr, so every chunk is Stdout-kind; in exchange the line discipline
// makes an in-stream 0x03 deliver SIGINT to the foreground job, which
// plain pipes cannot do.
type Shell struct {
	cmd  *exec.Cmd
	ptmx *os.File

	output chan Chunk
	done   chan struct{}

	mu     sync.Mutex
	status ExitStatus
	closed bool
}

// StartShell spawns an interactive shell rooted at dir. An empty shell
// selects DefaultShell. A nil env inherits the parent environment.
func StartShell(shell, dir string, env []string) (*Shell, error) {
	if shell == "" {
		shell = DefaultShell()
	}

	cmd := exec.Command(shell)
	cmd.Dir = dir
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(env, "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 120, Rows: 32})
	if err != nil {
		return nil, err
	}

	s := &Shell{
		cmd:    cmd,
		ptmx:   ptmx,
		output: make(chan Chunk, 64),
		done:   make(chan struct{}),
	}

	// The reader owns the output channel: once the child exits the pty
	// read fails (EIO on Linux) and the channel is closed.
	go func() {
		buf := make([]byte, readBufSize)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				s.output <- Chunk{Stream: Stdout, Data: data}
			}
			if err != nil {
				close(s.output)
				return
			}
		}
	}()

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.status = exitStatus(err)
		s.mu.Unlock()
		close(s.done)
		ptmx.Close()
	}()

	return s, nil
}

// Write writes input to the pty.
func (s *Shell) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, os.ErrClosed
	}
	f := s.ptmx
	s.mu.Unlock()
	return f.Write(p)
}

// Output returns the shell output channel. Closed after exit.
func (s *Shell) Output() <-chan Chunk { return s.output }

// Done closes when the shell process has exited.
func (s *Shell) Done() <-chan struct{} { return s.done }

// ExitStatus is valid once Done is closed.
func (s *Shell) ExitStatus() ExitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Signal sends a signal to the shell process.
func (s *Shell) Signal(sig os.Signal) error {
	if s.cmd.Process == nil {
		return os.ErrProcessDone
	}
	return s.cmd.Process.Signal(sig)
}

// Kill terminates the shell and closes the pty.
func (s *Shell) Kill() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return nil
}
