// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package proc wraps OS processes behind a channel-based handle.
//
// A Handle exposes an output channel and an exit notification instead of
// raw pipes, so the session layer can consume process events from a single
// goroutine without caring whether the process runs under a pty or plain
// pipes.
package proc

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Stream identifies which output stream a chunk came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// Chunk is one piece of process output, delivered in the order the
// process produced it.
type Chunk struct {
	Stream Stream
	Data   []byte
}

// ExitStatus describes how a process ended. Code is -1 when the process
// was killed by a signal or the code could not be determined.
type ExitStatus struct {
	Code int
	Err  error
}

// Handle is the contract for a running process: writable input, an output
// channel (closed after the process exits and all output is drained), an
// exit notification, and signal delivery.
type Handle interface {
	Write(p []byte) (int, error)
	Output() <-chan Chunk
	Done() <-chan struct{}
	ExitStatus() ExitStatus
	Signal(sig os.Signal) error
	Kill() error
}

const readBufSize = 32 * 1024

// Command runs a process with separate stdin/stdout/stderr pipes.
type Command struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	output chan Chunk
	done   chan struct{}

	mu     sync.Mutex
	status ExitStatus
}

// StartCommand spawns name with args in dir. A nil env inherits the parent
// environment.
func StartCommand(name string, args []string, dir string, env []string) (*Command, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &Command{
		cmd:    cmd,
		stdin:  stdin,
		output: make(chan Chunk, 64),
		done:   make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go c.read(stdout, Stdout, &readers)
	go c.read(stderr, Stderr, &readers)

	go func() {
		readers.Wait()
		err := cmd.Wait()
		c.mu.Lock()
		c.status = exitStatus(err)
		c.mu.Unlock()
		close(c.done)
		close(c.output)
	}()

	return c, nil
}

func (c *Command) read(r io.Reader, stream Stream, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, readBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.output <- Chunk{Stream: stream, Data: data}
		}
		if err != nil {
			return
		}
	}
}

// Write writes to the process's stdin.
func (c *Command) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

// Output returns the process output channel. Closed after exit.
func (c *Command) Output() <-chan Chunk { return c.output }

// Done closes when the process has exited.
func (c *Command) Done() <-chan struct{} { return c.done }

// ExitStatus is valid once Done is closed.
func (c *Command) ExitStatus() ExitStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Signal sends a signal to the process.
func (c *Command) Signal(sig os.Signal) error {
	if c.cmd.Process == nil {
		return os.ErrProcessDone
	}
	return c.cmd.Process.Signal(sig)
}

// Kill forcefully terminates the process.
func (c *Command) Kill() error {
	if c.cmd.Process == nil {
		return os.ErrProcessDone
	}
	return c.cmd.Process.Kill()
}

func exitStatus(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Code: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ExitStatus{Code: exitErr.ExitCode(), Err: err}
	}
	return ExitStatus{Code: -1, Err: err}
}
