// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package ports hands out free host ports for sessions. Every allocated
// port is reserved in an in-use set until released, so two concurrently
// active sessions can never be assigned the same host port even if the
// OS would happily rebind it between checks.
package ports

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

var ErrNoFreePorts = errors.New("no free ports in range")

// DefaultServicePorts are the logical ports a session's code commonly
// binds; each gets its own host-port mapping when the session is sandboxed.
var DefaultServicePorts = []int{3000, 3001, 4000, 5000, 5173, 8000, 8080, 9000}

// Allocator allocates host ports from a fixed range.
type Allocator struct {
	mu    sync.Mutex
	min   int
	max   int
	next  int
	inUse map[int]bool
}

// NewAllocator creates an allocator for the inclusive range [min, max].
func NewAllocator(min, max int) *Allocator {
	return &Allocator{
		min:   min,
		max:   max,
		next:  min,
		inUse: make(map[int]bool),
	}
}

// Allocate reserves and returns a free port. The port is verified bindable
// at allocation time and stays reserved until Release is called.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.max - a.min + 1
	for i := 0; i < size; i++ {
		port := a.next
		a.next++
		if a.next > a.max {
			a.next = a.min
		}

		if a.inUse[port] {
			continue
		}
		if !bindable(port) {
			continue
		}
		a.inUse[port] = true
		return port, nil
	}

	return 0, ErrNoFreePorts
}

// AllocateMap reserves one host port per logical service port. On any
// failure the ports already taken are released and an error is returned.
func (a *Allocator) AllocateMap(logical []int) (map[int]int, error) {
	portMap := make(map[int]int, len(logical))
	for _, lp := range logical {
		hp, err := a.Allocate()
		if err != nil {
			for _, taken := range portMap {
				a.Release(taken)
			}
			return nil, err
		}
		portMap[lp] = hp
	}
	return portMap, nil
}

// Release returns ports to the pool. Releasing a port that is not
// reserved is a no-op.
func (a *Allocator) Release(ports ...int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range ports {
		delete(a.inUse, p)
	}
}

// Reserved returns the number of currently reserved ports.
func (a *Allocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}

// bindable checks that the port can actually be bound right now. Something
// outside the allocator may already be listening on it.
func bindable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
