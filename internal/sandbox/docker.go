// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package sandbox provides the sandboxed-run primitive and the backend
// availability probe.
package sandbox

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codedeck-io/codedeck-backend/internal/proc"
)

const (
	probeToken = "sandbox-probe-ok"

	// ctlTimeout bounds docker kill/rm control commands.
	ctlTimeout = 10 * time.Second
)

// Runtime is the contract the session layer provisions against: a probe
// for backend health, a spawn primitive returning a process handle, and
// daemon-side signal delivery for the spawned process.
type Runtime interface {
	// Available reports whether the sandbox backend is installed and the
	// daemon reachable. Memoized after the first determination.
	Available() bool

	// Spawn starts a sandboxed process per spec.
	Spawn(spec RunSpec) (proc.Handle, error)

	// Signal delivers a signal (TERM, KILL, INT) to the named sandboxed
	// process daemon-side. Signaling the attached client is not enough:
	// the client cannot proxy SIGKILL, and without a tty an in-stream
	// break byte never becomes SIGINT.
	Signal(name, sig string) error

	// Remove force-removes the named sandboxed process. Last resort for
	// a container that outlived its handle or refused the kill.
	Remove(name string) error
}

// DockerRuntime drives sandboxed processes through the docker CLI.
type DockerRuntime struct {
	image        string
	probeTimeout time.Duration

	mu        sync.Mutex
	probed    bool
	available bool
}

// NewDockerRuntime creates a runtime using the given sandbox image.
func NewDockerRuntime(image string) *DockerRuntime {
	return &DockerRuntime{
		image:        image,
		probeTimeout: 12 * time.Second,
	}
}

// Available probes the backend on first call and caches the result for the
// rest of the process run.
func (d *DockerRuntime) Available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.probed {
		return d.available
	}
	d.available = d.probe()
	d.probed = true
	return d.available
}

// Recheck clears the cached probe result so the next Available call probes
// again.
func (d *DockerRuntime) Recheck() {
	d.mu.Lock()
	d.probed = false
	d.mu.Unlock()
}

// probe runs a trivial sandboxed workload end to end and verifies its
// output. The docker binary being on PATH does not mean the daemon is
// reachable, so checking for the CLI alone is not enough.
func (d *DockerRuntime) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), d.probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "run", "--rm", d.image, "echo", probeToken).Output()
	if err != nil {
		log.Printf("sandbox: backend unavailable: %v", err)
		return false
	}
	if !strings.Contains(string(out), probeToken) {
		log.Printf("sandbox: probe produced unexpected output %q", strings.TrimSpace(string(out)))
		return false
	}
	log.Printf("sandbox: backend available (image %s)", d.image)
	return true
}

// Spawn starts an interactive shell inside a resource-limited container
// with the workspace mounted and the session's ports published.
func (d *DockerRuntime) Spawn(spec RunSpec) (proc.Handle, error) {
	spec.applyDefaults()
	if spec.Image == "" {
		spec.Image = d.image
	}

	args := runArgs(spec)
	log.Printf("sandbox: starting container %s (image %s, %d ports)", spec.Name, spec.Image, len(spec.Ports))

	h, err := proc.StartCommand("docker", args, "", nil)
	if err != nil {
		return nil, fmt.Errorf("docker run: %w", err)
	}
	return h, nil
}

// Signal delivers a signal to the container's init process.
func (d *DockerRuntime) Signal(name, sig string) error {
	return d.ctl(killArgs(name, sig))
}

// Remove force-removes the container.
func (d *DockerRuntime) Remove(name string) error {
	return d.ctl(removeArgs(name))
}

// ctl runs a short docker control command against a named container.
func (d *DockerRuntime) ctl(args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), ctlTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func killArgs(name, sig string) []string {
	return []string{"kill", "--signal", sig, name}
}

func removeArgs(name string) []string {
	return []string{"rm", "--force", name}
}

// runArgs builds the docker run argument list for a spec. Kept separate
// from Spawn so the translation is testable without docker installed.
func runArgs(spec RunSpec) []string {
	args := []string{
		"run", "--rm", "-i", "--init",
		"--name", spec.Name,
		"--user", spec.User,
		fmt.Sprintf("--cpus=%g", spec.CPUs),
		fmt.Sprintf("--memory=%dm", spec.MemoryMB),
		"-v", fmt.Sprintf("%s:%s", spec.HostDir, spec.MountPath),
		"-w", spec.MountPath,
	}

	pubs := append([]PortPublish(nil), spec.Ports...)
	sort.Slice(pubs, func(i, j int) bool { return pubs[i].Port < pubs[j].Port })
	for _, p := range pubs {
		args = append(args, "-p", fmt.Sprintf("127.0.0.1:%d:%d", p.HostPort, p.Port))
	}

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}

	args = append(args, spec.Image, "/bin/bash")
	return args
}
