// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package sandbox

// DefaultMountPath is where the session workspace is mounted inside the
// sandbox.
const DefaultMountPath = "/workspace"

// DefaultUser is the non-root identity user code runs as.
const DefaultUser = "1000:1000"

// PortPublish maps a host port to a port inside the sandbox.
type PortPublish struct {
	HostPort int
	Port     int
}

// RunSpec defines one sandboxed session process: the image, resource
// limits, the workspace mount, and the published ports.
type RunSpec struct {
	// Name is the container name; must be unique per session.
	Name string

	// Image is the sandbox image to run.
	Image string

	// CPUs limits the CPU share (fractions allowed).
	CPUs float64

	// MemoryMB limits memory in megabytes.
	MemoryMB int

	// HostDir is mounted read-write at MountPath inside the sandbox.
	HostDir string

	// MountPath is the in-sandbox workspace path. Empty means
	// DefaultMountPath.
	MountPath string

	// User is the execution identity. Empty means DefaultUser.
	User string

	// Ports are the host→sandbox port publishes.
	Ports []PortPublish

	// Env is extra environment for the sandboxed process.
	Env map[string]string
}

// applyDefaults fills the spec's optional fields.
func (s *RunSpec) applyDefaults() {
	if s.MountPath == "" {
		s.MountPath = DefaultMountPath
	}
	if s.User == "" {
		s.User = DefaultUser
	}
	if s.CPUs == 0 {
		s.CPUs = 1
	}
	if s.MemoryMB == 0 {
		s.MemoryMB = 512
	}
}
