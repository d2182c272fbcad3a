// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package workspace materializes project files onto the local filesystem
// before execution and syncs changes back to the project store.
package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrPathTraversal = errors.New("path traversal not allowed")
	ErrNotFound      = errors.New("file or directory not found")
)

// FileInfo contains metadata about a file or directory.
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"is_dir"`
	ModTime time.Time `json:"mod_time"`
}

// Workspace provides scoped filesystem access under one project directory.
// Paths are store-relative; anything escaping the root is rejected.
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace rooted at the given path.
func NewWorkspace(root string) *Workspace {
	// Resolve symlinks in root for consistent comparisons
	// (e.g., on macOS /var -> /private/var).
	absRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		absRoot, _ = filepath.Abs(root)
	}
	return &Workspace{root: absRoot}
}

// Root returns the workspace root path.
func (w *Workspace) Root() string {
	return w.root
}

// resolvePath safely resolves a store-relative path within the workspace.
func (w *Workspace) resolvePath(path string) (string, error) {
	if strings.Contains(path, "..") {
		return "", ErrPathTraversal
	}

	cleaned := strings.TrimPrefix(filepath.Clean(path), "/")
	full := filepath.Join(w.root, cleaned)

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if os.IsNotExist(err) {
			// New file: validate the closest existing parent instead.
			parent := filepath.Dir(full)
			base := filepath.Base(full)
			resolvedParent, parentErr := filepath.EvalSymlinks(parent)
			if parentErr != nil {
				resolvedParent, parentErr = filepath.Abs(parent)
				if parentErr != nil {
					return "", parentErr
				}
			}
			if !isPathWithin(resolvedParent, w.root) {
				return "", ErrPathTraversal
			}
			return filepath.Join(resolvedParent, base), nil
		}
		return "", err
	}

	if !isPathWithin(resolved, w.root) {
		return "", ErrPathTraversal
	}
	return resolved, nil
}

// isPathWithin checks if path equals or lives inside root. Safer than a
// bare prefix check, which would match /workspace-evil against /workspace.
func isPathWithin(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// Read returns the contents of a file.
func (w *Workspace) Read(path string) ([]byte, error) {
	resolved, err := w.resolvePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Write writes content to a file, creating parent directories as needed.
func (w *Workspace) Write(path string, content []byte) error {
	resolved, err := w.resolvePath(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return err
	}
	return os.WriteFile(resolved, content, 0644)
}

// Walk visits every file under the workspace root with its relative path.
func (w *Workspace) Walk(fn func(relPath string, info FileInfo) error) error {
	return filepath.WalkDir(w.root, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		relPath, _ := filepath.Rel(w.root, walkPath)
		if relPath == "." {
			return nil
		}

		return fn(relPath, FileInfo{
			Name:    d.Name(),
			Path:    relPath,
			Size:    info.Size(),
			IsDir:   d.IsDir(),
			ModTime: info.ModTime(),
		})
	})
}
