// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package workspace

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// SyncResult describes the outcome of a materialize or sync-back.
type SyncResult struct {
	Path         string
	FileCount    int
	NewFileCount int
}

// Materializer guarantees a session has an on-disk project directory
// before execution starts, and syncs changes back afterwards.
type Materializer interface {
	SyncToDisk(projectID string) (SyncResult, error)
	SyncFromDisk(projectID string) (SyncResult, error)
	CleanupDirectory(projectID string) bool
}

// LocalMaterializer copies project files from a Store into per-project
// directories under a base path, watching each directory for changes.
type LocalMaterializer struct {
	store Store
	base  string

	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewLocalMaterializer creates a materializer rooted at base.
func NewLocalMaterializer(store Store, base string) *LocalMaterializer {
	return &LocalMaterializer{
		store:    store,
		base:     base,
		watchers: make(map[string]*Watcher),
	}
}

// Dir returns the workspace directory for a project.
func (m *LocalMaterializer) Dir(projectID string) string {
	return filepath.Join(m.base, filepath.Base(projectID))
}

// SyncToDisk writes the project's stored files into its workspace
// directory and starts tracking changes to it.
func (m *LocalMaterializer) SyncToDisk(projectID string) (SyncResult, error) {
	if err := m.store.Project(projectID); err != nil {
		return SyncResult{}, err
	}

	files, err := m.store.Files(projectID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("loading project files: %w", err)
	}

	dir := m.Dir(projectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return SyncResult{}, fmt.Errorf("creating workspace dir: %w", err)
	}

	ws := NewWorkspace(dir)
	count := 0
	for path, content := range files {
		if err := ws.Write(path, content); err != nil {
			return SyncResult{}, fmt.Errorf("writing %s: %w", path, err)
		}
		count++
	}

	m.mu.Lock()
	if _, ok := m.watchers[projectID]; !ok {
		w, err := NewWatcher(ws.Root())
		if err != nil {
			log.Printf("workspace: change tracking disabled for %s: %v", projectID, err)
		} else {
			// Materialization itself fired events; start from a clean slate.
			w.Drain()
			m.watchers[projectID] = w
		}
	}
	m.mu.Unlock()

	log.Printf("workspace: synced %d files for project %s to %s", count, projectID, dir)
	return SyncResult{Path: ws.Root(), FileCount: count}, nil
}

// SyncFromDisk pushes files changed since the last sync back to the store.
// Without a watcher (change tracking unavailable) every file is pushed.
func (m *LocalMaterializer) SyncFromDisk(projectID string) (SyncResult, error) {
	if err := m.store.Project(projectID); err != nil {
		return SyncResult{}, err
	}

	dir := m.Dir(projectID)
	ws := NewWorkspace(dir)

	m.mu.Lock()
	w := m.watchers[projectID]
	m.mu.Unlock()

	if w == nil {
		return m.syncAll(projectID, ws)
	}

	changed, created := w.Drain()
	synced := 0
	for _, rel := range changed {
		data, err := ws.Read(rel)
		if err != nil {
			continue // deleted or unreadable since the event
		}
		if err := m.store.SaveFile(projectID, rel, data); err != nil {
			return SyncResult{}, fmt.Errorf("saving %s: %w", rel, err)
		}
		synced++
	}

	log.Printf("workspace: synced back %d files (%d new) for project %s", synced, created, projectID)
	return SyncResult{Path: ws.Root(), FileCount: synced, NewFileCount: created}, nil
}

func (m *LocalMaterializer) syncAll(projectID string, ws *Workspace) (SyncResult, error) {
	count := 0
	err := ws.Walk(func(rel string, info FileInfo) error {
		if info.IsDir {
			return nil
		}
		data, err := ws.Read(rel)
		if err != nil {
			return err
		}
		if err := m.store.SaveFile(projectID, rel, data); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{Path: ws.Root(), FileCount: count}, nil
}

// CleanupDirectory stops change tracking and removes the project's
// workspace directory.
func (m *LocalMaterializer) CleanupDirectory(projectID string) bool {
	m.mu.Lock()
	if w, ok := m.watchers[projectID]; ok {
		delete(m.watchers, projectID)
		w.Close()
	}
	m.mu.Unlock()

	if err := os.RemoveAll(m.Dir(projectID)); err != nil {
		log.Printf("workspace: cleanup failed for project %s: %v", projectID, err)
		return false
	}
	return true
}

var _ Materializer = (*LocalMaterializer)(nil)
