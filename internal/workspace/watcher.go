// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package workspace

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher tracks which files changed in a materialized workspace so a
// sync back to the store only touches what the session actually wrote.
// Repeated events for the same file coalesce into a single pending change.
type Watcher struct {
	root string
	fsw  *fsnotify.Watcher

	mu      sync.Mutex
	created map[string]bool
	changed map[string]bool

	stop    chan struct{}
	stopped chan struct{}
}

// NewWatcher starts watching root and its subdirectories.
func NewWatcher(root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:    root,
		fsw:     fsw,
		created: make(map[string]bool),
		changed: make(map[string]bool),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}
	// Watch existing subdirectories; new ones are added as they appear.
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() && path != root {
			if filepath.Base(path)[0] == '.' {
				return filepath.SkipDir
			}
			if addErr := fsw.Add(path); addErr != nil {
				log.Printf("workspace: failed to watch %s: %v", path, addErr)
			}
		}
		return nil
	})

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.stopped)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("workspace: watch error: %v", err)
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." {
		return
	}
	if base := filepath.Base(rel); base == "" || base[0] == '.' {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.fsw.Add(ev.Name)
			return
		}
	}

	w.mu.Lock()
	switch {
	case ev.Op.Has(fsnotify.Create):
		w.created[rel] = true
		w.changed[rel] = true
	case ev.Op.Has(fsnotify.Write):
		w.changed[rel] = true
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		delete(w.created, rel)
		delete(w.changed, rel)
	}
	w.mu.Unlock()
}

// Drain returns the pending changed paths and how many of them are new
// files, then clears the pending state.
func (w *Watcher) Drain() (changed []string, created int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for rel := range w.changed {
		changed = append(changed, rel)
	}
	created = len(w.created)
	w.changed = make(map[string]bool)
	w.created = make(map[string]bool)
	return changed, created
}

// Pending returns the number of not-yet-drained changes.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.changed)
}

// Close stops the watcher. Safe to call once.
func (w *Watcher) Close() {
	close(w.stop)
	w.fsw.Close()
	<-w.stopped
}
