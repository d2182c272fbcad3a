// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package workspace

import (
	"errors"
	"os"
	"path/filepath"
)

var ErrUnknownProject = errors.New("unknown project")

// Store is the persistent project storage collaborator. The REST backend
// owns the real one; DirStore is a filesystem-backed stand-in.
type Store interface {
	// Project returns ErrUnknownProject if the project does not exist.
	Project(projectID string) error

	// Files returns the project's files as relative path → content.
	Files(projectID string) (map[string][]byte, error)

	// SaveFile persists a file produced inside a workspace.
	SaveFile(projectID, path string, content []byte) error
}

// DirStore serves projects out of subdirectories of a source root.
type DirStore struct {
	root string
}

// NewDirStore creates a store over root; each project is root/<projectID>.
func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (s *DirStore) dir(projectID string) string {
	return filepath.Join(s.root, filepath.Base(projectID))
}

func (s *DirStore) Project(projectID string) error {
	info, err := os.Stat(s.dir(projectID))
	if err != nil || !info.IsDir() {
		return ErrUnknownProject
	}
	return nil
}

func (s *DirStore) Files(projectID string) (map[string][]byte, error) {
	if err := s.Project(projectID); err != nil {
		return nil, err
	}

	files := make(map[string][]byte)
	ws := NewWorkspace(s.dir(projectID))
	err := ws.Walk(func(relPath string, info FileInfo) error {
		if info.IsDir {
			return nil
		}
		data, err := ws.Read(relPath)
		if err != nil {
			return err
		}
		files[relPath] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *DirStore) SaveFile(projectID, path string, content []byte) error {
	if err := s.Project(projectID); err != nil {
		return err
	}
	return NewWorkspace(s.dir(projectID)).Write(path, content)
}

var _ Store = (*DirStore)(nil)
