package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWorkspaceReadWrite(t *testing.T) {
	ws := NewWorkspace(t.TempDir())

	if err := ws.Write("src/index.js", []byte("console.log('hi')")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, err := ws.Read("src/index.js")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "console.log('hi')" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestWorkspaceReadMissing(t *testing.T) {
	ws := NewWorkspace(t.TempDir())

	if _, err := ws.Read("nope.txt"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWorkspaceTraversalRejected(t *testing.T) {
	ws := NewWorkspace(t.TempDir())

	paths := []string{
		"../escape.txt",
		"a/../../escape.txt",
		"..",
	}
	for _, p := range paths {
		if err := ws.Write(p, []byte("x")); err != ErrPathTraversal {
			t.Errorf("expected ErrPathTraversal for %q, got %v", p, err)
		}
	}
}

func TestWorkspaceWalk(t *testing.T) {
	root := t.TempDir()
	ws := NewWorkspace(root)

	ws.Write("a.txt", []byte("a"))
	ws.Write("sub/b.txt", []byte("b"))

	files := make(map[string]bool)
	err := ws.Walk(func(rel string, info FileInfo) error {
		if !info.IsDir {
			files[rel] = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}

	if !files["a.txt"] || !files[filepath.Join("sub", "b.txt")] {
		t.Errorf("unexpected files: %v", files)
	}
}

func TestDirStore(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "p1"), 0755)
	os.WriteFile(filepath.Join(root, "p1", "main.py"), []byte("print('hi')"), 0644)

	store := NewDirStore(root)

	if err := store.Project("p1"); err != nil {
		t.Errorf("expected p1 to exist: %v", err)
	}
	if err := store.Project("missing"); err != ErrUnknownProject {
		t.Errorf("expected ErrUnknownProject, got %v", err)
	}

	files, err := store.Files("p1")
	if err != nil {
		t.Fatalf("files failed: %v", err)
	}
	if string(files["main.py"]) != "print('hi')" {
		t.Errorf("unexpected files: %v", files)
	}
}
