package sandbox

import (
	"fmt"
	"strings"
	"testing"

	"github.com/codedeck-io/codedeck-backend/internal/proc"
)

func TestRunArgs(t *testing.T) {
	spec := RunSpec{
		Name:     "codedeck-abc123",
		Image:    "codedeck-sandbox:latest",
		CPUs:     0.5,
		MemoryMB: 768,
		HostDir:  "/tmp/workspaces/p1",
		Ports: []PortPublish{
			{HostPort: 9001, Port: 3000},
			{HostPort: 9002, Port: 8080},
		},
		Env: map[string]string{"NODE_ENV": "development"},
	}
	spec.applyDefaults()

	args := runArgs(spec)
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--name codedeck-abc123",
		"--user 1000:1000",
		"--cpus=0.5",
		"--memory=768m",
		"-v /tmp/workspaces/p1:/workspace",
		"-w /workspace",
		"-p 127.0.0.1:9001:3000",
		"-p 127.0.0.1:9002:8080",
		"-e NODE_ENV=development",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected args to contain %q, got %q", want, joined)
		}
	}

	if args[len(args)-2] != spec.Image {
		t.Errorf("expected image before command, got %v", args[len(args)-3:])
	}
}

func TestRunArgsDefaults(t *testing.T) {
	spec := RunSpec{Name: "x", Image: "img", HostDir: "/tmp/x"}
	spec.applyDefaults()

	if spec.User != DefaultUser {
		t.Errorf("expected default user, got %s", spec.User)
	}
	if spec.MountPath != DefaultMountPath {
		t.Errorf("expected default mount path, got %s", spec.MountPath)
	}
	joined := strings.Join(runArgs(spec), " ")
	if !strings.Contains(joined, fmt.Sprintf("--cpus=%g", spec.CPUs)) {
		t.Errorf("expected cpu limit in args, got %q", joined)
	}
}

func TestControlArgs(t *testing.T) {
	if got := strings.Join(killArgs("codedeck-abc", "KILL"), " "); got != "kill --signal KILL codedeck-abc" {
		t.Errorf("unexpected kill args: %q", got)
	}
	if got := strings.Join(removeArgs("codedeck-abc"), " "); got != "rm --force codedeck-abc" {
		t.Errorf("unexpected remove args: %q", got)
	}
}

func TestMockRuntimeDeliversSignals(t *testing.T) {
	rt := NewMockRuntime()
	h, err := rt.Spawn(RunSpec{Name: "s1", Image: "img"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mh := h.(*proc.MockHandle)
	mh.IgnoreSignals = true

	// TERM is catchable; the handle ignores it and stays alive.
	if err := rt.Signal("s1", "TERM"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mh.Exited() {
		t.Fatal("expected the handle to survive an ignored TERM")
	}

	// KILL cannot be ignored.
	if err := rt.Signal("s1", "KILL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mh.Exited() {
		t.Fatal("expected KILL to end the handle")
	}

	if sigs := rt.Signals(); len(sigs) != 2 || sigs[0] != "s1:TERM" || sigs[1] != "s1:KILL" {
		t.Errorf("unexpected signal log: %v", sigs)
	}
	if err := rt.Signal("nope", "TERM"); err == nil {
		t.Error("expected an error for an unknown name")
	}
}

func TestMockRuntimeSpawnRecordsSpec(t *testing.T) {
	rt := NewMockRuntime()

	if !rt.Available() {
		t.Fatal("expected mock runtime to be available")
	}

	spec := RunSpec{Name: "s1", Image: "img"}
	if _, err := rt.Spawn(spec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rt.SpawnCount() != 1 {
		t.Errorf("expected 1 spawn, got %d", rt.SpawnCount())
	}
	if rt.LastSpec().Name != "s1" {
		t.Errorf("unexpected last spec: %+v", rt.LastSpec())
	}
}

func TestMockRuntimeFailSpawn(t *testing.T) {
	rt := NewMockRuntime()
	rt.FailSpawn = true

	if _, err := rt.Spawn(RunSpec{Name: "s1"}); err == nil {
		t.Fatal("expected spawn error")
	}
	if rt.SpawnCount() != 0 {
		t.Errorf("expected 0 spawns, got %d", rt.SpawnCount())
	}
}
