package proc

import (
	"strings"
	"syscall"
	"testing"
	"time"
)

// collectOutput drains a handle's output until the channel closes or the
// timeout elapses, returning concatenated stdout and stderr.
func collectOutput(t *testing.T, h Handle, timeout time.Duration) (string, string) {
	t.Helper()
	var stdout, stderr strings.Builder
	deadline := time.After(timeout)
	for {
		select {
		case chunk, ok := <-h.Output():
			if !ok {
				return stdout.String(), stderr.String()
			}
			if chunk.Stream == Stderr {
				stderr.Write(chunk.Data)
			} else {
				stdout.Write(chunk.Data)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for output (stdout=%q stderr=%q)", stdout.String(), stderr.String())
		}
	}
}

func waitDone(t *testing.T, h Handle, timeout time.Duration) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(timeout):
		t.Fatal("timed out waiting for process exit")
	}
}

func TestCommandSeparatesStreams(t *testing.T) {
	c, err := StartCommand("/bin/sh", []string{"-c", "echo out; echo err 1>&2"}, "", nil)
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	stdout, stderr := collectOutput(t, c, 5*time.Second)
	if !strings.Contains(stdout, "out") {
		t.Errorf("expected stdout to contain 'out', got %q", stdout)
	}
	if !strings.Contains(stderr, "err") {
		t.Errorf("expected stderr to contain 'err', got %q", stderr)
	}

	waitDone(t, c, 5*time.Second)
	if code := c.ExitStatus().Code; code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
}

func TestCommandExitCode(t *testing.T) {
	c, err := StartCommand("/bin/sh", []string{"-c", "exit 3"}, "", nil)
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	waitDone(t, c, 5*time.Second)
	if code := c.ExitStatus().Code; code != 3 {
		t.Errorf("expected exit code 3, got %d", code)
	}
}

func TestCommandStdinWrite(t *testing.T) {
	c, err := StartCommand("/bin/cat", nil, "", nil)
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	if _, err := c.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case chunk := <-c.Output():
		if !strings.Contains(string(chunk.Data), "hello") {
			t.Errorf("expected echoed input, got %q", chunk.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cat output")
	}

	c.Kill()
	waitDone(t, c, 5*time.Second)
}

func TestCommandWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	c, err := StartCommand("/bin/sh", []string{"-c", "pwd"}, dir, nil)
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	stdout, _ := collectOutput(t, c, 5*time.Second)
	if !strings.Contains(stdout, dir) {
		t.Errorf("expected working directory %q, got %q", dir, stdout)
	}
}

func TestCommandSignal(t *testing.T) {
	c, err := StartCommand("/bin/sleep", []string{"30"}, "", nil)
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	if err := c.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal failed: %v", err)
	}

	waitDone(t, c, 5*time.Second)
	if code := c.ExitStatus().Code; code == 0 {
		t.Errorf("expected non-zero exit after SIGTERM, got %d", code)
	}
}

func TestShellRunsCommands(t *testing.T) {
	dir := t.TempDir()
	s, err := StartShell("/bin/sh", dir, nil)
	if err != nil {
		t.Fatalf("failed to start shell: %v", err)
	}
	defer s.Kill()

	if _, err := s.Write([]byte("echo shell-works\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var out strings.Builder
	deadline := time.After(5 * time.Second)
	for !strings.Contains(out.String(), "shell-works") {
		select {
		case chunk, ok := <-s.Output():
			if !ok {
				t.Fatalf("output closed early: %q", out.String())
			}
			out.Write(chunk.Data)
		case <-deadline:
			t.Fatalf("timed out, output so far: %q", out.String())
		}
	}
}

func TestShellExit(t *testing.T) {
	s, err := StartShell("/bin/sh", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to start shell: %v", err)
	}

	if _, err := s.Write([]byte("exit\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	waitDone(t, s, 5*time.Second)
}

func TestMockHandleRecordsWrites(t *testing.T) {
	m := NewMockHandle()
	m.Write([]byte("one\n"))
	m.Write([]byte("two\n"))

	writes := m.Writes()
	if len(writes) != 2 || writes[0] != "one\n" || writes[1] != "two\n" {
		t.Errorf("unexpected writes: %v", writes)
	}

	m.ExitWith(0)
	if _, err := m.Write([]byte("late\n")); err == nil {
		t.Error("expected write after exit to fail")
	}
}
