package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codedeck-io/codedeck-backend/internal/ports"
	"github.com/codedeck-io/codedeck-backend/internal/sandbox"
	"github.com/codedeck-io/codedeck-backend/internal/sessions"
	"github.com/codedeck-io/codedeck-backend/internal/workspace"
)

func setupTestServer(t *testing.T) (*Server, *sessions.Manager) {
	t.Helper()

	rt := sandbox.NewMockRuntime()
	rt.AvailableFlag = false

	store := workspace.NewDirStore(t.TempDir())
	mat := workspace.NewLocalMaterializer(store, t.TempDir())

	cfg := sessions.DefaultConfig()
	cfg.GraceTimeout = 20 * time.Millisecond
	cfg.TermTimeout = 20 * time.Millisecond
	sm := sessions.NewManager(cfg, rt, mat, ports.NewAllocator(42300, 42399))
	t.Cleanup(sm.Cleanup)

	return NewServer(sm, []string{"http://localhost:*"}), sm
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestListSessionsEmpty(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/sessions", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Sessions []sessions.SessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(body.Sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(body.Sessions))
	}
}

func TestConfigDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "SANDBOX_IMAGE", "ALLOWED_ORIGINS", "PORT_RANGE_MIN", "PORT_RANGE_MAX", "PREVIEW_HOST"} {
		t.Setenv(key, "")
	}

	cfg := configFromEnv()

	if cfg.port != "8080" {
		t.Errorf("unexpected default port %q", cfg.port)
	}
	if cfg.portMin != defaultPortRangeMin || cfg.portMax != defaultPortRangeMax {
		t.Errorf("unexpected port range %d-%d", cfg.portMin, cfg.portMax)
	}
	if cfg.sandboxImage == "" || cfg.previewHost == "" {
		t.Error("expected non-empty defaults")
	}
}

func TestConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SANDBOX_IMAGE", "custom:1")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example,http://b.example")
	t.Setenv("PORT_RANGE_MIN", "5000")
	t.Setenv("PORT_RANGE_MAX", "not-a-number")

	cfg := configFromEnv()

	if cfg.port != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.port)
	}
	if cfg.sandboxImage != "custom:1" {
		t.Errorf("expected custom image, got %q", cfg.sandboxImage)
	}
	if len(cfg.allowedOrigins) != 2 {
		t.Errorf("expected 2 origins, got %v", cfg.allowedOrigins)
	}
	if cfg.portMin != 5000 {
		t.Errorf("expected port min 5000, got %d", cfg.portMin)
	}
	// Invalid values fall back to the default.
	if cfg.portMax != defaultPortRangeMax {
		t.Errorf("expected default port max, got %d", cfg.portMax)
	}
}
