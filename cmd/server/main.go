// Copyright 2026 Codedeck Inc. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/codedeck-io/codedeck-backend/internal/ports"
	"github.com/codedeck-io/codedeck-backend/internal/sandbox"
	"github.com/codedeck-io/codedeck-backend/internal/sessions"
	"github.com/codedeck-io/codedeck-backend/internal/workspace"
	"github.com/codedeck-io/codedeck-backend/internal/ws"
)

const (
	defaultPortRangeMin = 3001
	defaultPortRangeMax = 9004
)

type config struct {
	port           string
	projectsDir    string
	workspaceBase  string
	sandboxImage   string
	previewHost    string
	allowedOrigins []string
	portMin        int
	portMax        int
}

func configFromEnv() config {
	cfg := config{
		port:          envOr("PORT", "8080"),
		projectsDir:   envOr("PROJECTS_DIR", "./projects"),
		workspaceBase: envOr("WORKSPACE_BASE", os.TempDir()+"/codedeck"),
		sandboxImage:  envOr("SANDBOX_IMAGE", "codedeck-sandbox:latest"),
		previewHost:   envOr("PREVIEW_HOST", "localhost"),
		portMin:       envIntOr("PORT_RANGE_MIN", defaultPortRangeMin),
		portMax:       envIntOr("PORT_RANGE_MAX", defaultPortRangeMax),
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.allowedOrigins = strings.Split(origins, ",")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("server: invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func main() {
	cfg := configFromEnv()

	store := workspace.NewDirStore(cfg.projectsDir)
	materializer := workspace.NewLocalMaterializer(store, cfg.workspaceBase)
	runtime := sandbox.NewDockerRuntime(cfg.sandboxImage)
	alloc := ports.NewAllocator(cfg.portMin, cfg.portMax)

	mcfg := sessions.DefaultConfig()
	mcfg.SandboxImage = cfg.sandboxImage
	mcfg.PreviewHost = cfg.previewHost
	manager := sessions.NewManager(mcfg, runtime, materializer, alloc)

	server := NewServer(manager, cfg.allowedOrigins)
	httpServer := &http.Server{
		Addr:    ":" + cfg.port,
		Handler: server.Handler(),
	}

	go func() {
		log.Printf("server: listening on :%s", cfg.port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("server: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)

	// Sessions are torn down after the listener stops accepting new ones.
	manager.Cleanup()
}

type Server struct {
	sessions *sessions.Manager
	wsRouter *ws.Router
}

func NewServer(sm *sessions.Manager, allowedOrigins []string) *Server {
	return &Server{
		sessions: sm,
		wsRouter: ws.NewRouter(sm, allowedOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /ws", s.wsRouter.HandleWebSocket)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sessions": s.sessions.ListActiveSessions(),
	})
}
