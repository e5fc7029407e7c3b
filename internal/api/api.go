// Package api serves the tracker JSON HTTP API and the live-update WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antigravity-dev/tracker/internal/bus"
	"github.com/antigravity-dev/tracker/internal/config"
	"github.com/antigravity-dev/tracker/internal/store"
	"github.com/antigravity-dev/tracker/internal/workflow"
)

// Server is the HTTP API server.
type Server struct {
	cfg            config.ConfigManager
	store          *store.Store
	engine         *workflow.Engine
	bus            *bus.Bus
	logger         *slog.Logger
	startTime      time.Time
	httpServer     *http.Server
	authMiddleware *AuthMiddleware
	upgrader       websocket.Upgrader
	sockets        atomic.Int64
}

// NewServer creates a new API server.
func NewServer(cfg config.ConfigManager, st *store.Store, eng *workflow.Engine, b *bus.Bus, logger *slog.Logger) (*Server, error) {
	authMiddleware, err := NewAuthMiddleware(st, cfg.Get().API.AuditLog, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth middleware: %w", err)
	}

	return &Server{
		cfg:            cfg,
		store:          st,
		engine:         eng,
		bus:            b,
		logger:         logger,
		startTime:      time.Now(),
		authMiddleware: authMiddleware,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Close closes the server and cleans up resources
func (s *Server) Close() error {
	if s.authMiddleware != nil {
		return s.authMiddleware.Close()
	}
	return nil
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	auth := s.authMiddleware.RequireAuth

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleSocket)

	mux.HandleFunc("POST /api/users/register", s.authMiddleware.Audit(s.handleRegister))
	mux.HandleFunc("GET /api/users/profile", auth(s.handleProfile))
	mux.HandleFunc("GET /api/users/{id}", auth(s.handleGetUser))

	mux.HandleFunc("POST /api/projects", auth(s.handleCreateProject))
	mux.HandleFunc("GET /api/projects", auth(s.handleListProjects))
	mux.HandleFunc("GET /api/projects/{id}", auth(s.handleGetProject))
	mux.HandleFunc("DELETE /api/projects/{id}", auth(s.handleDeleteProject))
	mux.HandleFunc("POST /api/projects/{id}/members", auth(s.handleAddMember))
	mux.HandleFunc("DELETE /api/projects/{id}/members/{userId}", auth(s.handleRemoveMember))

	mux.HandleFunc("POST /api/tasks", auth(s.handleCreateTask))
	mux.HandleFunc("GET /api/tasks/project/{projectId}", auth(s.handleListProjectTasks))
	mux.HandleFunc("GET /api/tasks/assigned", auth(s.handleListAssigned))
	mux.HandleFunc("GET /api/tasks/{id}", auth(s.handleGetTask))
	mux.HandleFunc("DELETE /api/tasks/{id}", auth(s.handleDeleteTask))
	mux.HandleFunc("PATCH /api/tasks/{id}/status", auth(s.handleUpdateStatus))
	mux.HandleFunc("POST /api/tasks/{id}/comments", auth(s.handleAddComment))
	mux.HandleFunc("POST /api/tasks/{id}/files", auth(s.handleAddAttachment))

	return mux
}

// Start begins listening on the configured bind address. It blocks until ctx
// is cancelled and in-flight requests have drained.
func (s *Server) Start(ctx context.Context) error {
	bind := s.cfg.Get().API.Bind
	// Requests still draining after ctx is cancelled keep a live context.
	s.httpServer = &http.Server{
		Addr:              bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutCtx); err != nil {
			s.logger.Warn("api server shutdown incomplete", "error", err)
		}
	}()

	s.logger.Info("api server starting", "bind", bind)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		// In-flight requests finish before Start returns.
		<-drained
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeEngineError maps engine error kinds to status codes. Store failures
// are logged and reported without detail.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workflow.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, workflow.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json request body: %w", err)
	}
	return nil
}

// actor returns the engine actor for the authenticated caller.
func actor(r *http.Request) workflow.Actor {
	u, _ := UserFromContext(r.Context())
	if u == nil {
		return workflow.Actor{}
	}
	return workflow.Actor{ID: u.ID, Role: u.Role}
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := true
	var dbErr string
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		healthy = false
		dbErr = err.Error()
	}

	resp := map[string]any{
		"healthy":  healthy,
		"uptime_s": time.Since(s.startTime).Seconds(),
		"bus":      s.bus.Stats(),
		"sockets":  s.sockets.Load(),
	}
	if dbErr != "" {
		resp["db_error"] = dbErr
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, code, resp)
}
