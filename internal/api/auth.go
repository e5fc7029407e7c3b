package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-dev/tracker/internal/config"
	"github.com/antigravity-dev/tracker/internal/store"
)

// TokenLookup resolves an API token to its user. *store.Store satisfies it.
type TokenLookup interface {
	GetUserByToken(token string) (*store.User, error)
}

// AuthMiddleware authenticates bearer tokens and writes the audit log.
type AuthMiddleware struct {
	users     TokenLookup
	logger    *slog.Logger
	mu        sync.Mutex
	auditFile *os.File
}

// NewAuthMiddleware creates a new auth middleware. An empty auditLog disables auditing.
func NewAuthMiddleware(users TokenLookup, auditLog string, logger *slog.Logger) (*AuthMiddleware, error) {
	am := &AuthMiddleware{
		users:  users,
		logger: logger,
	}

	if auditLog != "" {
		auditPath := config.ExpandHome(auditLog)
		f, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log %q: %w", auditPath, err)
		}
		am.auditFile = f
	}

	return am, nil
}

// Close closes the audit log file
func (am *AuthMiddleware) Close() error {
	if am.auditFile != nil {
		return am.auditFile.Close()
	}
	return nil
}

// AuditEvent represents an audit log entry
type AuditEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	RemoteAddr string    `json:"remote_addr"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	UserAgent  string    `json:"user_agent,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Authorized bool      `json:"authorized"`
	Token      string    `json:"token,omitempty"` // truncated
	Error      string    `json:"error,omitempty"`
	StatusCode int       `json:"status_code"`
	Duration   string    `json:"duration"`
}

func (am *AuthMiddleware) logAuditEvent(event AuditEvent) {
	if am.auditFile == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		am.logger.Error("failed to marshal audit event", "error", err)
		return
	}

	am.mu.Lock()
	defer am.mu.Unlock()
	if _, err := am.auditFile.Write(append(data, '\n')); err != nil {
		am.logger.Error("failed to write audit event", "error", err)
	}
}

// truncateToken keeps the first 4 chars of a token for audit logging
func truncateToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "****"
}

// extractToken gets the bearer token from Authorization header
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

// isMutating reports whether a request changes state and must be audited.
func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

type ctxKey int

const userKey ctxKey = iota

// UserFromContext returns the authenticated user attached by RequireAuth.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(userKey).(*store.User)
	return u, ok
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Audit records mutating requests that do not pass through RequireAuth.
func (am *AuthMiddleware) Audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isMutating(r.Method) {
			next(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		am.logAuditEvent(AuditEvent{
			Timestamp:  start,
			RemoteAddr: r.RemoteAddr,
			Method:     r.Method,
			Path:       r.URL.Path,
			UserAgent:  r.Header.Get("User-Agent"),
			StatusCode: rec.status,
			Duration:   time.Since(start).String(),
		})
	}
}

// RequireAuth resolves the bearer token to a user and rejects the request
// with 401 when the token is missing or unknown.
func (am *AuthMiddleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		token := extractToken(r)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		event := AuditEvent{
			Timestamp:  start,
			RemoteAddr: r.RemoteAddr,
			Method:     r.Method,
			Path:       r.URL.Path,
			UserAgent:  r.Header.Get("User-Agent"),
			Token:      truncateToken(token),
		}

		if isMutating(r.Method) {
			defer func() {
				event.StatusCode = rec.status
				event.Duration = time.Since(start).String()
				am.logAuditEvent(event)
			}()
		}

		user, err := am.users.GetUserByToken(token)
		if err != nil {
			event.Authorized = false
			if errors.Is(err, store.ErrNotFound) {
				event.Error = "invalid or missing token"
			} else {
				event.Error = "token lookup failed"
				am.logger.Error("token lookup failed", "error", err)
			}

			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(rec, http.StatusUnauthorized, "Unauthorized: valid token required")
			return
		}

		event.Authorized = true
		event.UserID = user.ID
		next(rec, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	}
}
