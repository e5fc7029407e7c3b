package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/antigravity-dev/tracker/internal/policy"
	"github.com/antigravity-dev/tracker/internal/store"
)

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

type registerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type registerResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

// registrationRole picks the role for a new account: configured admin emails
// are always Admin, a requested role is honored only when role selection is
// enabled, and everyone else is a Member.
func (s *Server) registrationRole(email, requested string) (policy.Role, error) {
	cfg := s.cfg.Get()
	if cfg.IsAdminEmail(email) {
		return policy.RoleAdmin, nil
	}
	if requested == "" || !cfg.API.AllowRoleSelection {
		return policy.RoleMember, nil
	}
	return policy.ParseRole(requested)
}

// POST /api/users/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	addr, err := mail.ParseAddress(req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	role, err := s.registrationRole(addr.Address, req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := generateToken()
	if err != nil {
		s.logger.Error("token generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user := &store.User{
		ID:    uuid.NewString(),
		Name:  req.Name,
		Email: addr.Address,
		Role:  role,
		Token: token,
	}
	if err := s.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		s.logger.Error("create user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("user registered", "user_id", user.ID, "role", user.Role)
	writeJSONStatus(w, http.StatusCreated, registerResponse{Token: token, User: user})
}

// GET /api/users/profile
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())
	writeJSON(w, u)
}

// GET /api/users/{id}
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUser(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.logger.Error("get user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, u)
}
