package api

import (
	"net/http"

	"github.com/antigravity-dev/tracker/internal/workflow"
)

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type memberRequest struct {
	UserID string `json:"user_id"`
}

// POST /api/projects
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.engine.CreateProject(r.Context(), actor(r), workflow.NewProject{Name: req.Name, Description: req.Description})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, p)
}

// GET /api/projects?all=true
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	projects, err := s.engine.ListProjects(r.Context(), actor(r), all)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, projects)
}

// GET /api/projects/{id}
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, p)
}

// DELETE /api/projects/{id}
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteProject(r.Context(), actor(r), r.PathValue("id")); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"message": "Project deleted"})
}

// POST /api/projects/{id}/members
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.engine.AddMember(r.Context(), actor(r), r.PathValue("id"), req.UserID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, p)
}

// DELETE /api/projects/{id}/members/{userId}
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.RemoveMember(r.Context(), actor(r), r.PathValue("id"), r.PathValue("userId"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, p)
}
