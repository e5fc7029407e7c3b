package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/antigravity-dev/tracker/internal/store"
	"github.com/antigravity-dev/tracker/internal/workflow"
)

type taskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	ProjectID   string `json:"project_id"`
	AssigneeID  string `json:"assignee_id"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type commentRequest struct {
	Text string `json:"text"`
}

type fileRequest struct {
	FileURL string `json:"file_url"`
}

type taskResponse struct {
	Message string      `json:"message"`
	Task    *store.Task `json:"task"`
}

var dueDateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// parseDueDate accepts RFC 3339 timestamps and plain calendar dates.
// An empty string yields the zero time.
func parseDueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid due_date %q", s)
}

// POST /api/tasks
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	due, err := parseDueDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := s.engine.CreateTask(r.Context(), actor(r), workflow.NewTask{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     due,
		Status:      store.Status(req.Status),
		Priority:    store.Priority(req.Priority),
		ProjectID:   req.ProjectID,
		AssigneeID:  req.AssigneeID,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, task)
}

// GET /api/tasks/project/{projectId}
func (s *Server) handleListProjectTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.engine.ListByProject(r.Context(), r.PathValue("projectId"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, nonNil(tasks))
}

// GET /api/tasks/assigned
func (s *Server) handleListAssigned(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.engine.ListAssignedTo(r.Context(), actor(r).ID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, nonNil(tasks))
}

func nonNil(tasks []store.Task) []store.Task {
	if tasks == nil {
		return []store.Task{}
	}
	return tasks
}

// GET /api/tasks/{id}
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, task)
}

// DELETE /api/tasks/{id}
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteTask(r.Context(), actor(r), r.PathValue("id")); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"message": "Task deleted"})
}

// PATCH /api/tasks/{id}/status
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.engine.UpdateStatus(r.Context(), actor(r), r.PathValue("id"), store.Status(req.Status))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, taskResponse{Message: "Task status updated", Task: task})
}

// POST /api/tasks/{id}/comments
func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.engine.AddComment(r.Context(), actor(r), r.PathValue("id"), req.Text)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, taskResponse{Message: "Comment added", Task: task})
}

// POST /api/tasks/{id}/files
func (s *Server) handleAddAttachment(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.engine.AddAttachment(r.Context(), actor(r), r.PathValue("id"), req.FileURL)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, taskResponse{Message: "File attached", Task: task})
}
