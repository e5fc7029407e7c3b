package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/antigravity-dev/tracker/internal/policy"
	"github.com/antigravity-dev/tracker/internal/store"
)

// NewProject carries the caller-supplied fields of CreateProject.
type NewProject struct {
	Name        string
	Description string
}

// CreateProject creates a project whose only initial member is actor.
func (e *Engine) CreateProject(ctx context.Context, actor Actor, in NewProject) (*store.Project, error) {
	if err := policy.Check(actor.Role, policy.CreateProject); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationf("project name is required")
	}

	p := &store.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: in.Description,
		CreatedBy:   actor.ID,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.store.CreateProject(p); err != nil {
		return nil, storeErr("create project", err)
	}
	e.logger.Info("project created", "project_id", p.ID, "actor_id", actor.ID)
	return e.loadProject(p.ID)
}

func (e *Engine) loadProject(id string) (*store.Project, error) {
	p, err := e.store.GetProject(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("project", id)
	}
	if err != nil {
		return nil, storeErr("load project", err)
	}
	return p, nil
}

// GetProject returns a project with its members resolved.
func (e *Engine) GetProject(ctx context.Context, projectID string) (*store.Project, error) {
	return e.loadProject(projectID)
}

// ListProjects returns every project when all is set, which requires the
// ListAllProjects permission, and otherwise the projects actor belongs to.
func (e *Engine) ListProjects(ctx context.Context, actor Actor, all bool) ([]store.Project, error) {
	var (
		projects []store.Project
		err      error
	)
	if all {
		if err := policy.Check(actor.Role, policy.ListAllProjects); err != nil {
			return nil, err
		}
		projects, err = e.store.ListProjects()
	} else {
		projects, err = e.store.ListProjectsForUser(actor.ID)
	}
	if err != nil {
		return nil, storeErr("list projects", err)
	}
	return projects, nil
}

// DeleteProject removes a project and its memberships. Tasks are kept.
func (e *Engine) DeleteProject(ctx context.Context, actor Actor, projectID string) error {
	if err := policy.Check(actor.Role, policy.DeleteProject); err != nil {
		return err
	}
	err := e.store.DeleteProject(projectID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("project", projectID)
	}
	if err != nil {
		return storeErr("delete project", err)
	}
	e.logger.Info("project deleted", "project_id", projectID, "actor_id", actor.ID)
	return nil
}

// AddMember adds userID to a project. Adding an existing member is a conflict.
func (e *Engine) AddMember(ctx context.Context, actor Actor, projectID, userID string) (*store.Project, error) {
	if err := policy.Check(actor.Role, policy.AddProjectMember); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, validationf("user is required")
	}
	if _, err := e.loadProject(projectID); err != nil {
		return nil, err
	}
	if _, err := e.store.GetUser(userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("user", userID)
		}
		return nil, storeErr("load user", err)
	}
	if err := e.store.AddProjectMember(projectID, userID); err != nil {
		return nil, storeErr("add member", err)
	}
	e.logger.Info("project member added", "project_id", projectID, "user_id", userID, "actor_id", actor.ID)
	return e.loadProject(projectID)
}

// RemoveMember removes userID from a project. Removing a non-member is NotFound.
func (e *Engine) RemoveMember(ctx context.Context, actor Actor, projectID, userID string) (*store.Project, error) {
	if err := policy.Check(actor.Role, policy.RemoveProjectMember); err != nil {
		return nil, err
	}
	if _, err := e.loadProject(projectID); err != nil {
		return nil, err
	}
	err := e.store.RemoveProjectMember(projectID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("member", userID)
	}
	if err != nil {
		return nil, storeErr("remove member", err)
	}
	e.logger.Info("project member removed", "project_id", projectID, "user_id", userID, "actor_id", actor.ID)
	return e.loadProject(projectID)
}
