package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Project groups tasks and members.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	Members     []Member  `json:"members"`
}

// Member is a project member resolved to its user record.
type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateProject inserts p and adds its creator as the sole initial member.
func (s *Store) CreateProject(p *Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin create project: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO projects (id, name, description, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.CreatedBy, p.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: project %s already exists", ErrConflict, p.ID)
		}
		return fmt.Errorf("insert project: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO project_members (project_id, user_id, added_at) VALUES (?, ?, ?)`,
		p.ID, p.CreatedBy, p.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert creator membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create project: %w", err)
	}
	return nil
}

// GetProject returns the project with its members resolved.
func (s *Store) GetProject(id string) (*Project, error) {
	var p Project
	err := s.db.QueryRow(
		`SELECT id, name, description, created_by, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query project: %w", err)
	}

	members, err := s.projectMembers(id)
	if err != nil {
		return nil, err
	}
	p.Members = members
	return &p, nil
}

func (s *Store) projectMembers(projectID string) ([]Member, error) {
	rows, err := s.db.Query(`
		SELECT u.id, u.name, u.email
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id = ?
		ORDER BY pm.added_at, u.name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query project members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Email); err != nil {
			return nil, fmt.Errorf("scan project member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListProjects returns every project, newest first. Members are not resolved.
func (s *Store) ListProjects() ([]Project, error) {
	return s.queryProjects(`SELECT id, name, description, created_by, created_at FROM projects ORDER BY created_at DESC, name`)
}

// ListProjectsForUser returns the projects userID is a member of.
func (s *Store) ListProjectsForUser(userID string) ([]Project, error) {
	return s.queryProjects(`
		SELECT p.id, p.name, p.description, p.created_by, p.created_at
		FROM projects p
		JOIN project_members pm ON pm.project_id = p.id AND pm.user_id = ?
		ORDER BY p.created_at DESC, p.name`, userID)
}

func (s *Store) queryProjects(query string, args ...any) ([]Project, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project and its memberships. Tasks are left in place.
func (s *Store) DeleteProject(id string) error {
	res, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return expectAffected(res, "project", id)
}

// AddProjectMember adds userID to a project. An existing membership yields ErrConflict.
func (s *Store) AddProjectMember(projectID, userID string) error {
	_, err := s.db.Exec(
		`INSERT INTO project_members (project_id, user_id, added_at) VALUES (?, ?, ?)`,
		projectID, userID, time.Now().UTC(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: user %s is already a member of project %s", ErrConflict, userID, projectID)
	}
	if err != nil {
		return fmt.Errorf("insert project member: %w", err)
	}
	return nil
}

// RemoveProjectMember removes userID from a project; ErrNotFound if not a member.
func (s *Store) RemoveProjectMember(projectID, userID string) error {
	res, err := s.db.Exec(`DELETE FROM project_members WHERE project_id = ? AND user_id = ?`, projectID, userID)
	if err != nil {
		return fmt.Errorf("delete project member: %w", err)
	}
	return expectAffected(res, "membership", projectID+"/"+userID)
}

func expectAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return nil
}
