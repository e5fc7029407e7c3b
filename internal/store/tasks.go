package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is a task's workflow state.
type Status string

const (
	StatusToDo       Status = "To-Do"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
)

// Statuses lists every valid status in board order.
var Statuses = []Status{StatusToDo, StatusInProgress, StatusCompleted}

// Valid reports whether st is one of the enumerated statuses.
func (st Status) Valid() bool {
	switch st {
	case StatusToDo, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Priority is a task's urgency.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Valid reports whether p is one of the enumerated priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Comment is a note appended to a task.
type Comment struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is a unit of work inside a project.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"due_date"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	ProjectID   string    `json:"project_id"`
	AssigneeID  string    `json:"assignee_id,omitempty"` // empty when unassigned
	ReporterID  string    `json:"reporter_id"`
	Comments    []Comment `json:"comments"`
	Attachments []string  `json:"attachments"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Resolved by ListTasks
	AssigneeName string `json:"assignee_name,omitempty"`
	ProjectName  string `json:"project_name,omitempty"`
}

// TaskFilter selects tasks by equality on the set fields. A zero filter matches all tasks.
type TaskFilter struct {
	ProjectID  string
	AssigneeID string
}

func (f TaskFilter) where() (string, []any) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "t.project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "t.assignee_id = ?")
		args = append(args, f.AssigneeID)
	}
	if len(clauses) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(clauses, " AND "), args
}

// InsertTask stores a new task. Comments and attachments on t are ignored.
func (s *Store) InsertTask(t *Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, title, description, due_date, status, priority, project_id, assignee_id, reporter_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.DueDate.UTC(), string(t.Status), string(t.Priority),
		t.ProjectID, nullString(t.AssigneeID), t.ReporterID, t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: task %s already exists", ErrConflict, t.ID)
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	t.Comments = []Comment{}
	t.Attachments = []string{}
	return nil
}

const taskColumns = `t.id, t.title, t.description, t.due_date, t.status, t.priority,
	t.project_id, t.assignee_id, t.reporter_id, t.created_at, t.updated_at,
	COALESCE(u.name, ''), COALESCE(p.name, '')`

const taskJoins = `FROM tasks t
	LEFT JOIN users u ON u.id = t.assignee_id
	LEFT JOIN projects p ON p.id = t.project_id`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var status, priority string
	var assignee sql.NullString
	if err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.DueDate, &status, &priority,
		&t.ProjectID, &assignee, &t.ReporterID, &t.CreatedAt, &t.UpdatedAt,
		&t.AssigneeName, &t.ProjectName,
	); err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)
	t.AssigneeID = assignee.String
	t.Comments = []Comment{}
	t.Attachments = []string{}
	return &t, nil
}

// GetTask returns one task with its comments and attachments.
func (s *Store) GetTask(id string) (*Task, error) {
	t, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` `+taskJoins+` WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	byID := map[string]*Task{t.ID: t}
	if err := s.loadChildren(byID, "t.id = ?", []any{id}); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns tasks matching filter in insertion order, with assignee and
// project names resolved and children loaded.
func (s *Store) ListTasks(filter TaskFilter) ([]Task, error) {
	where, args := filter.where()
	rows, err := s.db.Query(`SELECT `+taskColumns+` `+taskJoins+` WHERE `+where+` ORDER BY t.rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	byID := make(map[string]*Task)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	rows.Close()

	if err := s.loadChildren(byID, where, args); err != nil {
		return nil, err
	}

	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, *t)
	}
	return out, nil
}

// loadChildren fills comments and attachments for the tasks selected by where.
func (s *Store) loadChildren(byID map[string]*Task, where string, args []any) error {
	if len(byID) == 0 {
		return nil
	}
	sub := `SELECT t.id FROM tasks t WHERE ` + where

	rows, err := s.db.Query(`SELECT id, task_id, user_id, text, created_at FROM task_comments
		WHERE task_id IN (`+sub+`) ORDER BY id`, args...)
	if err != nil {
		return fmt.Errorf("query comments: %w", err)
	}
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Text, &c.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan comment: %w", err)
		}
		if t, ok := byID[c.TaskID]; ok {
			t.Comments = append(t.Comments, c)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate comments: %w", err)
	}
	rows.Close()

	rows, err = s.db.Query(`SELECT task_id, ref FROM task_attachments
		WHERE task_id IN (`+sub+`) ORDER BY id`, args...)
	if err != nil {
		return fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var taskID, ref string
		if err := rows.Scan(&taskID, &ref); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		if t, ok := byID[taskID]; ok {
			t.Attachments = append(t.Attachments, ref)
		}
	}
	return rows.Err()
}

// UpdateTaskStatus overwrites the status column in a single statement. Last write wins.
func (s *Store) UpdateTaskStatus(id string, status Status, at time.Time) error {
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, string(status), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return expectAffected(res, "task", id)
}

// AppendComment adds a comment row to a task. Each append is its own row, so
// concurrent appends never overwrite each other.
func (s *Store) AppendComment(taskID, userID, text string, at time.Time) (*Comment, error) {
	c := &Comment{TaskID: taskID, UserID: userID, Text: text, CreatedAt: at.UTC()}
	res, err := s.db.Exec(
		`INSERT INTO task_comments (task_id, user_id, text, created_at) VALUES (?, ?, ?, ?)`,
		taskID, userID, text, c.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("insert comment: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("comment id: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE tasks SET updated_at = ? WHERE id = ?`, c.CreatedAt, taskID); err != nil {
		return nil, fmt.Errorf("touch task: %w", err)
	}
	return c, nil
}

// AppendAttachment adds an opaque file reference to a task.
func (s *Store) AppendAttachment(taskID, ref string, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO task_attachments (task_id, ref, created_at) VALUES (?, ?, ?)`,
		taskID, ref, at.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
		}
		return fmt.Errorf("insert attachment: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE tasks SET updated_at = ? WHERE id = ?`, at.UTC(), taskID); err != nil {
		return fmt.Errorf("touch task: %w", err)
	}
	return nil
}

// DeleteTask removes a task with its comments and attachments.
func (s *Store) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectAffected(res, "task", id)
}
