package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/tracker/internal/bus"
	"github.com/antigravity-dev/tracker/internal/policy"
	"github.com/antigravity-dev/tracker/internal/store"
)

// NewTask carries the caller-supplied fields of CreateTask.
type NewTask struct {
	Title       string
	Description string
	DueDate     time.Time
	Status      store.Status   // defaults to To-Do
	Priority    store.Priority // defaults to Medium
	ProjectID   string
	AssigneeID  string
}

// TaskEvent is the payload published for every task notification.
type TaskEvent struct {
	TaskID    string         `json:"task_id"`
	Title     string         `json:"title"`
	ProjectID string         `json:"project_id"`
	Status    store.Status   `json:"status"`
	Priority  store.Priority `json:"priority"`
	DueDate   time.Time      `json:"due_date"`
	ActorID   string         `json:"actor_id,omitempty"`
	Comment   string         `json:"comment,omitempty"`
	FileURL   string         `json:"file_url,omitempty"`
}

// EventFor builds the event payload describing t.
func EventFor(t *store.Task, actorID string) TaskEvent {
	return TaskEvent{
		TaskID:    t.ID,
		Title:     t.Title,
		ProjectID: t.ProjectID,
		Status:    t.Status,
		Priority:  t.Priority,
		DueDate:   t.DueDate,
		ActorID:   actorID,
	}
}

func (e *Engine) notifyAssignee(kind string, t *store.Task, ev TaskEvent) {
	if t.AssigneeID == "" {
		return
	}
	e.publish(bus.Topic(kind, t.AssigneeID), ev)
}

// CreateTask stores a new task reported by actor and notifies its assignee.
func (e *Engine) CreateTask(ctx context.Context, actor Actor, in NewTask) (*store.Task, error) {
	if err := policy.Check(actor.Role, policy.CreateTask); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationf("title is required")
	}
	if in.DueDate.IsZero() {
		return nil, validationf("due date is required")
	}
	if in.ProjectID == "" {
		return nil, validationf("project is required")
	}
	status := in.Status
	if status == "" {
		status = store.StatusToDo
	}
	if !status.Valid() {
		return nil, validationf("unknown status %q", status)
	}
	priority := in.Priority
	if priority == "" {
		priority = store.PriorityMedium
	}
	if !priority.Valid() {
		return nil, validationf("unknown priority %q", priority)
	}

	if _, err := e.store.GetProject(in.ProjectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("project", in.ProjectID)
		}
		return nil, storeErr("load project", err)
	}
	if in.AssigneeID != "" {
		if _, err := e.store.GetUser(in.AssigneeID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, notFound("assignee", in.AssigneeID)
			}
			return nil, storeErr("load assignee", err)
		}
	}

	task := &store.Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: in.Description,
		DueDate:     in.DueDate.UTC(),
		Status:      status,
		Priority:    priority,
		ProjectID:   in.ProjectID,
		AssigneeID:  in.AssigneeID,
		ReporterID:  actor.ID,
		Comments:    []store.Comment{},
		Attachments: []string{},
		CreatedAt:   e.now().UTC(),
	}
	if err := e.store.InsertTask(task); err != nil {
		return nil, storeErr("insert task", err)
	}

	e.logger.Info("task created", "task_id", task.ID, "project_id", task.ProjectID, "assignee_id", task.AssigneeID, "actor_id", actor.ID)
	e.notifyAssignee(bus.KindTaskAssigned, task, EventFor(task, actor.ID))

	if e.reminders != nil {
		if err := e.reminders.ScheduleReminder(ctx, task.ID, task.DueDate); err != nil {
			e.logger.Warn("schedule due-date reminder failed", "task_id", task.ID, "error", err)
		}
	}
	return task, nil
}

func (e *Engine) loadTask(id string) (*store.Task, error) {
	t, err := e.store.GetTask(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("task", id)
	}
	if err != nil {
		return nil, storeErr("load task", err)
	}
	return t, nil
}

// UpdateStatus sets a task's status. Concurrent updates race; the last
// write wins and the stored value is always one of the enumerated statuses.
func (e *Engine) UpdateStatus(ctx context.Context, actor Actor, taskID string, status store.Status) (*store.Task, error) {
	task, err := e.loadTask(taskID)
	if err != nil {
		return nil, err
	}

	mode, guard := e.statusRules()
	if !policy.CanUpdateStatus(actor.Role, actor.ID, task.AssigneeID, mode) {
		return nil, fmt.Errorf("%w: %s may not update status of task %s", ErrForbidden, actor.ID, taskID)
	}
	if !status.Valid() {
		return nil, validationf("unknown status %q", status)
	}
	if !guard.Allows(task.Status, status) {
		return nil, validationf("transition %q -> %q is not allowed (allowed: %s)", task.Status, status, describeTargets(guard.Next(task.Status)))
	}

	at := e.now().UTC()
	if err := e.store.UpdateTaskStatus(taskID, status, at); err != nil {
		return nil, storeErr("update status", err)
	}
	prev := task.Status
	task.Status = status
	task.UpdatedAt = at

	e.logger.Info("task status updated", "task_id", taskID, "from", prev, "to", status, "actor_id", actor.ID)
	e.notifyAssignee(bus.KindTaskUpdated, task, EventFor(task, actor.ID))
	return task, nil
}

// AddComment appends a comment by actor and notifies the assignee.
func (e *Engine) AddComment(ctx context.Context, actor Actor, taskID, text string) (*store.Task, error) {
	if err := policy.Check(actor.Role, policy.AddComment); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, validationf("comment text is required")
	}
	task, err := e.loadTask(taskID)
	if err != nil {
		return nil, err
	}

	c, err := e.store.AppendComment(taskID, actor.ID, text, e.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("task", taskID)
	}
	if err != nil {
		return nil, storeErr("append comment", err)
	}
	task.Comments = append(task.Comments, *c)
	task.UpdatedAt = c.CreatedAt

	ev := EventFor(task, actor.ID)
	ev.Comment = text
	e.notifyAssignee(bus.KindTaskComment, task, ev)
	return task, nil
}

// AddAttachment appends an opaque file reference and notifies the assignee.
func (e *Engine) AddAttachment(ctx context.Context, actor Actor, taskID, fileURL string) (*store.Task, error) {
	if err := policy.Check(actor.Role, policy.AddAttachment); err != nil {
		return nil, err
	}
	fileURL = strings.TrimSpace(fileURL)
	if fileURL == "" {
		return nil, validationf("file reference is required")
	}
	task, err := e.loadTask(taskID)
	if err != nil {
		return nil, err
	}

	at := e.now().UTC()
	err = e.store.AppendAttachment(taskID, fileURL, at)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("task", taskID)
	}
	if err != nil {
		return nil, storeErr("append attachment", err)
	}
	task.Attachments = append(task.Attachments, fileURL)
	task.UpdatedAt = at

	ev := EventFor(task, actor.ID)
	ev.FileURL = fileURL
	e.notifyAssignee(bus.KindTaskFile, task, ev)
	return task, nil
}

// GetTask returns a task with its comments and attachments.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*store.Task, error) {
	return e.loadTask(taskID)
}

// ListByProject returns a project's tasks in creation order with assignee names resolved.
func (e *Engine) ListByProject(ctx context.Context, projectID string) ([]store.Task, error) {
	tasks, err := e.store.ListTasks(store.TaskFilter{ProjectID: projectID})
	if err != nil {
		return nil, storeErr("list project tasks", err)
	}
	return tasks, nil
}

// ListAssignedTo returns the tasks assigned to userID with project names resolved.
func (e *Engine) ListAssignedTo(ctx context.Context, userID string) ([]store.Task, error) {
	tasks, err := e.store.ListTasks(store.TaskFilter{AssigneeID: userID})
	if err != nil {
		return nil, storeErr("list assigned tasks", err)
	}
	return tasks, nil
}

// DeleteTask removes a task with its comments and attachments.
func (e *Engine) DeleteTask(ctx context.Context, actor Actor, taskID string) error {
	if err := policy.Check(actor.Role, policy.DeleteTask); err != nil {
		return err
	}
	err := e.store.DeleteTask(taskID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("task", taskID)
	}
	if err != nil {
		return storeErr("delete task", err)
	}
	e.logger.Info("task deleted", "task_id", taskID, "actor_id", actor.ID)
	return nil
}
