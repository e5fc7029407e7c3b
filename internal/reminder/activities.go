package reminder

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"

	"github.com/antigravity-dev/tracker/internal/bus"
	"github.com/antigravity-dev/tracker/internal/store"
	taskflow "github.com/antigravity-dev/tracker/internal/workflow"
)

// TaskGetter loads a task. *store.Store satisfies it.
type TaskGetter interface {
	GetTask(id string) (*store.Task, error)
}

// Activities holds dependencies for reminder activity methods.
type Activities struct {
	Store     TaskGetter
	Publisher taskflow.Publisher
}

// NotifyDueActivity publishes task-due to the assignee of a task that still
// exists, is still open and has someone assigned.
func (a *Activities) NotifyDueActivity(ctx context.Context, taskID string) (Result, error) {
	logger := activity.GetLogger(ctx)

	t, err := a.Store.GetTask(taskID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("Task gone, skipping reminder", "TaskID", taskID)
		return Result{Skipped: "task deleted"}, nil
	}
	if err != nil {
		return Result{}, err
	}

	switch {
	case t.Status == store.StatusCompleted:
		return Result{Skipped: "task completed"}, nil
	case t.AssigneeID == "":
		return Result{Skipped: "task unassigned"}, nil
	}

	a.Publisher.Publish(bus.Topic(bus.KindTaskDue, t.AssigneeID), taskflow.EventFor(t, ""))
	return Result{Notified: true, AssigneeID: t.AssigneeID}, nil
}
