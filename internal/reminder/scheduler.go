package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// Scheduler starts one reminder workflow per task. It satisfies
// workflow.ReminderScheduler.
type Scheduler struct {
	client    client.Client
	taskQueue string
	leadTime  time.Duration
	logger    *slog.Logger
}

// NewScheduler returns a scheduler submitting to taskQueue.
func NewScheduler(c client.Client, taskQueue string, leadTime time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		client:    c,
		taskQueue: taskQueue,
		leadTime:  leadTime,
		logger:    logger.With("component", "reminder"),
	}
}

// ScheduleReminder starts the reminder workflow for taskID. A reminder that
// is already running for the task is left alone.
func (s *Scheduler) ScheduleReminder(ctx context.Context, taskID string, dueDate time.Time) error {
	req := Request{TaskID: taskID, DueDate: dueDate, LeadTime: s.leadTime}
	workflowID := WorkflowID(taskID)

	_, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             s.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}, DueDateReminderWorkflow, req)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			s.logger.Info("reminder already scheduled", "task_id", taskID, "workflow_id", workflowID)
			return nil
		}
		return fmt.Errorf("start reminder for task %s: %w", taskID, err)
	}

	s.logger.Info("reminder scheduled", "task_id", taskID, "workflow_id", workflowID, "fire_at", req.FireAt())
	return nil
}
