package reminder

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// DueDateReminderWorkflow waits on a durable timer until req.FireAt, then
// runs NotifyDueActivity. A fire time already in the past fires at once.
func DueDateReminderWorkflow(ctx workflow.Context, req Request) (Result, error) {
	logger := workflow.GetLogger(ctx)

	if wait := req.FireAt().Sub(workflow.Now(ctx)); wait > 0 {
		logger.Info("Waiting for reminder time", "TaskID", req.TaskID, "Wait", wait)
		if err := workflow.Sleep(ctx, wait); err != nil {
			return Result{}, err
		}
	}

	actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})

	var a *Activities
	var res Result
	if err := workflow.ExecuteActivity(actCtx, a.NotifyDueActivity, req.TaskID).Get(ctx, &res); err != nil {
		return Result{}, fmt.Errorf("notify due: %w", err)
	}

	logger.Info("Reminder fired", "TaskID", req.TaskID, "Notified", res.Notified, "Skipped", res.Skipped)
	return res, nil
}
