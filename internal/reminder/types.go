// Package reminder runs durable due-date reminders on Temporal. Each task
// with a due date gets one workflow that sleeps until shortly before the
// due date and then notifies the assignee.
package reminder

import "time"

// Request starts a DueDateReminderWorkflow.
type Request struct {
	TaskID   string        `json:"task_id"`
	DueDate  time.Time     `json:"due_date"`
	LeadTime time.Duration `json:"lead_time"` // how long before DueDate to fire
}

// FireAt is when the reminder should be delivered.
func (r Request) FireAt() time.Time {
	return r.DueDate.Add(-r.LeadTime)
}

// Result reports what the reminder did once it fired.
type Result struct {
	Notified   bool   `json:"notified"`
	AssigneeID string `json:"assignee_id,omitempty"`
	Skipped    string `json:"skipped,omitempty"` // reason when not notified
}

// WorkflowID is the per-task workflow id; one reminder runs per task.
func WorkflowID(taskID string) string {
	return "task-reminder-" + taskID
}
