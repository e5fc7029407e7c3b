package reminder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func TestReminderWaitsUntilLeadTime(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities

	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	env.SetStartTime(start)

	req := Request{TaskID: "t1", DueDate: start.Add(72 * time.Hour), LeadTime: 24 * time.Hour}

	var firedAt time.Time
	env.OnActivity(a.NotifyDueActivity, mock.Anything, "t1").Run(func(args mock.Arguments) {
		firedAt = env.Now()
	}).Return(Result{Notified: true, AssigneeID: "u1"}, nil)

	env.ExecuteWorkflow(DueDateReminderWorkflow, req)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res Result
	require.NoError(t, env.GetWorkflowResult(&res))
	require.True(t, res.Notified)
	require.Equal(t, "u1", res.AssigneeID)
	require.False(t, firedAt.Before(req.FireAt()), "fired at %v, before %v", firedAt, req.FireAt())
}

func TestReminderPastDueFiresImmediately(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities

	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	env.SetStartTime(start)

	var firedAt time.Time
	env.OnActivity(a.NotifyDueActivity, mock.Anything, "late").Run(func(args mock.Arguments) {
		firedAt = env.Now()
	}).Return(Result{Skipped: "task completed"}, nil)

	env.ExecuteWorkflow(DueDateReminderWorkflow, Request{TaskID: "late", DueDate: start.Add(-time.Hour), LeadTime: time.Hour})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	require.WithinDuration(t, start, firedAt, time.Second)

	var res Result
	require.NoError(t, env.GetWorkflowResult(&res))
	require.False(t, res.Notified)
	require.Equal(t, "task completed", res.Skipped)
}

func TestReminderActivityFailure(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities

	env.OnActivity(a.NotifyDueActivity, mock.Anything, mock.Anything).Return(Result{}, errors.New("database is locked"))

	env.ExecuteWorkflow(DueDateReminderWorkflow, Request{TaskID: "t1", DueDate: time.Now()})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}
