package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/tracker/internal/bus"
	"github.com/antigravity-dev/tracker/internal/policy"
	"github.com/antigravity-dev/tracker/internal/store"
)

var (
	admin   = Actor{ID: "admin", Role: policy.RoleAdmin}
	manager = Actor{ID: "mgr", Role: policy.RoleManager}
	alice   = Actor{ID: "alice", Role: policy.RoleMember}
	bob     = Actor{ID: "bob", Role: policy.RoleMember}
)

var due = time.Date(2026, 12, 1, 17, 0, 0, 0, time.UTC)

type recordedEvent struct {
	topic   string
	payload any
}

// recorder is a synchronous Publisher for asserting what the engine emits.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Publish(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{topic, payload})
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.topic)
	}
	return out
}

func (r *recorder) last() recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) ScheduleReminder(ctx context.Context, taskID string, dueDate time.Time) error {
	return m.Called(ctx, taskID, dueDate).Error(0)
}

type fixture struct {
	store   *store.Store
	events  *recorder
	engine  *Engine
	project *store.Project
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for _, a := range []Actor{admin, manager, alice, bob} {
		require.NoError(t, s.CreateUser(&store.User{
			ID: a.ID, Name: a.ID + " name", Email: a.ID + "@example.com", Role: a.Role, Token: "tok-" + a.ID,
		}))
	}

	rec := &recorder{}
	e := New(s, rec, opts)
	p, err := e.CreateProject(context.Background(), manager, NewProject{Name: "Apollo"})
	require.NoError(t, err)
	return &fixture{store: s, events: rec, engine: e, project: p}
}

func (f *fixture) task(t *testing.T, assignee string) *store.Task {
	t.Helper()
	task, err := f.engine.CreateTask(context.Background(), manager, NewTask{
		Title: "Fix bug", DueDate: due, ProjectID: f.project.ID, AssigneeID: assignee,
	})
	require.NoError(t, err)
	return task
}

func TestCreateTaskDefaultsAndEvent(t *testing.T) {
	f := newFixture(t, Options{})
	task := f.task(t, alice.ID)

	assert.Equal(t, store.StatusToDo, task.Status)
	assert.Equal(t, store.PriorityMedium, task.Priority)
	assert.Equal(t, manager.ID, task.ReporterID)
	assert.NotEmpty(t, task.ID)

	require.Equal(t, []string{"task-assigned-alice"}, f.events.topics())
	ev, ok := f.events.last().payload.(TaskEvent)
	require.True(t, ok)
	assert.Equal(t, task.ID, ev.TaskID)
	assert.Equal(t, "Fix bug", ev.Title)
}

func TestCreateTaskUnassignedPublishesNothing(t *testing.T) {
	f := newFixture(t, Options{})
	f.task(t, "")
	assert.Empty(t, f.events.topics())
}

func TestCreateTaskValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		in   NewTask
		want error
	}{
		{"missing title", NewTask{Title: "  ", DueDate: due, ProjectID: f.project.ID}, ErrValidation},
		{"missing due date", NewTask{Title: "x", ProjectID: f.project.ID}, ErrValidation},
		{"missing project", NewTask{Title: "x", DueDate: due}, ErrValidation},
		{"bad status", NewTask{Title: "x", DueDate: due, ProjectID: f.project.ID, Status: "Done"}, ErrValidation},
		{"bad priority", NewTask{Title: "x", DueDate: due, ProjectID: f.project.ID, Priority: "Urgent"}, ErrValidation},
		{"unknown project", NewTask{Title: "x", DueDate: due, ProjectID: "nope"}, ErrNotFound},
		{"unknown assignee", NewTask{Title: "x", DueDate: due, ProjectID: f.project.ID, AssigneeID: "ghost"}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateTask(ctx, manager, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMemberDenials(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	task := f.task(t, "")

	_, err := f.engine.CreateTask(ctx, alice, NewTask{Title: "x", DueDate: due, ProjectID: f.project.ID})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, f.engine.DeleteProject(ctx, alice, f.project.ID), ErrForbidden)
	_, err = f.engine.AddMember(ctx, alice, f.project.ID, bob.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.engine.AddComment(ctx, alice, task.ID, "looks good")
	assert.NoError(t, err)

	p, err := f.engine.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Len(t, p.Members, 1, "denied AddMember must not mutate")
}

func TestUpdateStatusLastWriteApplies(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	task := f.task(t, alice.ID)

	for _, st := range []store.Status{store.StatusInProgress, store.StatusCompleted, store.StatusToDo} {
		_, err := f.engine.UpdateStatus(ctx, alice, task.ID, st)
		require.NoError(t, err)
		got, err := f.engine.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, st, got.Status)
	}
	assert.Equal(t, "task-updated-alice", f.events.last().topic)
}

func TestUpdateStatusAuthorization(t *testing.T) {
	ctx := context.Background()

	t.Run("assignee-or-manager", func(t *testing.T) {
		f := newFixture(t, Options{})
		task := f.task(t, alice.ID)

		_, err := f.engine.UpdateStatus(ctx, bob, task.ID, store.StatusInProgress)
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = f.engine.UpdateStatus(ctx, manager, task.ID, store.StatusInProgress)
		assert.NoError(t, err)
		_, err = f.engine.UpdateStatus(ctx, admin, task.ID, store.StatusCompleted)
		assert.NoError(t, err)
	})

	t.Run("assignee-only", func(t *testing.T) {
		f := newFixture(t, Options{StatusMode: policy.AssigneeOnly})
		task := f.task(t, alice.ID)

		_, err := f.engine.UpdateStatus(ctx, manager, task.ID, store.StatusInProgress)
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = f.engine.UpdateStatus(ctx, alice, task.ID, store.StatusInProgress)
		assert.NoError(t, err)
	})
}

func TestUpdateStatusErrors(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	task := f.task(t, alice.ID)

	_, err := f.engine.UpdateStatus(ctx, alice, "missing", store.StatusCompleted)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.UpdateStatus(ctx, alice, task.ID, store.Status("Done"))
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.engine.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusToDo, got.Status)
}

func TestUpdateStatusAnyToAnyByDefault(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	task := f.task(t, alice.ID)

	_, err := f.engine.UpdateStatus(ctx, alice, task.ID, store.StatusCompleted)
	require.NoError(t, err)
	_, err = f.engine.UpdateStatus(ctx, alice, task.ID, store.StatusToDo)
	require.NoError(t, err)
}

func TestUpdateStatusTransitionGuard(t *testing.T) {
	f := newFixture(t, Options{Transitions: linearGuard})
	ctx := context.Background()
	task := f.task(t, alice.ID)

	_, err := f.engine.UpdateStatus(ctx, alice, task.ID, store.StatusCompleted)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorContains(t, err, "(allowed: In Progress)")

	_, err = f.engine.UpdateStatus(ctx, alice, task.ID, store.StatusInProgress)
	require.NoError(t, err)
	_, err = f.engine.UpdateStatus(ctx, alice, task.ID, store.StatusCompleted)
	require.NoError(t, err)

	_, err = f.engine.UpdateStatus(ctx, alice, task.ID, store.StatusToDo)
	assert.ErrorContains(t, err, "(allowed: none)")

	f.engine.SetStatusRules(policy.AssigneeOrManager, nil)
	_, err = f.engine.UpdateStatus(ctx, alice, task.ID, store.StatusToDo)
	require.NoError(t, err)
}

func TestUpdateStatusUnassignedSkipsEvent(t *testing.T) {
	f := newFixture(t, Options{})
	task := f.task(t, "")

	_, err := f.engine.UpdateStatus(context.Background(), manager, task.ID, store.StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, f.events.topics())
}

func TestConcurrentUpdateStatus(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	task := f.task(t, alice.ID)

	var wg sync.WaitGroup
	for _, st := range []store.Status{store.StatusInProgress, store.StatusCompleted} {
		wg.Add(1)
		go func(st store.Status) {
			defer wg.Done()
			_, err := f.engine.UpdateStatus(ctx, alice, task.ID, st)
			assert.NoError(t, err)
		}(st)
	}
	wg.Wait()

	got, err := f.engine.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Contains(t, []store.Status{store.StatusInProgress, store.StatusCompleted}, got.Status)
}

func TestAddCommentAppendOnly(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	task := f.task(t, alice.ID)

	_, err := f.engine.AddComment(ctx, bob, task.ID, "first")
	require.NoError(t, err)
	prior := 1

	const n = 5
	for i := 0; i < n; i++ {
		_, err := f.engine.AddComment(ctx, alice, task.ID, fmt.Sprintf("note %d", i))
		require.NoError(t, err)
	}

	got, err := f.engine.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, got.Comments, prior+n)
	assert.Equal(t, "first", got.Comments[0].Text)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("note %d", i), got.Comments[prior+i].Text)
		assert.Equal(t, alice.ID, got.Comments[prior+i].UserID)
	}

	last := f.events.last()
	assert.Equal(t, "task-comment-alice", last.topic)
	ev := last.payload.(TaskEvent)
	assert.Equal(t, "note 4", ev.Comment)
	assert.Equal(t, "Fix bug", ev.Title)
}

func TestConcurrentCommentsAreAllKept(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	task := f.task(t, alice.ID)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.AddComment(ctx, bob, task.ID, fmt.Sprintf("c%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.engine.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, got.Comments, 10)
}

func TestAddCommentErrors(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	task := f.task(t, alice.ID)

	_, err := f.engine.AddComment(ctx, alice, task.ID, "   ")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.engine.AddComment(ctx, alice, "missing", "hi")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddAttachment(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	task := f.task(t, alice.ID)

	got, err := f.engine.AddAttachment(ctx, bob, task.ID, "https://files.example.com/design.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://files.example.com/design.pdf"}, got.Attachments)

	last := f.events.last()
	assert.Equal(t, "task-file-alice", last.topic)
	assert.Equal(t, "https://files.example.com/design.pdf", last.payload.(TaskEvent).FileURL)

	_, err = f.engine.AddAttachment(ctx, bob, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.engine.AddAttachment(ctx, bob, task.ID, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListQueries(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	t1 := f.task(t, alice.ID)
	t2 := f.task(t, "")

	byProject, err := f.engine.ListByProject(ctx, f.project.ID)
	require.NoError(t, err)
	require.Len(t, byProject, 2)
	assert.Equal(t, t1.ID, byProject[0].ID)
	assert.Equal(t, "alice name", byProject[0].AssigneeName)
	assert.Equal(t, t2.ID, byProject[1].ID)

	mine, err := f.engine.ListAssignedTo(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Apollo", mine[0].ProjectName)

	none, err := f.engine.ListAssignedTo(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteTask(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	task := f.task(t, alice.ID)

	assert.ErrorIs(t, f.engine.DeleteTask(ctx, alice, task.ID), ErrForbidden)
	require.NoError(t, f.engine.DeleteTask(ctx, manager, task.ID))
	assert.ErrorIs(t, f.engine.DeleteTask(ctx, manager, task.ID), ErrNotFound)
}

func TestCreateProjectAddsCreatorOnce(t *testing.T) {
	f := newFixture(t, Options{})
	require.Len(t, f.project.Members, 1)
	assert.Equal(t, manager.ID, f.project.Members[0].ID)
	assert.Equal(t, manager.ID, f.project.CreatedBy)

	_, err := f.engine.CreateProject(context.Background(), manager, NewProject{Name: " "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMembershipRoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	p, err := f.engine.AddMember(ctx, manager, f.project.ID, alice.ID)
	require.NoError(t, err)
	require.Len(t, p.Members, 2)

	_, err = f.engine.AddMember(ctx, manager, f.project.ID, alice.ID)
	assert.ErrorIs(t, err, ErrConflict)

	p, err = f.engine.RemoveMember(ctx, manager, f.project.ID, alice.ID)
	require.NoError(t, err)
	require.Len(t, p.Members, 1)

	_, err = f.engine.RemoveMember(ctx, manager, f.project.ID, alice.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	p, err = f.engine.AddMember(ctx, manager, f.project.ID, alice.ID)
	require.NoError(t, err)
	assert.Len(t, p.Members, 2)

	_, err = f.engine.AddMember(ctx, manager, "nope", alice.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.engine.AddMember(ctx, manager, f.project.ID, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListProjects(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.engine.ListProjects(ctx, manager, true)
	assert.ErrorIs(t, err, ErrForbidden)

	all, err := f.engine.ListProjects(ctx, admin, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	mine, err := f.engine.ListProjects(ctx, alice, false)
	require.NoError(t, err)
	assert.Empty(t, mine)

	mine, err = f.engine.ListProjects(ctx, manager, false)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestDeleteProjectAdminOnly(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	task := f.task(t, alice.ID)

	assert.ErrorIs(t, f.engine.DeleteProject(ctx, manager, f.project.ID), ErrForbidden)
	require.NoError(t, f.engine.DeleteProject(ctx, admin, f.project.ID))
	assert.ErrorIs(t, f.engine.DeleteProject(ctx, admin, f.project.ID), ErrNotFound)

	got, err := f.engine.GetTask(ctx, task.ID)
	require.NoError(t, err, "tasks outlive their project")
	assert.Empty(t, got.ProjectName)
}

func TestReminderScheduledOnCreate(t *testing.T) {
	sched := &mockScheduler{}
	sched.On("ScheduleReminder", mock.Anything, mock.AnythingOfType("string"), due).Return(nil).Once()

	f := newFixture(t, Options{Reminders: sched})
	f.task(t, alice.ID)
	sched.AssertExpectations(t)
}

func TestReminderFailureDoesNotFailCreate(t *testing.T) {
	sched := &mockScheduler{}
	sched.On("ScheduleReminder", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("temporal unavailable"))

	f := newFixture(t, Options{Reminders: sched})
	task := f.task(t, alice.ID)
	assert.NotEmpty(t, task.ID)
}

// A manager creates a task for alice; the assignment reaches a live
// subscriber, while a subscriber arriving afterwards sees nothing.
func TestAssignmentDeliveredThroughBus(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()
	for _, a := range []Actor{manager, alice} {
		require.NoError(t, s.CreateUser(&store.User{ID: a.ID, Name: a.ID, Email: a.ID + "@x.io", Role: a.Role, Token: a.ID}))
	}

	b := bus.New(8, nil)
	defer b.Close()
	e := New(s, b, Options{})
	ctx := context.Background()

	live := make(chan bus.Event, 1)
	b.Subscribe("task-assigned-alice", func(ev bus.Event) { live <- ev })

	p, err := e.CreateProject(ctx, manager, NewProject{Name: "Apollo"})
	require.NoError(t, err)
	task, err := e.CreateTask(ctx, manager, NewTask{Title: "Fix bug", DueDate: due, ProjectID: p.ID, AssigneeID: alice.ID})
	require.NoError(t, err)

	select {
	case ev := <-live:
		assert.Equal(t, bus.KindTaskAssigned, ev.Kind)
		assert.Equal(t, task.ID, ev.Payload.(TaskEvent).TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("assignment not delivered")
	}

	late := make(chan bus.Event, 1)
	b.Subscribe("task-assigned-alice", func(ev bus.Event) { late <- ev })
	select {
	case ev := <-late:
		t.Fatalf("late subscriber received %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
