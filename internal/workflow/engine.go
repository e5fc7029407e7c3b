package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/antigravity-dev/tracker/internal/policy"
	"github.com/antigravity-dev/tracker/internal/store"
)

// Store is the persistence the engine needs. *store.Store satisfies it.
type Store interface {
	GetUser(id string) (*store.User, error)

	CreateProject(p *store.Project) error
	GetProject(id string) (*store.Project, error)
	ListProjects() ([]store.Project, error)
	ListProjectsForUser(userID string) ([]store.Project, error)
	DeleteProject(id string) error
	AddProjectMember(projectID, userID string) error
	RemoveProjectMember(projectID, userID string) error

	InsertTask(t *store.Task) error
	GetTask(id string) (*store.Task, error)
	ListTasks(filter store.TaskFilter) ([]store.Task, error)
	UpdateTaskStatus(id string, status store.Status, at time.Time) error
	AppendComment(taskID, userID, text string, at time.Time) (*store.Comment, error)
	AppendAttachment(taskID, ref string, at time.Time) error
	DeleteTask(id string) error
}

// Publisher delivers notification events. *bus.Bus satisfies it.
type Publisher interface {
	Publish(topic string, payload any)
}

// ReminderScheduler arranges a due-date reminder for a task.
type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, taskID string, dueDate time.Time) error
}

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	ID   string
	Role policy.Role
}

// Options tune engine behaviour. The zero value is usable.
type Options struct {
	StatusMode  policy.StatusMode // defaults to AssigneeOrManager
	Transitions Transitions       // nil allows any-to-any
	Reminders   ReminderScheduler // nil disables reminders
	Now         func() time.Time
	Logger      *slog.Logger
}

// Engine applies task and project commands: it consults the role policy,
// mutates the store and publishes events.
type Engine struct {
	store     Store
	publisher Publisher
	reminders ReminderScheduler
	now       func() time.Time
	logger    *slog.Logger

	mu          sync.RWMutex
	statusMode  policy.StatusMode
	transitions Transitions
}

// New constructs an engine over st that publishes to pub.
func New(st Store, pub Publisher, opts Options) *Engine {
	e := &Engine{
		store:     st,
		publisher: pub,
		reminders: opts.Reminders,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "workflow")
	e.SetStatusRules(opts.StatusMode, opts.Transitions)
	return e
}

// SetStatusRules replaces the status override mode and transition guard.
// It is safe to call while the engine serves requests.
func (e *Engine) SetStatusRules(mode policy.StatusMode, t Transitions) {
	if mode == "" {
		mode = policy.AssigneeOrManager
	}
	e.mu.Lock()
	e.statusMode = mode
	e.transitions = t
	e.mu.Unlock()
}

func (e *Engine) statusRules() (policy.StatusMode, Transitions) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusMode, e.transitions
}

func (e *Engine) publish(topic string, payload any) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(topic, payload)
}
