// Package policy maps (role, action) pairs to allow/deny decisions.
//
// The table is static and has no side effects; callers turn a denial into
// an authorization failure before touching any state.
package policy

import (
	"errors"
	"fmt"
)

// ErrForbidden is returned when a role may not perform an action.
var ErrForbidden = errors.New("forbidden")

// Role is a user's authoritative role.
type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleManager Role = "Manager"
	RoleMember  Role = "Member"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleMember:
		return true
	}
	return false
}

// ParseRole returns the role named s.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Action is a guarded operation.
type Action string

const (
	CreateProject       Action = "CreateProject"
	DeleteProject       Action = "DeleteProject"
	AddProjectMember    Action = "AddProjectMember"
	RemoveProjectMember Action = "RemoveProjectMember"
	ListAllProjects     Action = "ListAllProjects"
	CreateTask          Action = "CreateTask"
	DeleteTask          Action = "DeleteTask"
	UpdateTaskStatus    Action = "UpdateTaskStatus"
	AddComment          Action = "AddComment"
	AddAttachment       Action = "AddAttachment"
)

var (
	adminOnly      = []Role{RoleAdmin}
	adminOrManager = []Role{RoleAdmin, RoleManager}
	anyRole        = []Role{RoleAdmin, RoleManager, RoleMember}
)

// table lists the roles allowed per action. UpdateTaskStatus here covers the
// role override only; assignees are handled by CanUpdateStatus.
var table = map[Action][]Role{
	CreateProject:       adminOrManager,
	CreateTask:          adminOrManager,
	AddProjectMember:    adminOrManager,
	RemoveProjectMember: adminOrManager,
	DeleteTask:          adminOrManager,
	DeleteProject:       adminOnly,
	ListAllProjects:     adminOnly,
	UpdateTaskStatus:    adminOrManager,
	AddComment:          anyRole,
	AddAttachment:       anyRole,
}

// Allowed reports whether role may perform action. Unknown roles and
// actions are denied.
func Allowed(role Role, action Action) bool {
	for _, r := range table[action] {
		if r == role {
			return true
		}
	}
	return false
}

// Check returns an error wrapping ErrForbidden when role may not perform action.
func Check(role Role, action Action) error {
	if Allowed(role, action) {
		return nil
	}
	return fmt.Errorf("%w: role %q may not %s", ErrForbidden, role, action)
}

// StatusMode selects who may change a task's status.
type StatusMode string

const (
	// AssigneeOrManager lets the assignee and any Admin or Manager update status.
	AssigneeOrManager StatusMode = "assignee-or-manager"
	// AssigneeOnly restricts status updates to the assignee.
	AssigneeOnly StatusMode = "assignee-only"
)

// CanUpdateStatus decides a status change for actorID holding actorRole on a
// task assigned to assigneeID (empty when unassigned).
func CanUpdateStatus(actorRole Role, actorID, assigneeID string, mode StatusMode) bool {
	if assigneeID != "" && actorID == assigneeID {
		return true
	}
	if mode == AssigneeOnly {
		return false
	}
	return Allowed(actorRole, UpdateTaskStatus)
}
