// Package workflow enforces task and project mutation rules and emits
// notification events for them.
package workflow

import (
	"strings"

	"github.com/antigravity-dev/tracker/internal/store"
)

// Transitions is an optional status guard mapping a current status to the
// statuses it may move to. An empty guard allows any-to-any.
type Transitions map[store.Status][]store.Status

// TransitionsFromConfig converts the [workflow.transitions] table.
func TransitionsFromConfig(raw map[string][]string) Transitions {
	if len(raw) == 0 {
		return nil
	}
	t := make(Transitions, len(raw))
	for from, targets := range raw {
		to := make([]store.Status, 0, len(targets))
		for _, s := range targets {
			to = append(to, store.Status(s))
		}
		t[store.Status(from)] = to
	}
	return t
}

// Allows reports whether a task in status from may move to status to.
// Re-applying the current status is always allowed.
func (t Transitions) Allows(from, to store.Status) bool {
	if len(t) == 0 || from == to {
		return true
	}
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Next returns the statuses reachable from the given one.
func (t Transitions) Next(from store.Status) []store.Status {
	if len(t) == 0 {
		var out []store.Status
		for _, s := range store.Statuses {
			if s != from {
				out = append(out, s)
			}
		}
		return out
	}
	return t[from]
}

func describeTargets(to []store.Status) string {
	if len(to) == 0 {
		return "none"
	}
	names := make([]string, len(to))
	for i, s := range to {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
