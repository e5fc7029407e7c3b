package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
[general]
log_level = "info"
state_db = "/tmp/tracker-test.db"

[api]
bind = "127.0.0.1:8900"
admin_emails = ["  Root@Example.com "]

[notify]
queue_size = 10
write_timeout = "5s"

[workflow]
status_mode = "assignee-only"

[reminders]
enabled = false
lead_time = "2h"
`

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Bind != "127.0.0.1:8900" {
		t.Errorf("Bind = %q, want 127.0.0.1:8900", cfg.API.Bind)
	}
	if cfg.Notify.QueueSize != 10 {
		t.Errorf("QueueSize = %d, want 10", cfg.Notify.QueueSize)
	}
	if cfg.Notify.WriteTimeout.Duration != 5*time.Second {
		t.Errorf("WriteTimeout = %v, want 5s", cfg.Notify.WriteTimeout)
	}
	if cfg.Workflow.StatusMode != StatusModeAssigneeOnly {
		t.Errorf("StatusMode = %q, want %q", cfg.Workflow.StatusMode, StatusModeAssigneeOnly)
	}
	if cfg.Reminders.LeadTime.Duration != 2*time.Hour {
		t.Errorf("LeadTime = %v, want 2h", cfg.Reminders.LeadTime)
	}
	if !cfg.IsAdminEmail("root@example.com") {
		t.Error("expected admin email to be normalized")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[general]
state_db = "/tmp/tracker-test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.General.LogLevel)
	}
	if cfg.Notify.ClientQueueSize != 64 {
		t.Errorf("ClientQueueSize = %d, want 64", cfg.Notify.ClientQueueSize)
	}
	if cfg.Notify.PingInterval.Duration != 30*time.Second {
		t.Errorf("PingInterval = %v, want 30s", cfg.Notify.PingInterval)
	}
	if cfg.Workflow.StatusMode != StatusModeAssigneeOrManager {
		t.Errorf("StatusMode = %q, want default", cfg.Workflow.StatusMode)
	}
	if cfg.Reminders.TaskQueue != "tracker-reminders" {
		t.Errorf("TaskQueue = %q, want tracker-reminders", cfg.Reminders.TaskQueue)
	}
	if len(cfg.Workflow.Transitions) != 0 {
		t.Errorf("expected no transition guard by default, got %v", cfg.Workflow.Transitions)
	}
}

func TestLoadUnknownStatusMode(t *testing.T) {
	path := writeTestConfig(t, validConfig+`
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("baseline should load: %v", err)
	}

	path = writeTestConfig(t, `
[general]
state_db = "/tmp/tracker-test.db"

[workflow]
status_mode = "anyone"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown status mode")
	}
}

func TestLoadUnknownLogLevel(t *testing.T) {
	path := writeTestConfig(t, `
[general]
log_level = "chatty"
state_db = "/tmp/tracker-test.db"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestLoadTransitions(t *testing.T) {
	path := writeTestConfig(t, validConfig+`
[workflow.transitions]
"To-Do" = ["In Progress"]
"In Progress" = ["Completed", "To-Do"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.Workflow.Transitions["In Progress"]; len(got) != 2 {
		t.Fatalf("expected 2 targets from In Progress, got %v", got)
	}
}

func TestLoadTransitionsUnknownStatus(t *testing.T) {
	path := writeTestConfig(t, validConfig+`
[workflow.transitions]
"To-Do" = ["Done"]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown transition target")
	}
}

func TestLoadMissingStateDBDir(t *testing.T) {
	path := writeTestConfig(t, `
[general]
state_db = "/nonexistent-tracker-dir/tracker.db"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing state_db directory")
	}
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"60s", 60 * time.Second},
		{"2m", 2 * time.Minute},
		{"1h", time.Hour},
		{"500ms", 500 * time.Millisecond},
	}
	for _, tt := range tests {
		var d Duration
		if err := d.UnmarshalText([]byte(tt.input)); err != nil {
			t.Errorf("UnmarshalText(%q) error: %v", tt.input, err)
			continue
		}
		if d.Duration != tt.want {
			t.Errorf("UnmarshalText(%q) = %v, want %v", tt.input, d.Duration, tt.want)
		}
	}
}

func TestDurationUnmarshalInvalid(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestValidateReload(t *testing.T) {
	base := Default()

	same := base.Clone()
	same.General.LogLevel = "debug"
	if err := ValidateReload(base, same); err != nil {
		t.Fatalf("log level change should be reloadable: %v", err)
	}

	moved := base.Clone()
	moved.General.StateDB = "/elsewhere.db"
	if err := ValidateReload(base, moved); err == nil {
		t.Fatal("expected state_db change to require restart")
	}

	rebound := base.Clone()
	rebound.API.Bind = "0.0.0.0:9999"
	if err := ValidateReload(base, rebound); err == nil {
		t.Fatal("expected api.bind change to require restart")
	}

	if err := ValidateReload(nil, base); err == nil {
		t.Fatal("expected error for nil config")
	}
}
