// Package config loads and validates the tracker TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Status override modes for task status updates.
const (
	StatusModeAssigneeOrManager = "assignee-or-manager"
	StatusModeAssigneeOnly      = "assignee-only"
)

type Config struct {
	General   General   `toml:"general"`
	API       API       `toml:"api"`
	Notify    Notify    `toml:"notify"`
	Workflow  Workflow  `toml:"workflow"`
	Reminders Reminders `toml:"reminders"`
}

type General struct {
	LogLevel string `toml:"log_level"`
	StateDB  string `toml:"state_db"`
	LockFile string `toml:"lock_file"`
}

type API struct {
	Bind               string   `toml:"bind"`
	AllowRoleSelection bool     `toml:"allow_role_selection"` // honor the role field on registration
	AdminEmails        []string `toml:"admin_emails"`         // always registered as Admin
	AuditLog           string   `toml:"audit_log"`
}

type Notify struct {
	QueueSize       int      `toml:"queue_size"`        // per bus subscription
	ClientQueueSize int      `toml:"client_queue_size"` // per websocket connection
	WriteTimeout    Duration `toml:"write_timeout"`
	PingInterval    Duration `toml:"ping_interval"`
}

type Workflow struct {
	StatusMode  string              `toml:"status_mode"`
	Transitions map[string][]string `toml:"transitions"` // empty means any-to-any
}

type Reminders struct {
	Enabled   bool     `toml:"enabled"`
	HostPort  string   `toml:"host_port"`
	Namespace string   `toml:"namespace"`
	TaskQueue string   `toml:"task_queue"`
	LeadTime  Duration `toml:"lead_time"`
}

// Load reads and validates a tracker TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a config with every default applied, for running without a file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.StateDB == "" {
		cfg.General.StateDB = "tracker.db"
	}
	if cfg.General.LockFile == "" {
		cfg.General.LockFile = "/tmp/tracker.lock"
	}

	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1:8080"
	}
	for i, email := range cfg.API.AdminEmails {
		cfg.API.AdminEmails[i] = strings.ToLower(strings.TrimSpace(email))
	}

	if cfg.Notify.QueueSize == 0 {
		cfg.Notify.QueueSize = 64
	}
	if cfg.Notify.ClientQueueSize == 0 {
		cfg.Notify.ClientQueueSize = 64
	}
	if cfg.Notify.WriteTimeout.Duration == 0 {
		cfg.Notify.WriteTimeout.Duration = 10 * time.Second
	}
	if cfg.Notify.PingInterval.Duration == 0 {
		cfg.Notify.PingInterval.Duration = 30 * time.Second
	}

	if cfg.Workflow.StatusMode == "" {
		cfg.Workflow.StatusMode = StatusModeAssigneeOrManager
	}

	if cfg.Reminders.HostPort == "" {
		cfg.Reminders.HostPort = "127.0.0.1:7233"
	}
	if cfg.Reminders.Namespace == "" {
		cfg.Reminders.Namespace = "default"
	}
	if cfg.Reminders.TaskQueue == "" {
		cfg.Reminders.TaskQueue = "tracker-reminders"
	}
	if cfg.Reminders.LeadTime.Duration == 0 {
		cfg.Reminders.LeadTime.Duration = 24 * time.Hour
	}
}

var knownStatuses = map[string]struct{}{
	"To-Do":       {},
	"In Progress": {},
	"Completed":   {},
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", cfg.General.LogLevel)
	}

	switch cfg.Workflow.StatusMode {
	case StatusModeAssigneeOrManager, StatusModeAssigneeOnly:
	default:
		return fmt.Errorf("unknown workflow.status_mode %q", cfg.Workflow.StatusMode)
	}

	for from, targets := range cfg.Workflow.Transitions {
		if _, ok := knownStatuses[from]; !ok {
			return fmt.Errorf("workflow.transitions references unknown status %q", from)
		}
		for _, to := range targets {
			if _, ok := knownStatuses[to]; !ok {
				return fmt.Errorf("workflow.transitions[%q] references unknown status %q", from, to)
			}
		}
	}

	if cfg.Notify.QueueSize < 0 || cfg.Notify.ClientQueueSize < 0 {
		return fmt.Errorf("notify queue sizes must not be negative")
	}

	if cfg.Reminders.Enabled && cfg.Reminders.LeadTime.Duration < 0 {
		return fmt.Errorf("reminders.lead_time must not be negative")
	}

	if cfg.General.StateDB != "" {
		dir := ExpandHome(filepath.Dir(cfg.General.StateDB))
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("state_db directory %q does not exist: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("state_db parent path %q is not a directory", dir)
		}
	}

	return nil
}

// IsAdminEmail reports whether email is listed in api.admin_emails.
func (c *Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, e := range c.API.AdminEmails {
		if e == email {
			return true
		}
	}
	return false
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
