package config

import (
	"fmt"
	"strings"
	"sync"
)

// ConfigManager provides thread-safe access to live configuration.
type ConfigManager interface {
	Get() *Config
	Set(cfg *Config)
	Reload(path string) error
}

// RWMutexManager provides thread-safe read-heavy config access using RWMutex.
// Get returns a shared snapshot; Set and Reload store a private clone.
type RWMutexManager struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewManager constructs a manager with an initial config.
func NewManager(initial *Config) *RWMutexManager {
	return &RWMutexManager{cfg: initial.Clone()}
}

// NewRWMutexManager constructs a manager with an initial config.
func NewRWMutexManager(initial *Config) *RWMutexManager {
	return NewManager(initial)
}

// LoadManager loads path and wraps the result in a manager.
func LoadManager(path string) (*RWMutexManager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg), nil
}

// Get returns the current config pointer under a shared lock.
func (m *RWMutexManager) Get() *Config {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Set updates the current config pointer under an exclusive lock.
func (m *RWMutexManager) Set(cfg *Config) {
	if m == nil {
		return
	}
	next := cfg.Clone()
	m.mu.Lock()
	m.cfg = next
	m.mu.Unlock()
}

// Reload loads config from path and atomically swaps it into place.
func (m *RWMutexManager) Reload(path string) error {
	if m == nil {
		return fmt.Errorf("config manager is nil")
	}
	if path == "" {
		return fmt.Errorf("config reload path is required")
	}

	loaded, err := Load(path)
	if err != nil {
		return err
	}

	m.Set(loaded)
	return nil
}

// Clone returns a deep copy of c. A nil receiver yields nil.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.API.AdminEmails != nil {
		out.API.AdminEmails = append([]string(nil), c.API.AdminEmails...)
	}
	if c.Workflow.Transitions != nil {
		out.Workflow.Transitions = make(map[string][]string, len(c.Workflow.Transitions))
		for from, to := range c.Workflow.Transitions {
			out.Workflow.Transitions[from] = append([]string(nil), to...)
		}
	}
	return &out
}

// ValidateReload rejects reloads that change settings only read at startup.
func ValidateReload(oldCfg, newCfg *Config) error {
	if oldCfg == nil || newCfg == nil {
		return fmt.Errorf("invalid config state during reload")
	}

	oldStateDB := strings.TrimSpace(oldCfg.General.StateDB)
	newStateDB := strings.TrimSpace(newCfg.General.StateDB)
	if oldStateDB != newStateDB {
		return fmt.Errorf("state_db changed (%q -> %q) and requires restart", oldStateDB, newStateDB)
	}

	oldAPIBind := strings.TrimSpace(oldCfg.API.Bind)
	newAPIBind := strings.TrimSpace(newCfg.API.Bind)
	if oldAPIBind != newAPIBind {
		return fmt.Errorf("api.bind changed (%q -> %q) and requires restart", oldAPIBind, newAPIBind)
	}

	if oldCfg.Reminders.Enabled != newCfg.Reminders.Enabled {
		return fmt.Errorf("reminders.enabled changed and requires restart")
	}
	return nil
}

var _ ConfigManager = (*RWMutexManager)(nil)
