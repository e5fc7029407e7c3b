package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/antigravity-dev/tracker/internal/api"
	"github.com/antigravity-dev/tracker/internal/bus"
	"github.com/antigravity-dev/tracker/internal/config"
	"github.com/antigravity-dev/tracker/internal/health"
	"github.com/antigravity-dev/tracker/internal/policy"
	"github.com/antigravity-dev/tracker/internal/reminder"
	"github.com/antigravity-dev/tracker/internal/store"
	"github.com/antigravity-dev/tracker/internal/workflow"
)

func parseLogLevel(logLevel string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// configureLogger builds the process logger once. Every component logger is
// derived from it, so changing level changes them all.
func configureLogger(w io.Writer, level *slog.LevelVar, useDev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// statusRules extracts the live-reloadable workflow settings from cfg.
func statusRules(cfg *config.Config) (policy.StatusMode, workflow.Transitions) {
	return policy.StatusMode(cfg.Workflow.StatusMode), workflow.TransitionsFromConfig(cfg.Workflow.Transitions)
}

func loadManager(path string) (*config.RWMutexManager, error) {
	if path == "" {
		return config.NewManager(config.Default()), nil
	}
	return config.LoadManager(path)
}

// statusRuleSetter is the part of the engine a reload touches.
type statusRuleSetter interface {
	SetStatusRules(mode policy.StatusMode, t workflow.Transitions)
}

// reload loads path and applies the live-reloadable settings: log level and
// workflow status rules. Startup-only changes are rejected.
func reload(path string, mgr config.ConfigManager, level *slog.LevelVar, engine statusRuleSetter) error {
	updated, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := config.ValidateReload(mgr.Get(), updated); err != nil {
		return err
	}
	mgr.Set(updated)
	level.Set(parseLogLevel(updated.General.LogLevel))
	engine.SetStatusRules(statusRules(updated))
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	logLevel := new(slog.LevelVar)
	logger := configureLogger(os.Stderr, logLevel, *dev)
	slog.SetDefault(logger)

	logger.Info("tracker starting", "config", *configPath)

	cfgManager, err := loadManager(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()
	logLevel.Set(parseLogLevel(cfg.General.LogLevel))

	lock, err := health.AcquireLock(config.ExpandHome(cfg.General.LockFile))
	if err != nil {
		logger.Error("failed to acquire lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	dbPath := config.ExpandHome(cfg.General.StateDB)
	st, err := store.Open(dbPath)
	if err != nil {
		logger.Error("failed to open store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	notifications := bus.New(cfg.Notify.QueueSize, logger.With("component", "bus"))
	defer notifications.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var running sync.WaitGroup

	mode, transitions := statusRules(cfg)
	opts := workflow.Options{
		StatusMode:  mode,
		Transitions: transitions,
		Logger:      logger,
	}

	// Start Temporal reminder worker (optional)
	if cfg.Reminders.Enabled {
		tc, err := reminder.Dial(cfg.Reminders, logger)
		if err != nil {
			logger.Error("failed to connect to temporal", "error", err)
			os.Exit(1)
		}
		defer tc.Close()

		opts.Reminders = reminder.NewScheduler(tc, cfg.Reminders.TaskQueue, cfg.Reminders.LeadTime.Duration, logger.With("component", "reminder"))
		acts := &reminder.Activities{Store: st, Publisher: notifications}
		running.Add(1)
		go func() {
			defer running.Done()
			logger.Info("starting temporal worker", "task_queue", cfg.Reminders.TaskQueue)
			if err := reminder.StartWorker(ctx, tc, cfg.Reminders.TaskQueue, acts); err != nil {
				logger.Error("temporal worker error", "error", err)
			}
		}()
	}

	engine := workflow.New(st, notifications, opts)

	applyReload := func() error {
		if *configPath == "" {
			return fmt.Errorf("no config file to reload")
		}
		return reload(*configPath, cfgManager, logLevel, engine)
	}

	apiSrv, err := api.NewServer(cfgManager, st, engine, notifications, logger.With("component", "api"))
	if err != nil {
		logger.Error("failed to create api server", "error", err)
		os.Exit(1)
	}
	defer apiSrv.Close()

	running.Add(1)
	go func() {
		defer running.Done()
		if err := apiSrv.Start(ctx); err != nil {
			logger.Error("api server error", "error", err)
		}
	}()

	logger.Info("tracker running",
		"bind", cfg.API.Bind,
		"status_mode", string(mode),
		"reminders", cfg.Reminders.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			if err := applyReload(); err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			logger.Info("config reloaded")
		default:
			shutdownStart := time.Now()
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			running.Wait()
			stats := notifications.Stats()
			logger.Info("tracker stopped",
				"shutdown_duration", time.Since(shutdownStart).String(),
				"events_published", stats.Published,
				"events_dropped", stats.Dropped,
			)
			return
		}
	}
}
