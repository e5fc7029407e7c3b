package reminder

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/antigravity-dev/tracker/internal/config"
)

// Dial connects to the Temporal frontend named in cfg.
func Dial(cfg config.Reminders, logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    tlog.NewStructuredLogger(logger.With("component", "temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// StartWorker runs the reminder worker on taskQueue until ctx is cancelled.
func StartWorker(ctx context.Context, c client.Client, taskQueue string, acts *Activities) error {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(DueDateReminderWorkflow)
	w.RegisterActivity(acts.NotifyDueActivity)

	if err := w.Start(); err != nil {
		return fmt.Errorf("start reminder worker: %w", err)
	}
	slog.Info("temporal worker started", "task_queue", taskQueue)

	<-ctx.Done()
	w.Stop()
	return nil
}
