// Package sweeper runs periodic housekeeping, such as purging expired
// refresh tokens and abandoned passkey ceremonies.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// Task is one housekeeping job. Run returns how many items it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Sweeper runs its tasks on a fixed interval.
type Sweeper struct {
	tasks    []Task
	interval time.Duration
}

// New creates a Sweeper.
func New(interval time.Duration, tasks ...Task) *Sweeper {
	return &Sweeper{
		tasks:    tasks,
		interval: interval,
	}
}

// Start begins the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("sweeper started", "interval", s.interval.String(), "tasks", len(s.tasks))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs every task once. A failing task is logged and does not
// stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	for _, task := range s.tasks {
		if ctx.Err() != nil {
			return
		}

		n, err := task.Run(ctx)
		if err != nil {
			slog.Error("sweeper: task failed", "task", task.Name, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("sweeper: removed expired items", "task", task.Name, "count", n)
		}
	}
}
