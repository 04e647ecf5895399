package messagetasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/robfig/cron/v3"
)

// Worker периодически запускает рассылки по расписанию задач.
type Worker struct {
	runner   Runner
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron
	ctx      context.Context
}

func NewWorker(runner Runner, schedule string, logger *slog.Logger) *Worker {
	return &Worker{
		runner:   runner,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

func (w *Worker) Name() string {
	return "message-tasks"
}

func (w *Worker) Start(ctx context.Context) error {
	w.ctx = ctx
	if _, err := w.cron.AddFunc(w.schedule, w.tick); err != nil {
		return fmt.Errorf("failed to schedule message tasks worker: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Message tasks worker started", "schedule", w.schedule)
	return nil
}

func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
}

func (w *Worker) tick() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic in message tasks worker", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	ran, err := w.runner.RunDue(w.ctx)
	if err != nil {
		w.logger.Error("Message tasks run failed", "error", err)
		return
	}
	if ran > 0 {
		w.logger.Info("Message tasks executed", "count", ran)
	}
}
