package healthcheck

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sync"
	"time"
)

const probeTimeout = 10 * time.Second

type status struct {
	isUp         bool
	checked      bool
	failureCount int
	downSince    time.Time
}

// Worker пингует панель и сообщает администраторам о падении и восстановлении.
type Worker struct {
	name     string
	prober   Prober
	notifier Notifier
	adminIDs []int64
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	status status

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewWorker(name string, prober Prober, notifier Notifier, adminIDs []int64, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		name:     name,
		prober:   prober,
		notifier: notifier,
		adminIDs: adminIDs,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (w *Worker) Name() string {
	return "healthcheck"
}

func (w *Worker) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return fmt.Errorf("health check interval must be positive, got %s", w.interval)
	}

	w.logger.Info("Starting health check worker",
		"target", w.name,
		"interval", w.interval,
		"admin_count", len(w.adminIDs))

	go func() {
		defer close(w.doneCh)
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in healthcheck worker goroutine", "panic", r)
			}
		}()
		w.run(ctx)
	}()
	return nil
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.check(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := w.prober.Ping(probeCtx)
	if err != nil {
		w.logger.Warn("Health check failed", "target", w.name, "error", err)
	} else {
		w.logger.Debug("Health check passed", "target", w.name)
	}

	if msg := w.transition(err == nil); msg != "" {
		w.notifyAdmins(ctx, msg)
	}
}

// transition updates the state and returns the admin message for it, if any.
// Первое падение и восстановление сообщаются, повторные неудачи только логируются.
func (w *Worker) transition(isUp bool) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	prev := w.status
	w.status.checked = true
	w.status.isUp = isUp

	switch {
	case !isUp && (prev.isUp || !prev.checked):
		w.status.failureCount = 1
		w.status.downSince = now
		return fmt.Sprintf("🚨 <b>%s недоступна</b>\n\nВремя: <code>%s</code>",
			html.EscapeString(w.name), now.Format(time.DateTime))
	case !isUp:
		w.status.failureCount++
		return ""
	case prev.checked && !prev.isUp:
		downtime := now.Sub(prev.downSince)
		failures := prev.failureCount
		w.status.failureCount = 0
		return fmt.Sprintf("✅ <b>%s снова доступна</b>\n\nПростой: <code>%s</code>\nНеудачных проверок: <code>%d</code>",
			html.EscapeString(w.name), formatDuration(downtime), failures)
	default:
		return ""
	}
}

func (w *Worker) notifyAdmins(ctx context.Context, message string) {
	for _, adminID := range w.adminIDs {
		if err := w.notifier.Notify(ctx, adminID, message); err != nil {
			w.logger.Error("Failed to send notification to admin",
				"admin_id", adminID,
				"error", err)
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d sec", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d min %d sec", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%d h %d min", int(d.Hours()), int(d.Minutes())%60)
}
