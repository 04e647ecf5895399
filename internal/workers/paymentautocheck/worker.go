package paymentautocheck

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	"vpnkeys-bot/internal/stories/payment"
	"vpnkeys-bot/internal/stories/reconcile"
)

const batchSize = payment.MaxListLimit

type Options struct {
	Schedule string
	// Window ограничивает возраст проверяемых платежей.
	Window time.Duration
	// Delay дает вебхуку время прийти первым.
	Delay time.Duration
}

// Worker сверяет зависшие pending-платежи с YooKassa на случай потерянного вебхука.
type Worker struct {
	payments   Payments
	gateway    Gateway
	reconciler Reconciler
	opts       Options
	logger     *slog.Logger
	cron       *cron.Cron
	now        func() time.Time
	ctx        context.Context
}

func NewWorker(payments Payments, gateway Gateway, reconciler Reconciler, opts Options, logger *slog.Logger) *Worker {
	return &Worker{
		payments:   payments,
		gateway:    gateway,
		reconciler: reconciler,
		opts:       opts,
		logger:     logger,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:        time.Now,
	}
}

func (w *Worker) Name() string {
	return "payment-autocheck"
}

func (w *Worker) Start(ctx context.Context) error {
	w.ctx = ctx
	_, err := w.cron.AddFunc(w.opts.Schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in payment autocheck worker", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		if err := w.run(w.ctx); err != nil {
			w.logger.Error("Payment autocheck worker failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule payment autocheck worker: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Payment autocheck worker started", "schedule", w.opts.Schedule, "window", w.opts.Window)
	return nil
}

func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
}

func (w *Worker) run(ctx context.Context) error {
	now := w.now()
	from := now.Add(-w.opts.Window)
	to := now.Add(-w.opts.Delay)

	pending, err := w.payments.Search(ctx, payment.ListCriteria{
		Statuses: []payment.Status{payment.StatusPending, payment.StatusWaitingForCapture},
		From:     &from,
		To:       &to,
		Limit:    batchSize,
	})
	if err != nil {
		return fmt.Errorf("list pending payments: %w", err)
	}

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.check(ctx, p); err != nil {
			w.logger.Error("Failed to check payment", "payment_id", p.PaymentID, "error", err)
		}
	}
	return nil
}

func (w *Worker) check(ctx context.Context, p *payment.Payment) error {
	gp, err := w.gateway.FindPayment(ctx, p.PaymentID)
	if err != nil {
		return fmt.Errorf("find payment in gateway: %w", err)
	}

	status := payment.StatusFromGateway(gp.Status)
	switch status {
	case payment.StatusSucceeded:
		w.logger.Info("Pending payment succeeded in gateway, provisioning", "payment_id", p.PaymentID)
		res, err := w.reconciler.HandleSucceeded(ctx, reconcile.Event{
			PaymentID: p.PaymentID,
			UserID:    p.UserID,
			Amount:    p.Amount,
			Metadata:  decodeMetadata(p.Metadata),
		})
		if err != nil {
			return fmt.Errorf("handle succeeded payment: %w", err)
		}
		w.logger.Info("Pending payment reconciled", "payment_id", p.PaymentID, "disposition", res.Disposition)
		return nil

	case payment.StatusCanceled, payment.StatusFailed:
		_, _, err := w.payments.Save(ctx, payment.SaveRequest{
			PaymentID: p.PaymentID,
			UserID:    p.UserID,
			Amount:    p.Amount,
			Status:    status,
		})
		if err != nil {
			return fmt.Errorf("save payment status: %w", err)
		}
		w.logger.Info("Pending payment closed", "payment_id", p.PaymentID, "status", status)
		return nil

	default:
		return nil
	}
}

// decodeMetadata читает метаданные, сохраненные при создании платежа.
func decodeMetadata(raw *string) map[string]string {
	if raw == nil || *raw == "" {
		return nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(*raw), &meta); err != nil {
		return nil
	}
	return meta
}
