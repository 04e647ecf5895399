package messages

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"vpnkeys-bot/internal/apperr"
	"vpnkeys-bot/internal/marzban"
)

const expiryDateLayout = "02.01.2006"

type Service struct {
	storage    Storage
	recipients Recipients
	expiring   Expiring
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(storage Storage, recipients Recipients, expiring Expiring, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		storage:    storage,
		recipients: recipients,
		expiring:   expiring,
		notifier:   notifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateTask validates the cron expression and schedules the first run.
func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	if !req.Type.Valid() {
		return nil, apperr.InvalidErr("Unknown task type", map[string]string{"task_type": "oneof"})
	}
	if strings.TrimSpace(req.MessageText) == "" {
		return nil, apperr.InvalidErr("message_text is required", map[string]string{"message_text": "required"})
	}

	schedule, err := cron.ParseStandard(req.CronExpression)
	if err != nil {
		return nil, apperr.InvalidErr("Invalid cron expression", map[string]string{"cron_expression": err.Error()})
	}

	now := s.now()
	task := Task{
		Type:           req.Type,
		CronExpression: req.CronExpression,
		MessageText:    req.MessageText,
		IsActive:       req.IsActive,
		CreatedAt:      now,
	}
	if task.IsActive {
		next := schedule.Next(now)
		task.NextRun = &next
	}

	created, err := s.storage.CreateTask(ctx, task)
	if err != nil {
		return nil, errors.Wrap(err, "create task")
	}

	s.logger.Info("Message task created", "task_id", created.ID, "type", created.Type, "cron", created.CronExpression)
	return created, nil
}

func (s *Service) ListTasks(ctx context.Context) ([]*Task, error) {
	tasks, err := s.storage.ListTasks(ctx, TaskCriteria{})
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	return tasks, nil
}

// SetActive включает или выключает задачу. При включении next_run пересчитывается от текущего времени.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) (*Task, error) {
	task, err := s.storage.GetTask(ctx, TaskCriteria{ID: &id})
	if err != nil {
		return nil, errors.Wrap(err, "get task")
	}
	if task == nil {
		return nil, apperr.NotFoundErr("Task not found")
	}

	params := TaskUpdate{IsActive: &active}
	if active {
		schedule, err := cron.ParseStandard(task.CronExpression)
		if err != nil {
			return nil, apperr.InvalidErr("Invalid cron expression", map[string]string{"cron_expression": err.Error()})
		}
		next := schedule.Next(s.now())
		params.NextRun = &next
	}

	updated, err := s.storage.UpdateTask(ctx, id, params)
	if err != nil {
		return nil, errors.Wrap(err, "update task")
	}
	return updated, nil
}

func (s *Service) DeleteTask(ctx context.Context, id int64) error {
	deleted, err := s.storage.DeleteTask(ctx, id)
	if err != nil {
		return errors.Wrap(err, "delete task")
	}
	if !deleted {
		return apperr.NotFoundErr("Task not found")
	}
	return nil
}

// Broadcast sends text to every registered user or to the given ids.
func (s *Service) Broadcast(ctx context.Context, req BroadcastRequest) (*BroadcastReport, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperr.InvalidErr("text is required", map[string]string{"text": "required"})
	}

	ids := req.UserIDs
	if req.AllUsers {
		all, err := s.recipients.ListTelegramIDs(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list recipients")
		}
		ids = all
	}
	if len(ids) == 0 {
		return nil, apperr.InvalidErr("No recipients", map[string]string{"user_ids": "required"})
	}

	report := s.send(ctx, lo.Uniq(ids), func(int64) string { return req.Text })
	s.logger.Info("Broadcast finished", "recipients", report.Recipients, "sent", report.Sent, "failed", report.Failed)
	return report, nil
}

// RunDue выполняет активные задачи, у которых наступил next_run. Ошибка одной задачи не останавливает остальные.
func (s *Service) RunDue(ctx context.Context) (int, error) {
	now := s.now()
	tasks, err := s.storage.ListTasks(ctx, TaskCriteria{ActiveOnly: true, DueAt: &now})
	if err != nil {
		return 0, errors.Wrap(err, "list due tasks")
	}

	ran := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}

		params := TaskUpdate{LastRun: &now}
		if schedule, err := cron.ParseStandard(task.CronExpression); err == nil {
			next := schedule.Next(now)
			params.NextRun = &next
		} else {
			// сломанное выражение отключает задачу, иначе она будет запускаться каждую минуту
			inactive := false
			params.IsActive = &inactive
			s.logger.Error("Invalid cron expression, disabling task", "task_id", task.ID, "cron", task.CronExpression, "error", err)
		}

		if _, err := s.storage.UpdateTask(ctx, task.ID, params); err != nil {
			s.logger.Error("Failed to reschedule task", "task_id", task.ID, "error", err)
			continue
		}

		if err := s.runTask(ctx, task); err != nil {
			s.logger.Error("Message task failed", "task_id", task.ID, "type", task.Type, "error", err)
			continue
		}
		ran++
	}

	return ran, nil
}

func (s *Service) runTask(ctx context.Context, task *Task) error {
	if task.Type == TaskBroadcast {
		ids, err := s.recipients.ListTelegramIDs(ctx)
		if err != nil {
			return errors.Wrap(err, "list recipients")
		}
		report := s.send(ctx, ids, func(int64) string { return task.MessageText })
		s.logger.Info("Broadcast task finished", "task_id", task.ID, "sent", report.Sent, "failed", report.Failed)
		return nil
	}

	days, ok := task.Type.ExpirationDays()
	if !ok {
		return errors.Errorf("unknown task type %q", task.Type)
	}

	credentials, err := s.expiring.ListExpiring(ctx, days)
	if err != nil {
		return errors.Wrap(err, "list expiring keys")
	}

	byOwner := make(map[int64]marzban.Credential, len(credentials))
	owners := make([]int64, 0, len(credentials))
	for _, c := range credentials {
		if _, seen := byOwner[c.TelegramID]; !seen {
			owners = append(owners, c.TelegramID)
		}
		byOwner[c.TelegramID] = c
	}

	report := s.send(ctx, owners, func(id int64) string {
		return RenderExpiration(task.MessageText, byOwner[id], days)
	})
	s.logger.Info("Expiration task finished", "task_id", task.ID, "days", days, "sent", report.Sent, "failed", report.Failed)
	return nil
}

func (s *Service) send(ctx context.Context, ids []int64, text func(int64) string) *BroadcastReport {
	report := &BroadcastReport{Recipients: len(ids)}
	for _, id := range ids {
		if err := s.notifier.Notify(ctx, id, text(id)); err != nil {
			report.Failed++
			s.logger.Warn("Failed to send message", "chat_id", id, "error", err)
			continue
		}
		report.Sent++
	}
	return report
}

// RenderExpiration подставляет {{username}}, {{name}}, {{expire_date}} и {{days}}.
func RenderExpiration(text string, c marzban.Credential, days int) string {
	return strings.NewReplacer(
		"{{username}}", c.Username,
		"{{name}}", marzban.KeyName(c.Username),
		"{{expire_date}}", c.ExpiresAt.Format(expiryDateLayout),
		"{{days}}", strconv.Itoa(days),
	).Replace(text)
}
