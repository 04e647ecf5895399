package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"vpnkeys-bot/internal/stories/messages"
)

const messageTasksTable = "message_tasks"

var taskRowFields = fields(taskRow{})

type taskRow struct {
	ID             int64      `db:"id"`
	Type           string     `db:"task_type"`
	CronExpression string     `db:"cron_expression"`
	MessageText    string     `db:"message_text"`
	IsActive       bool       `db:"is_active"`
	CreatedAt      time.Time  `db:"created_at"`
	LastRun        *time.Time `db:"last_run"`
	NextRun        *time.Time `db:"next_run"`
}

func (t taskRow) ToModel() *messages.Task {
	return &messages.Task{
		ID:             t.ID,
		Type:           messages.TaskType(t.Type),
		CronExpression: t.CronExpression,
		MessageText:    t.MessageText,
		IsActive:       t.IsActive,
		CreatedAt:      t.CreatedAt,
		LastRun:        t.LastRun,
		NextRun:        t.NextRun,
	}
}

func (s *storageImpl) CreateTask(ctx context.Context, task messages.Task) (*messages.Task, error) {
	createdAt := task.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	params := map[string]interface{}{
		"task_type":       string(task.Type),
		"cron_expression": task.CronExpression,
		"message_text":    task.MessageText,
		"is_active":       task.IsActive,
		"created_at":      createdAt.UTC(),
		"last_run":        utcPtr(task.LastRun),
		"next_run":        utcPtr(task.NextRun),
	}

	q, args, err := s.stmpBuilder().
		Insert(messageTasksTable).
		SetMap(params).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, execError("db.ExecContext", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("result.LastInsertId: %w", err)
	}

	return s.GetTask(ctx, messages.TaskCriteria{ID: &id})
}

func (s *storageImpl) GetTask(ctx context.Context, criteria messages.TaskCriteria) (*messages.Task, error) {
	query := applyTaskFilters(s.stmpBuilder().Select(taskRowFields).From(messageTasksTable), criteria).Limit(1)

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row taskRow
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}

func (s *storageImpl) ListTasks(ctx context.Context, criteria messages.TaskCriteria) ([]*messages.Task, error) {
	query := applyTaskFilters(s.stmpBuilder().Select(taskRowFields).From(messageTasksTable), criteria).
		OrderBy("id")

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*messages.Task, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.ToModel())
	}
	return result, nil
}

func (s *storageImpl) UpdateTask(ctx context.Context, id int64, params messages.TaskUpdate) (*messages.Task, error) {
	query := s.stmpBuilder().
		Update(messageTasksTable).
		Where(sq.Eq{"id": id})

	updates := 0
	if params.IsActive != nil {
		query = query.Set("is_active", *params.IsActive)
		updates++
	}
	if params.LastRun != nil {
		query = query.Set("last_run", params.LastRun.UTC())
		updates++
	}
	if params.NextRun != nil {
		query = query.Set("next_run", params.NextRun.UTC())
		updates++
	}

	if updates > 0 {
		q, args, err := query.ToSql()
		if err != nil {
			return nil, fmt.Errorf("build sql query: %w", err)
		}

		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return nil, fmt.Errorf("db.ExecContext: %w", err)
		}
	}

	return s.GetTask(ctx, messages.TaskCriteria{ID: &id})
}

func (s *storageImpl) DeleteTask(ctx context.Context, id int64) (bool, error) {
	q, args, err := s.stmpBuilder().
		Delete(messageTasksTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build sql query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("db.ExecContext: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("result.RowsAffected: %w", err)
	}
	return n > 0, nil
}

func applyTaskFilters(query sq.SelectBuilder, criteria messages.TaskCriteria) sq.SelectBuilder {
	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.ActiveOnly {
		query = query.Where(sq.Eq{"is_active": true})
	}
	if criteria.DueAt != nil {
		query = query.Where(sq.NotEq{"next_run": nil}).
			Where(sq.LtOrEq{"next_run": criteria.DueAt.UTC()})
	}
	return query
}
