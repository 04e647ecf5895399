package messages

import (
	"context"

	"vpnkeys-bot/internal/marzban"
)

type (
	Storage interface {
		CreateTask(ctx context.Context, task Task) (*Task, error)
		GetTask(ctx context.Context, criteria TaskCriteria) (*Task, error)
		ListTasks(ctx context.Context, criteria TaskCriteria) ([]*Task, error)
		UpdateTask(ctx context.Context, id int64, params TaskUpdate) (*Task, error)
		DeleteTask(ctx context.Context, id int64) (bool, error)
	}

	Recipients interface {
		ListTelegramIDs(ctx context.Context) ([]int64, error)
	}

	// Expiring находит ключи, истекающие через days дней.
	Expiring interface {
		ListExpiring(ctx context.Context, days int) ([]marzban.Credential, error)
	}

	Notifier interface {
		Notify(ctx context.Context, chatID int64, text string) error
	}
)
