package healthcheck

import "context"

type (
	// Prober checks a dependency; nil means healthy.
	Prober interface {
		Ping(ctx context.Context) error
	}

	Notifier interface {
		Notify(ctx context.Context, chatID int64, text string) error
	}
)
