package reconcile

import (
	"context"

	yoopayment "github.com/rvinnie/yookassa-sdk-go/yookassa/payment"

	"vpnkeys-bot/internal/marzban"
	"vpnkeys-bot/internal/stories/payment"
)

type (
	Payments interface {
		Save(ctx context.Context, req payment.SaveRequest) (*payment.Payment, bool, error)
		Find(ctx context.Context, paymentID string) (*payment.Payment, error)
		MarkProvisioned(ctx context.Context, paymentID string) error
	}

	Keys interface {
		CreateKey(ctx context.Context, telegramID int64, days int) (*marzban.Key, error)
		ExtendKey(ctx context.Context, username string, days int) (*marzban.Extension, error)
	}

	// Gateway re-reads payment status. Optional.
	Gateway interface {
		FindPayment(ctx context.Context, paymentID string) (*yoopayment.Payment, error)
	}

	Notifier interface {
		Notify(ctx context.Context, chatID int64, text string) error
	}

	localizer interface {
		Get(lang, key string, params map[string]interface{}) string
	}
)
