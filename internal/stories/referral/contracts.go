package referral

import (
	"context"
	"time"

	"vpnkeys-bot/internal/marzban"
	"vpnkeys-bot/internal/stories/users"
)

type (
	Storage interface {
		GetUser(ctx context.Context, criteria users.GetCriteria) (*users.User, error)
		SetReferrer(ctx context.Context, telegramID, referrerID int64) (bool, error)
		CountReferrals(ctx context.Context, referrerID int64) (int, error)
		CreateBonus(ctx context.Context, bonus Bonus) (*Bonus, error)
		GetBonus(ctx context.Context, criteria BonusCriteria) (*Bonus, error)
		ListBonuses(ctx context.Context, criteria BonusCriteria) ([]*Bonus, error)
		ClaimBonus(ctx context.Context, id int64, appliedAt time.Time) (bool, error)
		ReleaseBonus(ctx context.Context, id int64) error
	}

	Codes interface {
		EnsureReferralCode(ctx context.Context, telegramID int64) (string, error)
	}

	Keys interface {
		ExtendKey(ctx context.Context, username string, days int) (*marzban.Extension, error)
	}

	Notifier interface {
		Notify(ctx context.Context, chatID int64, text string) error
	}

	localizer interface {
		Get(lang, key string, params map[string]interface{}) string
	}
)
