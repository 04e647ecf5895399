package telegram

import (
	"slices"

	"github.com/samber/lo"

	"vpnkeys-bot/internal/config"
)

// AdminChecker knows which Telegram users may run admin commands and receive alerts.
type AdminChecker struct {
	admins map[int64]struct{}
}

func NewAdminChecker(cfg config.TelegramConfig) *AdminChecker {
	admins := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		if id > 0 {
			admins[id] = struct{}{}
		}
	}
	return &AdminChecker{admins: admins}
}

func (a *AdminChecker) IsAdmin(telegramID int64) bool {
	_, ok := a.admins[telegramID]
	return ok
}

// IDs returns admin ids in ascending order.
func (a *AdminChecker) IDs() []int64 {
	ids := lo.Keys(a.admins)
	slices.Sort(ids)
	return ids
}
