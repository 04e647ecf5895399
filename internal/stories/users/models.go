package users

import "time"

type User struct {
	ID           int64
	TelegramID   int64
	Username     *string
	FirstName    *string
	LastName     *string
	TestPeriod   bool // пробный период ещё доступен
	ReferralCode *string
	ReferrerID   *int64
	CreatedAt    time.Time
}

// Profile is what Telegram tells us about a user.
type Profile struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

// Критерии для получения пользователя
type GetCriteria struct {
	ID           *int64
	TelegramID   *int64
	ReferralCode *string
}

// Критерии для списка пользователей
type ListCriteria struct {
	ReferrerID *int64
	Limit      int
	Offset     int
}

// Параметры для обновления пользователя
type UpdateParams struct {
	Username     *string
	FirstName    *string
	LastName     *string
	TestPeriod   *bool
	ReferralCode *string
	ReferrerID   *int64
}

const ReferralCodeLength = 8
