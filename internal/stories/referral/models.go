package referral

import "time"

const BonusTypeDays = "days"

// Bonus is a number of free days earned by inviting someone.
type Bonus struct {
	ID         int64
	TelegramID int64
	Days       int
	BonusType  string
	IsApplied  bool
	CreatedAt  time.Time
	AppliedAt  *time.Time
	ExpiresAt  *time.Time
}

// Active reports whether the bonus can still be applied at now.
func (b Bonus) Active(now time.Time) bool {
	if b.IsApplied {
		return false
	}
	return b.ExpiresAt == nil || now.Before(*b.ExpiresAt)
}

type BonusCriteria struct {
	ID         *int64
	TelegramID *int64
	// ActiveAt оставляет только непримененные и неистекшие бонусы
	ActiveAt *time.Time
}

// Info is what /referral shows.
type Info struct {
	Code      string
	Referrals int
	Bonuses   []*Bonus
	BonusDays int
}

type Config struct {
	BonusDays     int
	BonusValidity time.Duration
}
