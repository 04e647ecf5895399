package referral

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"vpnkeys-bot/internal/apperr"
	marzbanAPI "vpnkeys-bot/internal/infra/marzban"
	"vpnkeys-bot/internal/marzban"
	"vpnkeys-bot/internal/stories/users"
)

type Service struct {
	storage  Storage
	codes    Codes
	keys     Keys
	notifier Notifier
	l10n     localizer
	lang     string
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(
	storage Storage,
	codes Codes,
	keys Keys,
	notifier Notifier,
	l10n localizer,
	lang string,
	cfg Config,
	logger *slog.Logger,
) *Service {
	return &Service{
		storage:  storage,
		codes:    codes,
		keys:     keys,
		notifier: notifier,
		l10n:     l10n,
		lang:     lang,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Code возвращает реферальный код пользователя, создавая его при необходимости.
func (s *Service) Code(ctx context.Context, telegramID int64) (*users.User, error) {
	if _, err := s.codes.EnsureReferralCode(ctx, telegramID); err != nil {
		return nil, err
	}
	return s.mustUser(ctx, users.GetCriteria{TelegramID: &telegramID}, "User not found")
}

// Apply привязывает пользователя к владельцу кода и начисляет владельцу бонус.
func (s *Service) Apply(ctx context.Context, telegramID int64, code string) (*users.User, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.InvalidErr("referral_code is required", map[string]string{"referral_code": "required"})
	}

	user, err := s.mustUser(ctx, users.GetCriteria{TelegramID: &telegramID}, "User not found")
	if err != nil {
		return nil, err
	}
	if user.ReferrerID != nil {
		return nil, apperr.InvalidErr("User already has a referrer", nil)
	}

	referrer, err := s.mustUser(ctx, users.GetCriteria{ReferralCode: &code}, "Referral code not found")
	if err != nil {
		return nil, err
	}
	if referrer.TelegramID == user.TelegramID {
		return nil, apperr.InvalidErr("Cannot use own referral code", nil)
	}

	ok, err := s.storage.SetReferrer(ctx, user.TelegramID, referrer.TelegramID)
	if err != nil {
		return nil, errors.Wrap(err, "set referrer")
	}
	if !ok {
		return nil, apperr.InvalidErr("User already has a referrer", nil)
	}

	s.logger.Info("Referral applied", "user_id", user.TelegramID, "referrer_id", referrer.TelegramID)

	if s.cfg.BonusDays > 0 {
		bonus := Bonus{
			TelegramID: referrer.TelegramID,
			Days:       s.cfg.BonusDays,
			BonusType:  BonusTypeDays,
			CreatedAt:  s.now(),
		}
		if s.cfg.BonusValidity > 0 {
			expiresAt := bonus.CreatedAt.Add(s.cfg.BonusValidity)
			bonus.ExpiresAt = &expiresAt
		}

		if _, err := s.storage.CreateBonus(ctx, bonus); err != nil {
			// реферер уже привязан, бонус можно начислить вручную
			s.logger.Error("Failed to create referral bonus", "referrer_id", referrer.TelegramID, "error", err)
		} else {
			s.notify(ctx, referrer.TelegramID, s.l10n.Get(s.lang, "referral.bonus_earned", map[string]interface{}{
				"days": s.cfg.BonusDays,
			}))
		}
	}

	return s.mustUser(ctx, users.GetCriteria{TelegramID: &telegramID}, "User not found")
}

// Bonuses lists bonuses of a user, newest first.
func (s *Service) Bonuses(ctx context.Context, telegramID int64, activeOnly bool) ([]*Bonus, error) {
	if _, err := s.mustUser(ctx, users.GetCriteria{TelegramID: &telegramID}, "User not found"); err != nil {
		return nil, err
	}

	criteria := BonusCriteria{TelegramID: &telegramID}
	if activeOnly {
		now := s.now()
		criteria.ActiveAt = &now
	}

	bonuses, err := s.storage.ListBonuses(ctx, criteria)
	if err != nil {
		return nil, errors.Wrap(err, "list bonuses")
	}
	return bonuses, nil
}

// ApplyBonus добавляет дни бонуса к ключу владельца. Ключ должен принадлежать владельцу бонуса.
func (s *Service) ApplyBonus(ctx context.Context, bonusID int64, username string) (*Bonus, *marzban.Extension, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil, apperr.InvalidErr("username is required", map[string]string{"username": "required"})
	}

	bonus, err := s.storage.GetBonus(ctx, BonusCriteria{ID: &bonusID})
	if err != nil {
		return nil, nil, errors.Wrap(err, "get bonus")
	}
	if bonus == nil {
		return nil, nil, apperr.NotFoundErr("Bonus not found")
	}

	now := s.now()
	if bonus.IsApplied {
		return nil, nil, apperr.InvalidErr("Bonus already applied", nil)
	}
	if !bonus.Active(now) {
		return nil, nil, apperr.InvalidErr("Bonus expired", nil)
	}

	owner, ok := marzban.OwnerTelegramID(username)
	if !ok || owner != bonus.TelegramID {
		return nil, nil, apperr.InvalidErr("Key does not belong to the bonus owner", map[string]string{"username": "owner"})
	}

	claimed, err := s.storage.ClaimBonus(ctx, bonus.ID, now)
	if err != nil {
		return nil, nil, errors.Wrap(err, "claim bonus")
	}
	if !claimed {
		return nil, nil, apperr.InvalidErr("Bonus already applied", nil)
	}

	ext, err := s.keys.ExtendKey(ctx, username, bonus.Days)
	if err != nil {
		if releaseErr := s.storage.ReleaseBonus(ctx, bonus.ID); releaseErr != nil {
			s.logger.Error("Failed to release bonus", "bonus_id", bonus.ID, "error", releaseErr)
		}
		if errors.Is(err, marzbanAPI.ErrNotFound) {
			return nil, nil, apperr.NotFoundErr("Key not found")
		}
		return nil, nil, apperr.UpstreamErr("Failed to extend key", err)
	}

	s.logger.Info("Referral bonus applied", "bonus_id", bonus.ID, "username", username, "days", bonus.Days)

	bonus.IsApplied = true
	bonus.AppliedAt = &now
	return bonus, ext, nil
}

// Info собирает данные для команды /referral.
func (s *Service) Info(ctx context.Context, telegramID int64) (*Info, error) {
	code, err := s.codes.EnsureReferralCode(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	count, err := s.storage.CountReferrals(ctx, telegramID)
	if err != nil {
		return nil, errors.Wrap(err, "count referrals")
	}

	bonuses, err := s.Bonuses(ctx, telegramID, true)
	if err != nil {
		return nil, err
	}

	return &Info{
		Code:      code,
		Referrals: count,
		Bonuses:   bonuses,
		BonusDays: s.cfg.BonusDays,
	}, nil
}

func (s *Service) mustUser(ctx context.Context, criteria users.GetCriteria, notFound string) (*users.User, error) {
	user, err := s.storage.GetUser(ctx, criteria)
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	if user == nil {
		return nil, apperr.NotFoundErr(notFound)
	}
	return user, nil
}

func (s *Service) notify(ctx context.Context, chatID int64, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, chatID, text); err != nil {
		s.logger.Warn("Failed to notify user", "chat_id", chatID, "error", err)
	}
}
