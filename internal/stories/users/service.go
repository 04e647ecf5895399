package users

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"vpnkeys-bot/internal/apperr"
)

const maxCodeAttempts = 10

// Service provides business logic for user operations
type Service struct {
	storage  Storage
	panel    PanelRegistry
	logger   *slog.Logger
	codeFunc func() string
}

// NewService creates a new user service. panel may be nil.
func NewService(storage Storage, panel PanelRegistry, logger *slog.Logger) *Service {
	return &Service{
		storage:  storage,
		panel:    panel,
		logger:   logger,
		codeFunc: func() string { return lo.RandomString(ReferralCodeLength, lo.AlphanumericCharset) },
	}
}

// Register получает пользователя по Telegram ID или создает нового с реферальным кодом.
func (s *Service) Register(ctx context.Context, profile Profile) (*User, bool, error) {
	if profile.TelegramID <= 0 {
		return nil, false, apperr.InvalidErr("user_id must be positive", nil)
	}

	existing, err := s.storage.GetUser(ctx, GetCriteria{TelegramID: &profile.TelegramID})
	if err != nil {
		return nil, false, errors.Wrap(err, "get user")
	}
	if existing != nil {
		if existing.ReferralCode == nil {
			if _, err := s.EnsureReferralCode(ctx, existing.TelegramID); err != nil {
				return nil, false, err
			}
		}
		return existing, false, nil
	}

	created, err := s.storage.CreateUser(ctx, User{
		TelegramID: profile.TelegramID,
		Username:   optional(profile.Username),
		FirstName:  optional(profile.FirstName),
		LastName:   optional(profile.LastName),
		TestPeriod: true,
	})
	if err != nil {
		if apperr.IsKind(err, apperr.Conflict) {
			// параллельная регистрация того же пользователя
			user, getErr := s.storage.GetUser(ctx, GetCriteria{TelegramID: &profile.TelegramID})
			if getErr != nil {
				return nil, false, errors.Wrap(getErr, "get user")
			}
			return user, false, nil
		}
		return nil, false, errors.Wrap(err, "create user")
	}

	code, err := s.EnsureReferralCode(ctx, created.TelegramID)
	if err != nil {
		return nil, false, err
	}
	created.ReferralCode = &code

	s.logger.Info("User registered", "telegram_id", created.TelegramID, "referral_code", code)

	if s.panel != nil {
		if err := s.panel.EnsureTelegramUser(ctx, profile); err != nil {
			s.logger.Warn("Failed to mirror user to panel", "telegram_id", profile.TelegramID, "error", err)
		}
	}

	return created, true, nil
}

// EnsureReferralCode returns the user's referral code, generating a unique one when missing.
func (s *Service) EnsureReferralCode(ctx context.Context, telegramID int64) (string, error) {
	user, err := s.storage.GetUser(ctx, GetCriteria{TelegramID: &telegramID})
	if err != nil {
		return "", errors.Wrap(err, "get user")
	}
	if user == nil {
		return "", apperr.NotFoundErr("User not found")
	}
	if user.ReferralCode != nil {
		return *user.ReferralCode, nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := s.codeFunc()

		taken, err := s.storage.GetUser(ctx, GetCriteria{ReferralCode: &code})
		if err != nil {
			return "", errors.Wrap(err, "check referral code")
		}
		if taken != nil {
			continue
		}

		_, err = s.storage.UpdateUser(ctx, GetCriteria{TelegramID: &telegramID}, UpdateParams{ReferralCode: &code})
		if err != nil {
			if apperr.IsKind(err, apperr.Conflict) {
				continue
			}
			return "", errors.Wrap(err, "save referral code")
		}
		return code, nil
	}

	return "", errors.Errorf("could not generate unique referral code after %d attempts", maxCodeAttempts)
}

// Get returns the user or a not-found error.
func (s *Service) Get(ctx context.Context, telegramID int64) (*User, error) {
	user, err := s.storage.GetUser(ctx, GetCriteria{TelegramID: &telegramID})
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	if user == nil {
		return nil, apperr.NotFoundErr("User not found")
	}
	return user, nil
}

func (s *Service) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.storage.ListTelegramIDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list telegram ids")
	}
	return ids, nil
}

// ClaimTestPeriod отмечает пробный период использованным. false если он уже был использован.
func (s *Service) ClaimTestPeriod(ctx context.Context, telegramID int64) (bool, error) {
	ok, err := s.storage.ClaimTestPeriod(ctx, telegramID)
	if err != nil {
		return false, errors.Wrap(err, "claim test period")
	}
	return ok, nil
}

// ReleaseTestPeriod возвращает пробный период, если выдать ключ не удалось.
func (s *Service) ReleaseTestPeriod(ctx context.Context, telegramID int64) error {
	_, err := s.storage.UpdateUser(ctx, GetCriteria{TelegramID: &telegramID}, UpdateParams{TestPeriod: lo.ToPtr(true)})
	if err != nil {
		return errors.Wrap(err, "release test period")
	}
	return nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
