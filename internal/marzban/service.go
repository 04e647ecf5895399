package marzban

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	marzbanAPI "vpnkeys-bot/internal/infra/marzban"
	"vpnkeys-bot/internal/stories/users"
)

var usernameCharset = append(append([]rune{}, lo.LowerCaseLettersCharset...), lo.NumbersCharset...)

type Service struct {
	client   Client
	baseURL  string
	protocol ProtocolConfig
	logger   *slog.Logger
	now      func() time.Time
	nameFunc func() string
}

func NewService(client Client, opts Options, logger *slog.Logger) *Service {
	return &Service{
		client:   client,
		baseURL:  opts.BaseURL,
		protocol: protocolConfig(opts),
		logger:   logger,
		now:      time.Now,
		nameFunc: func() string {
			return lo.RandomString(usernameRandomLength, usernameCharset)
		},
	}
}

// CreateKey создает нового пользователя в панели со сроком now+days и привязывает его к Telegram.
func (s *Service) CreateKey(ctx context.Context, telegramID int64, days int) (*Key, error) {
	if days <= 0 {
		return nil, errors.Errorf("days must be positive, got %d", days)
	}

	expiresAt := s.now().UTC().Add(time.Duration(days) * 24 * time.Hour)

	var (
		created *marzbanAPI.User
		err     error
	)
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		username := s.nameFunc() + "_" + strconv.FormatInt(telegramID, 10)
		created, err = s.client.AddUser(ctx, marzbanAPI.UserCreate{
			Username: username,
			Proxies:  map[string]marzbanAPI.ProxySettings{s.protocol.Name: {Flow: s.protocol.Flow}},
			Inbounds: map[string][]string{s.protocol.Name: s.protocol.Inbounds},
			Expire:   &expiresAt,
			Status:   marzbanAPI.UserStatusActive,
		})
		if errors.Is(err, marzbanAPI.ErrConflict) {
			s.logger.Warn("Marzban username taken, retrying", "username", username)
			continue
		}
		break
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create user in Marzban")
	}

	link, err := s.connectionLink(ctx, created)
	if err != nil {
		return nil, err
	}

	if err := s.client.LinkTelegramUser(ctx, created.Username, telegramID); err != nil {
		s.logger.Warn("Failed to link Marzban user to telegram user",
			"username", created.Username, "telegram_id", telegramID, "error", err)
	}

	if created.Expire != nil {
		expiresAt = *created.Expire
	}

	s.logger.Info("Marzban user created", "username", created.Username, "telegram_id", telegramID, "expires_at", expiresAt)

	return &Key{
		Username:  created.Username,
		Link:      link,
		ExpiresAt: expiresAt,
	}, nil
}

// ExtendKey продлевает ключ на days дней от текущего срока или от now, если срок уже прошел.
func (s *Service) ExtendKey(ctx context.Context, username string, days int) (*Extension, error) {
	if days <= 0 {
		return nil, errors.Errorf("days must be positive, got %d", days)
	}

	current, err := s.client.GetUser(ctx, username)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get Marzban user %s", username)
	}

	next := NextExpiry(current.Expire, s.now().UTC(), days)

	if _, err := s.client.ModifyUser(ctx, username, marzbanAPI.UserModify{
		Expire: &next,
		Status: marzbanAPI.UserStatusActive,
	}); err != nil {
		return nil, errors.Wrapf(err, "failed to modify Marzban user %s", username)
	}

	s.logger.Info("Marzban user extended", "username", username, "days", days, "expires_at", next)

	return &Extension{
		Username:       username,
		PreviousExpiry: current.Expire,
		ExpiresAt:      next,
	}, nil
}

// ListExpiring возвращает ключи, срок которых истекает ровно через days календарных дней.
func (s *Service) ListExpiring(ctx context.Context, days int) ([]Credential, error) {
	target := truncateDay(s.now().UTC()).AddDate(0, 0, days)

	var result []Credential
	for offset := 0; ; offset += listPageSize {
		page, err := s.client.ListUsers(ctx, marzbanAPI.ListUsersParams{
			Offset: offset,
			Limit:  listPageSize,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to list Marzban users")
		}

		for _, u := range page.Users {
			if u.Expire == nil || !truncateDay(u.Expire.UTC()).Equal(target) {
				continue
			}
			telegramID, ok := OwnerTelegramID(u.Username)
			if !ok {
				continue
			}
			result = append(result, Credential{
				Username:   u.Username,
				TelegramID: telegramID,
				ExpiresAt:  *u.Expire,
			})
		}

		if len(page.Users) < listPageSize || offset+len(page.Users) >= page.Total {
			break
		}
	}

	return result, nil
}

// Ping checks that the panel answers an authenticated request.
func (s *Service) Ping(ctx context.Context) error {
	if _, err := s.client.ListUsers(ctx, marzbanAPI.ListUsersParams{Limit: 1}); err != nil {
		return errors.Wrap(err, "Marzban is unreachable")
	}
	return nil
}

// EnsureTelegramUser регистрирует пользователя бота в реестре панели, если его там нет.
func (s *Service) EnsureTelegramUser(ctx context.Context, profile users.Profile) error {
	_, err := s.client.GetTelegramUser(ctx, profile.TelegramID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, marzbanAPI.ErrNotFound) {
		return errors.Wrap(err, "failed to get Marzban telegram user")
	}

	_, err = s.client.CreateTelegramUser(ctx, marzbanAPI.TelegramUser{
		UserID:     profile.TelegramID,
		Username:   profile.Username,
		FirstName:  profile.FirstName,
		LastName:   profile.LastName,
		TestPeriod: true,
	})
	if err != nil && !errors.Is(err, marzbanAPI.ErrConflict) {
		return errors.Wrap(err, "failed to create Marzban telegram user")
	}
	return nil
}

func (s *Service) connectionLink(ctx context.Context, u *marzbanAPI.User) (string, error) {
	if link := pickLink(u); link != "" {
		return s.buildFullSubscriptionURL(link), nil
	}

	// панель иногда отдает ссылки только при повторном чтении
	fresh, err := s.client.GetUser(ctx, u.Username)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read links of Marzban user %s", u.Username)
	}
	if link := pickLink(fresh); link != "" {
		return s.buildFullSubscriptionURL(link), nil
	}

	return "", errors.Errorf("Marzban returned no connection link for %s", u.Username)
}

func pickLink(u *marzbanAPI.User) string {
	if len(u.Links) > 0 && u.Links[0] != "" {
		return u.Links[0]
	}
	return u.SubscriptionURL
}

func (s *Service) buildFullSubscriptionURL(subscriptionURL string) string {
	if strings.Contains(subscriptionURL, "://") {
		return subscriptionURL
	}

	baseURL := strings.TrimSuffix(s.baseURL, "/")
	if strings.HasPrefix(subscriptionURL, "/") {
		return baseURL + subscriptionURL
	}
	return baseURL + "/" + subscriptionURL
}

func protocolConfig(opts Options) ProtocolConfig {
	name := opts.Protocol
	if name == "" {
		name = ProtocolVLESS
	}

	inbound := opts.Inbound
	if inbound == "" {
		fallbackNames := map[string]string{
			ProtocolVLESS:  InboundVLESSDefault,
			ProtocolTrojan: InboundTrojanDefault,
		}
		inbound = fallbackNames[name]
	}

	cfg := ProtocolConfig{Name: name, Flow: opts.Flow}
	if inbound != "" {
		cfg.Inbounds = []string{inbound}
	}
	// flow применим только к vless
	if name != ProtocolVLESS {
		cfg.Flow = ""
	}
	return cfg
}

// NextExpiry считает новый срок действия: от now, если ключ бессрочный или уже истек, иначе от текущего срока.
func NextExpiry(current *time.Time, now time.Time, days int) time.Time {
	extension := time.Duration(days) * 24 * time.Hour
	if current == nil || !now.Before(*current) {
		return now.Add(extension)
	}
	return current.Add(extension)
}

// OwnerTelegramID parses the Telegram id from the "_<id>" username suffix.
func OwnerTelegramID(username string) (int64, bool) {
	i := strings.LastIndexByte(username, '_')
	if i < 0 || i == len(username)-1 {
		return 0, false
	}
	id, err := strconv.ParseInt(username[i+1:], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// KeyName is the human part of a username shown to users.
func KeyName(username string) string {
	name, _, _ := strings.Cut(username, "_")
	return name
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
