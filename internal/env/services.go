package environment

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"vpnkeys-bot/internal/config"
	"vpnkeys-bot/internal/localization"
	"vpnkeys-bot/internal/marzban"
	"vpnkeys-bot/internal/storage"
	"vpnkeys-bot/internal/stories/messages"
	"vpnkeys-bot/internal/stories/payment"
	"vpnkeys-bot/internal/stories/reconcile"
	"vpnkeys-bot/internal/stories/referral"
	"vpnkeys-bot/internal/stories/users"
	"vpnkeys-bot/internal/telegram"
	"vpnkeys-bot/internal/workers"
	"vpnkeys-bot/internal/workers/healthcheck"
	"vpnkeys-bot/internal/workers/messagetasks"
	"vpnkeys-bot/internal/workers/paymentautocheck"
)

type Services struct {
	Payments       *payment.Service
	Keys           *marzban.Service
	Reconcile      *reconcile.Service
	Referral       *referral.Service
	Messages       *messages.Service
	TelegramRouter *telegram.Router
	Workers        *workers.Manager
}

func newServices(_ context.Context, clients *Clients, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	var s Services

	if clients.TelegramBot == nil {
		return nil, errors.New("telegram bot не инициализирован")
	}

	l10n, err := localization.NewService(cfg.Telegram.Language)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load translations")
	}

	storageImpl := storage.New(clients.DB.DB)
	notifier := telegram.NewNotifier(clients.TelegramBot, logger)

	s.Keys = marzban.NewService(clients.Marzban, marzban.Options{
		BaseURL:  cfg.Marzban.URL,
		Protocol: marzban.ProtocolVLESS,
		Inbound:  cfg.Marzban.Inbound,
		Flow:     cfg.Marzban.Flow,
	}, logger)

	userService := users.NewService(storageImpl, s.Keys, logger)
	s.Payments = payment.NewService(storageImpl, clients.YooKassa, logger)

	// без проверки статуса шлюз не передается совсем: nil в интерфейсе должен остаться nil
	var gateway reconcile.Gateway
	if cfg.YooKassa.VerifyStatus {
		gateway = clients.YooKassa
	}
	s.Reconcile = reconcile.NewService(s.Payments, s.Keys, gateway, notifier, l10n, cfg.Telegram.Language, logger)

	s.Referral = referral.NewService(storageImpl, userService, s.Keys, notifier, l10n, cfg.Telegram.Language, referral.Config{
		BonusDays:     cfg.Referral.BonusDays,
		BonusValidity: cfg.Referral.BonusValidity,
	}, logger)

	s.Messages = messages.NewService(storageImpl, userService, s.Keys, notifier, logger)

	admins := telegram.NewAdminChecker(cfg.Telegram)

	s.TelegramRouter = telegram.NewRouter(
		clients.TelegramBot,
		userService,
		s.Referral,
		s.Payments,
		s.Keys,
		l10n,
		admins,
		telegram.Settings{
			Language:       cfg.Telegram.Language,
			SupportContact: cfg.Telegram.SupportContact,
			BotUsername:    clients.TelegramBot.Username(),
			TrialDays:      cfg.TrialDays,
			Tariffs:        cfg.Tariffs,
		},
		logger.WithGroup("router"),
	)

	s.Workers = workers.NewManager(logger,
		messagetasks.NewWorker(s.Messages, cfg.Messages.PollSchedule, logger),
		paymentautocheck.NewWorker(s.Payments, clients.YooKassa, s.Reconcile, paymentautocheck.Options{
			Schedule: cfg.Workers.PaymentCheckSchedule,
			Window:   cfg.Workers.PaymentCheckWindow,
			Delay:    cfg.Workers.PaymentCheckDelay,
		}, logger),
		healthcheck.NewWorker("Marzban", s.Keys, notifier, admins.IDs(), cfg.Workers.PanelHealthInterval, logger),
	)

	return &s, nil
}
