package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"vpnkeys-bot/internal/apperr"
	"vpnkeys-bot/internal/config"
	"vpnkeys-bot/internal/marzban"
	"vpnkeys-bot/internal/stories/payment"
	"vpnkeys-bot/internal/stories/reconcile"
	"vpnkeys-bot/internal/stories/referral"
	"vpnkeys-bot/internal/stories/users"
)

const paymentsPageSize = 10

type Router struct {
	bot          botClient
	users        userService
	referral     referralService
	payments     paymentService
	keys         keyService
	l10n         localizer
	adminChecker adminChecker
	settings     Settings
	logger       *slog.Logger
}

// Settings are the bot parameters that come from configuration.
type Settings struct {
	Language       string
	SupportContact string
	BotUsername    string
	TrialDays      int
	Tariffs        config.Tariffs
}

type botClient interface {
	SendHTML(ctx context.Context, chatID int64, text string) error
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type userService interface {
	Register(ctx context.Context, profile users.Profile) (*users.User, bool, error)
	ClaimTestPeriod(ctx context.Context, telegramID int64) (bool, error)
	ReleaseTestPeriod(ctx context.Context, telegramID int64) error
}

type referralService interface {
	Apply(ctx context.Context, telegramID int64, code string) (*users.User, error)
	Info(ctx context.Context, telegramID int64) (*referral.Info, error)
}

type paymentService interface {
	CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.Checkout, error)
	ListByUser(ctx context.Context, userID int64, criteria payment.ListCriteria) ([]*payment.Payment, error)
	Statistics(ctx context.Context, from, to *time.Time) (*payment.Statistics, error)
}

type keyService interface {
	CreateKey(ctx context.Context, telegramID int64, days int) (*marzban.Key, error)
}

type localizer interface {
	Get(lang, key string, params map[string]interface{}) string
}

type adminChecker interface {
	IsAdmin(telegramID int64) bool
}

// NewRouter создает новый роутер с зависимостями
func NewRouter(
	bot botClient,
	userService userService,
	referralService referralService,
	paymentService paymentService,
	keyService keyService,
	l10n localizer,
	adminChecker adminChecker,
	settings Settings,
	logger *slog.Logger,
) *Router {
	return &Router{
		bot:          bot,
		users:        userService,
		referral:     referralService,
		payments:     paymentService,
		keys:         keyService,
		l10n:         l10n,
		adminChecker: adminChecker,
		settings:     settings,
		logger:       logger,
	}
}

// Route handles a single update. Panics are recovered so one bad update
// never stops the update loop.
func (r *Router) Route(ctx context.Context, update tgbotapi.Update) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while handling update",
				"update_id", update.UpdateID,
				"panic", rec,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return nil
	}

	chatID := msg.Chat.ID
	user, created, err := r.users.Register(ctx, users.Profile{
		TelegramID: msg.From.ID,
		Username:   msg.From.UserName,
		FirstName:  msg.From.FirstName,
		LastName:   msg.From.LastName,
	})
	if err != nil {
		r.reply(ctx, chatID, r.text("errors.generic", nil))
		return fmt.Errorf("register user: %w", err)
	}

	if !msg.IsCommand() {
		return r.send(ctx, chatID, r.text("errors.unknown_command", nil))
	}

	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		return r.handleStart(ctx, chatID, user, created, msg.From.FirstName, args)
	case "help":
		return r.send(ctx, chatID, r.text("help.text", map[string]interface{}{
			"support": html.EscapeString(r.settings.SupportContact),
		}))
	case "buy":
		return r.handleBuy(ctx, chatID, user.TelegramID, args)
	case "extend":
		return r.handleExtend(ctx, chatID, user.TelegramID, args)
	case "trial":
		return r.handleTrial(ctx, chatID, user.TelegramID)
	case "payments":
		return r.handlePayments(ctx, chatID, user.TelegramID)
	case "referral":
		return r.handleReferral(ctx, chatID, user.TelegramID)
	case "stats":
		if !r.adminChecker.IsAdmin(user.TelegramID) {
			return r.send(ctx, chatID, r.text("errors.forbidden", nil))
		}
		return r.handleStats(ctx, chatID)
	default:
		return r.send(ctx, chatID, r.text("errors.unknown_command", nil))
	}
}

func (r *Router) handleStart(ctx context.Context, chatID int64, user *users.User, created bool, name string, args []string) error {
	// /start <код> приходит из реферальной ссылки t.me/<bot>?start=<код>
	if len(args) > 0 && created {
		if _, err := r.referral.Apply(ctx, user.TelegramID, args[0]); err != nil {
			r.logger.Info("Referral code rejected", "telegram_id", user.TelegramID, "code", args[0], "error", err)
			r.reply(ctx, chatID, r.text("start.referral_failed", map[string]interface{}{
				"reason": html.EscapeString(apperr.PublicMessage(err)),
			}))
		} else {
			r.reply(ctx, chatID, r.text("start.referral_applied", nil))
		}
	}

	if name == "" {
		name = strconv.FormatInt(user.TelegramID, 10)
	}
	return r.send(ctx, chatID, r.text("start.welcome", map[string]interface{}{
		"name": html.EscapeString(name),
	}))
}

func (r *Router) handleBuy(ctx context.Context, chatID, telegramID int64, args []string) error {
	if len(args) == 0 {
		return r.send(ctx, chatID, r.tariffList())
	}

	days, err := strconv.Atoi(args[0])
	if err != nil {
		return r.send(ctx, chatID, r.tariffList())
	}

	tariff, ok := r.settings.Tariffs.Find(days)
	if !ok {
		return r.send(ctx, chatID, r.text("buy.unknown_tariff", map[string]interface{}{"days": days}))
	}

	return r.checkout(ctx, chatID, payment.CheckoutRequest{
		UserID:      telegramID,
		Action:      reconcile.ActionNewKey,
		Days:        tariff.Days,
		Amount:      tariff.Price,
		Description: r.text("buy.description_new", map[string]interface{}{"days": tariff.Days}),
	})
}

func (r *Router) handleExtend(ctx context.Context, chatID, telegramID int64, args []string) error {
	if len(args) != 2 {
		return r.send(ctx, chatID, r.text("extend.usage", nil))
	}

	username := args[0]
	days, err := strconv.Atoi(args[1])
	if err != nil {
		return r.send(ctx, chatID, r.text("extend.usage", nil))
	}

	owner, ok := marzban.OwnerTelegramID(username)
	if !ok || owner != telegramID {
		return r.send(ctx, chatID, r.text("extend.not_yours", nil))
	}

	tariff, ok := r.settings.Tariffs.Find(days)
	if !ok {
		return r.send(ctx, chatID, r.text("buy.unknown_tariff", map[string]interface{}{"days": days}))
	}

	return r.checkout(ctx, chatID, payment.CheckoutRequest{
		UserID:   telegramID,
		Action:   reconcile.ActionExtendKey,
		Days:     tariff.Days,
		Amount:   tariff.Price,
		Username: username,
		Description: r.text("buy.description_extend", map[string]interface{}{
			"name": marzban.KeyName(username),
			"days": tariff.Days,
		}),
	})
}

func (r *Router) checkout(ctx context.Context, chatID int64, req payment.CheckoutRequest) error {
	co, err := r.payments.CreateCheckout(ctx, req)
	if err != nil {
		r.reply(ctx, chatID, r.text("errors.generic", nil))
		return fmt.Errorf("create checkout: %w", err)
	}

	return r.send(ctx, chatID, r.text("buy.link", map[string]interface{}{
		"days":  req.Days,
		"price": req.Amount.StringFixed(2),
		"url":   html.EscapeString(co.ConfirmationURL),
	}))
}

func (r *Router) handleTrial(ctx context.Context, chatID, telegramID int64) error {
	claimed, err := r.users.ClaimTestPeriod(ctx, telegramID)
	if err != nil {
		r.reply(ctx, chatID, r.text("errors.generic", nil))
		return fmt.Errorf("claim test period: %w", err)
	}
	if !claimed {
		return r.send(ctx, chatID, r.text("trial.already_used", nil))
	}

	key, err := r.keys.CreateKey(ctx, telegramID, r.settings.TrialDays)
	if err != nil {
		code := reconcile.Classify(err, reconcile.CodeCreate)
		r.logger.Error("Failed to create trial key", "telegram_id", telegramID, "code", code, "error", err)
		if releaseErr := r.users.ReleaseTestPeriod(ctx, telegramID); releaseErr != nil {
			r.logger.Error("Failed to release test period", "telegram_id", telegramID, "error", releaseErr)
		}
		return r.send(ctx, chatID, r.text("trial.failed", map[string]interface{}{"code": string(code)}))
	}

	r.logger.Info("Trial key created", "telegram_id", telegramID, "username", key.Username)
	return r.send(ctx, chatID, r.text("trial.success", map[string]interface{}{
		"days": r.settings.TrialDays,
		"name": html.EscapeString(marzban.KeyName(key.Username)),
		"link": html.EscapeString(key.Link),
	}))
}

func (r *Router) handlePayments(ctx context.Context, chatID, telegramID int64) error {
	list, err := r.payments.ListByUser(ctx, telegramID, payment.ListCriteria{Limit: paymentsPageSize})
	if err != nil {
		r.reply(ctx, chatID, r.text("errors.generic", nil))
		return fmt.Errorf("list payments: %w", err)
	}
	if len(list) == 0 {
		return r.send(ctx, chatID, r.text("payments.empty", nil))
	}

	lines := []string{r.text("payments.header", nil)}
	for _, p := range list {
		lines = append(lines, r.text("payments.item", map[string]interface{}{
			"date":   reconcile.FormatExpiry(p.CreatedAt),
			"amount": p.Amount.StringFixed(2),
			"status": string(p.Status),
		}))
	}
	return r.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (r *Router) handleReferral(ctx context.Context, chatID, telegramID int64) error {
	info, err := r.referral.Info(ctx, telegramID)
	if err != nil {
		r.reply(ctx, chatID, r.text("errors.generic", nil))
		return fmt.Errorf("referral info: %w", err)
	}

	bonusDays := 0
	for _, b := range info.Bonuses {
		bonusDays += b.Days
	}

	return r.send(ctx, chatID, r.text("referral.info", map[string]interface{}{
		"code":       info.Code,
		"link":       html.EscapeString(referralLink(r.settings.BotUsername, info.Code)),
		"count":      info.Referrals,
		"bonus_days": info.BonusDays,
		"bonuses":    bonusDays,
	}))
}

func (r *Router) handleStats(ctx context.Context, chatID int64) error {
	stats, err := r.payments.Statistics(ctx, nil, nil)
	if err != nil {
		r.reply(ctx, chatID, r.text("errors.generic", nil))
		return fmt.Errorf("payment statistics: %w", err)
	}

	lines := []string{r.text("stats.text", map[string]interface{}{
		"count": stats.TotalCount,
		"sum":   stats.TotalSum.StringFixed(2),
	})}
	methods := lo.Keys(stats.ByMethod)
	slices.Sort(methods)
	for _, m := range methods {
		ms := stats.ByMethod[m]
		lines = append(lines, r.text("stats.method_line", map[string]interface{}{
			"method": string(m),
			"count":  ms.Count,
			"total":  ms.Total.StringFixed(2),
		}))
	}
	return r.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (r *Router) tariffList() string {
	lines := []string{r.text("buy.tariffs_header", nil)}
	for _, t := range r.settings.Tariffs {
		lines = append(lines, r.text("buy.tariff_line", map[string]interface{}{
			"days":  t.Days,
			"price": t.Price.StringFixed(2),
		}))
	}
	return strings.Join(lines, "\n")
}

func (r *Router) text(key string, params map[string]interface{}) string {
	return r.l10n.Get(r.settings.Language, key, params)
}

func (r *Router) send(ctx context.Context, chatID int64, text string) error {
	return r.bot.SendHTML(ctx, chatID, text)
}

// reply отправляет сообщение, не прерывая обработку при ошибке
func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if err := r.bot.SendHTML(ctx, chatID, text); err != nil {
		r.logger.Warn("Failed to reply", "chat_id", chatID, "error", err)
	}
}

func referralLink(botUsername, code string) string {
	if botUsername == "" {
		return code
	}
	return "https://t.me/" + botUsername + "?start=" + code
}

// SetupBotCommands устанавливает команды для меню бота
func (r *Router) SetupBotCommands() error {
	commands := []tgbotapi.BotCommand{
		{Command: "start", Description: "Главное меню"},
		{Command: "buy", Description: "Купить ключ"},
		{Command: "extend", Description: "Продлить ключ"},
		{Command: "trial", Description: "Пробный период"},
		{Command: "payments", Description: "Мои платежи"},
		{Command: "referral", Description: "Реферальная программа"},
		{Command: "help", Description: "Помощь"},
	}

	_, err := r.bot.Request(tgbotapi.NewSetMyCommands(commands...))
	return err
}
