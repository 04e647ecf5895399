package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

const (
	webhookBuffer  = 100
	DefaultTimeout = 30 * time.Second
	// getUpdates держит соединение открытым, запас до таймаута HTTP клиента
	pollMargin = 5 * time.Second
)

type Client struct {
	api      *tgbotapi.BotAPI
	logger   *slog.Logger
	limiter  *rate.Limiter
	updates  <-chan tgbotapi.Update
	incoming chan tgbotapi.Update
	webhook  bool
	timeout  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewClient(ctx context.Context, token string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("создание telegram бота: %w", err)
	}

	c := &Client{
		api:     bot,
		logger:  logger,
		timeout: timeout,
		// Rate limiting - 30 сообщений в секунду
		limiter: rate.NewLimiter(30, 1),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	return c, nil
}

// Username returns the bot's @username without the @.
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// Start начинает получение обновлений (long polling)
func (c *Client) Start(ctx context.Context) error {
	// вебхук, оставшийся от прошлого запуска, блокирует getUpdates
	if _, err := c.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("удаление вебхука: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds(c.timeout)

	c.updates = c.api.GetUpdatesChan(u)

	c.logger.Info("Telegram бот запущен", "mode", "polling", "username", c.api.Self.UserName)
	return nil
}

// StartWebhook регистрирует вебхук. Обновления приходят через WebhookHandler.
// certPath может быть пустым, если сертификат доверенный.
func (c *Client) StartWebhook(ctx context.Context, url, certPath string) error {
	var (
		wh  tgbotapi.WebhookConfig
		err error
	)
	if certPath != "" {
		wh, err = tgbotapi.NewWebhookWithCert(url, tgbotapi.FilePath(certPath))
	} else {
		wh, err = tgbotapi.NewWebhook(url)
	}
	if err != nil {
		return fmt.Errorf("конфиг вебхука: %w", err)
	}

	if _, err := c.api.Request(wh); err != nil {
		return fmt.Errorf("установка вебхука: %w", err)
	}

	info, err := c.api.GetWebhookInfo()
	if err != nil {
		return fmt.Errorf("информация о вебхуке: %w", err)
	}
	if info.LastErrorDate != 0 {
		c.logger.Warn("Telegram сообщает об ошибке вебхука", "error", info.LastErrorMessage)
	}

	c.incoming = make(chan tgbotapi.Update, webhookBuffer)
	c.updates = c.incoming
	c.webhook = true

	c.logger.Info("Telegram бот запущен", "mode", "webhook", "url", url)
	return nil
}

// WebhookHandler принимает обновления от Telegram.
func (c *Client) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		update, err := c.api.HandleUpdate(r)
		if err != nil {
			c.logger.Warn("некорректное обновление", "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		select {
		case c.incoming <- *update:
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
			w.WriteHeader(http.StatusServiceUnavailable)
		case <-c.ctx.Done():
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
}

// Stop останавливает получение обновлений
func (c *Client) Stop() {
	c.cancel()
	if !c.webhook {
		c.api.StopReceivingUpdates()
	}
	c.logger.Info("Telegram бот остановлен")
}

// GetUpdates возвращает канал с обновлениями
func (c *Client) GetUpdates() <-chan tgbotapi.Update {
	return c.updates
}

// SendHTML отправляет сообщение с HTML-разметкой без превью ссылок.
func (c *Client) SendHTML(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	_, err := c.send(ctx, msg)
	if err != nil {
		c.logger.Error("ошибка отправки сообщения",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))
		return fmt.Errorf("отправка сообщения: %w", err)
	}
	return nil
}

// Send отправляет любое сообщение с rate limiting
func (c *Client) Send(chattable tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.send(c.ctx, chattable)
}

func (c *Client) send(ctx context.Context, chattable tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, fmt.Errorf("rate limiting: %w", err)
	}

	message, err := c.api.Send(chattable)
	if err != nil {
		return tgbotapi.Message{}, err
	}
	return message, nil
}

// Request отправляет запрос к API
func (c *Client) Request(chattable tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return nil, fmt.Errorf("rate limiting: %w", err)
	}

	resp, err := c.api.Request(chattable)
	if err != nil {
		c.logger.Error("ошибка запроса к API", slog.Any("error", err))
		return nil, fmt.Errorf("запрос к API: %w", err)
	}

	return resp, nil
}

// pollTimeoutSeconds keeps the long poll shorter than the HTTP client timeout.
func pollTimeoutSeconds(timeout time.Duration) int {
	return max(int((timeout-pollMargin)/time.Second), 1)
}
