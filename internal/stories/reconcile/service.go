package reconcile

import (
	"context"
	"encoding/json"
	"html"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"vpnkeys-bot/internal/apperr"
	marzbanAPI "vpnkeys-bot/internal/infra/marzban"
	"vpnkeys-bot/internal/marzban"
	"vpnkeys-bot/internal/stories/payment"
)

const expiryDateLayout = "02.01.2006"

type Service struct {
	payments Payments
	keys     Keys
	gateway  Gateway
	notifier Notifier
	l10n     localizer
	lang     string
	logger   *slog.Logger

	inflight sync.Map
}

// NewService creates the payment reconciliation service. gateway may be nil to skip status re-verification.
func NewService(
	payments Payments,
	keys Keys,
	gateway Gateway,
	notifier Notifier,
	l10n localizer,
	lang string,
	logger *slog.Logger,
) *Service {
	return &Service{
		payments: payments,
		keys:     keys,
		gateway:  gateway,
		notifier: notifier,
		l10n:     l10n,
		lang:     lang,
		logger:   logger,
	}
}

// HandleSucceeded сверяет статус со шлюзом, сохраняет платеж и выдает ключ.
// Повторная доставка уже обработанного платежа ничего не выдает.
func (s *Service) HandleSucceeded(ctx context.Context, ev Event) (*Result, error) {
	if ev.PaymentID == "" {
		return nil, apperr.InvalidErr("payment id is required", map[string]string{"id": "required"})
	}

	if _, busy := s.inflight.LoadOrStore(ev.PaymentID, struct{}{}); busy {
		s.logger.Warn("Payment is already being processed", "payment_id", ev.PaymentID)
		return &Result{Disposition: DispositionDuplicate}, nil
	}
	defer s.inflight.Delete(ev.PaymentID)

	previous, err := s.payments.Find(ctx, ev.PaymentID)
	if err != nil {
		return nil, err
	}

	var meta *string
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			return nil, errors.Wrap(err, "marshal metadata")
		}
		encoded := string(raw)
		meta = &encoded
	}

	duplicate := previous != nil && previous.Status == payment.StatusSucceeded && previous.ProvisionedAt != nil

	// статус в базе берется у шлюза: платеж, который шлюз не подтвердил, остается
	// pending и перепроверяется воркером
	status := payment.StatusSucceeded
	var verifyErr error
	if s.gateway != nil && !duplicate {
		gp, err := s.gateway.FindPayment(ctx, ev.PaymentID)
		if err != nil {
			status, verifyErr = payment.StatusPending, err
		} else {
			status = payment.StatusFromGateway(gp.Status)
		}
	}

	stored, _, err := s.payments.Save(ctx, payment.SaveRequest{
		PaymentID:            ev.PaymentID,
		UserID:               ev.UserID,
		Amount:               ev.Amount,
		Status:               status,
		IncomeAmount:         ev.IncomeAmount,
		Description:          ev.Description,
		PaymentMethod:        ev.Method,
		PaymentMethodDetails: ev.MethodDetails,
		CreatedAt:            ev.CreatedAt,
		CapturedAt:           ev.CapturedAt,
		Metadata:             meta,
	})
	if err != nil {
		return nil, err
	}

	if verifyErr != nil {
		return nil, apperr.UpstreamErr("Payment verification failed", verifyErr)
	}
	if status != payment.StatusSucceeded {
		s.logger.Warn("Gateway reports payment is not succeeded", "payment_id", ev.PaymentID, "status", status)
		return &Result{Disposition: DispositionIgnored, Payment: stored}, nil
	}

	if duplicate {
		s.logger.Info("Payment already provisioned, skipping", "payment_id", ev.PaymentID)
		return &Result{Disposition: DispositionDuplicate, Payment: stored}, nil
	}

	outcome := s.Process(ctx, ev.UserID, ev.Amount, ev.Metadata)
	result := &Result{Disposition: DispositionProcessed, Payment: stored, Outcome: &outcome}

	if !outcome.Success {
		if outcome.Code == CodeAction {
			return result, apperr.InvalidErr("Unknown payment action", map[string]string{"action": "invalid"})
		}
		return result, apperr.UpstreamErr("Provisioning failed", outcome.Err)
	}

	if err := s.payments.MarkProvisioned(ctx, ev.PaymentID); err != nil {
		// ключ уже выдан, повторная доставка может выдать еще один
		s.logger.Error("Failed to mark payment provisioned", "payment_id", ev.PaymentID, "error", err)
	}

	return result, nil
}

// Process выдает ключ по метаданным платежа и уведомляет пользователя.
// Ошибка уведомления не меняет результат.
func (s *Service) Process(ctx context.Context, userID int64, amount decimal.Decimal, metadata map[string]string) Outcome {
	action, err := DecodeAction(metadata)
	if err != nil {
		s.logger.Error("Unresolvable payment action",
			"user_id", userID,
			"action", metadata["action"],
			"days", metadata["days"],
			"error", err,
		)
		s.notifyFailure(ctx, userID, "payment.action_failed", CodeAction)
		return Outcome{Action: metadata["action"], Code: CodeAction, Err: err}
	}

	s.logger.Info("Processing payment action",
		"user_id", userID,
		"action", action.Name(),
		"amount", amount.StringFixed(2),
	)

	switch a := action.(type) {
	case NewKey:
		return s.newKey(ctx, userID, a)
	case ExtendKey:
		return s.extendKey(ctx, userID, a)
	default:
		err := errors.Errorf("unhandled action %T", action)
		s.notifyFailure(ctx, userID, "payment.action_failed", CodeInternal)
		return Outcome{Code: CodeInternal, Err: err}
	}
}

func (s *Service) newKey(ctx context.Context, userID int64, a NewKey) Outcome {
	key, err := s.keys.CreateKey(ctx, userID, a.Days)
	if err != nil {
		code := Classify(err, CodeCreate)
		s.logger.Error("Failed to create key", "user_id", userID, "days", a.Days, "code", code, "error", err)
		s.notifyFailure(ctx, userID, "payment.create_failed", code)
		return Outcome{Action: a.Name(), Days: a.Days, Code: code, Err: err}
	}

	s.notify(ctx, userID, s.l10n.Get(s.lang, "payment.key_created", map[string]interface{}{
		"name": html.EscapeString(marzban.KeyName(key.Username)),
		"days": a.Days,
		"link": html.EscapeString(key.Link),
	}))

	expiresAt := key.ExpiresAt
	return Outcome{
		Success:   true,
		Action:    a.Name(),
		Username:  key.Username,
		Link:      key.Link,
		Days:      a.Days,
		ExpiresAt: &expiresAt,
	}
}

func (s *Service) extendKey(ctx context.Context, userID int64, a ExtendKey) Outcome {
	ext, err := s.keys.ExtendKey(ctx, a.Username, a.Days)
	if err != nil {
		code := Classify(err, CodeExtend)
		s.logger.Error("Failed to extend key",
			"user_id", userID, "username", a.Username, "days", a.Days, "code", code, "error", err)
		s.notifyFailure(ctx, userID, "payment.extend_failed", code)
		return Outcome{Action: a.Name(), Username: a.Username, Days: a.Days, Code: code, Err: err}
	}

	s.notify(ctx, userID, s.l10n.Get(s.lang, "payment.key_extended", map[string]interface{}{
		"name":    html.EscapeString(marzban.KeyName(a.Username)),
		"days":    a.Days,
		"expires": FormatExpiry(ext.ExpiresAt),
	}))

	expiresAt := ext.ExpiresAt
	return Outcome{
		Success:   true,
		Action:    a.Name(),
		Username:  a.Username,
		Days:      a.Days,
		ExpiresAt: &expiresAt,
	}
}

func (s *Service) notifyFailure(ctx context.Context, chatID int64, key string, code ErrorCode) {
	s.notify(ctx, chatID, s.l10n.Get(s.lang, key, map[string]interface{}{"code": string(code)}))
}

// notify is best-effort: errors are logged and dropped.
func (s *Service) notify(ctx context.Context, chatID int64, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, chatID, text); err != nil {
		s.logger.Warn("Failed to notify user", "chat_id", chatID, "error", err)
	}
}

// Classify maps a provisioning error to the short code shown to users.
func Classify(err error, fallback ErrorCode) ErrorCode {
	switch {
	case errors.Is(err, marzbanAPI.ErrNoToken), errors.Is(err, marzbanAPI.ErrUnauthorized):
		return CodeAuth
	case errors.Is(err, marzbanAPI.ErrNotFound):
		return CodeNotFound
	default:
		return fallback
	}
}

// FormatExpiry formats a key expiry the way users see it.
func FormatExpiry(t time.Time) string {
	return t.Format(expiryDateLayout)
}
