package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"
	yoopayment "github.com/rvinnie/yookassa-sdk-go/yookassa/payment"

	"vpnkeys-bot/internal/apperr"
)

// Service provides business logic for payment operations
type Service struct {
	storage Storage
	gateway Gateway
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new payment service
func NewService(storage Storage, gateway Gateway, logger *slog.Logger) *Service {
	return &Service{
		storage: storage,
		gateway: gateway,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Save upserts a payment by its gateway id. The owning user is created when missing.
// created reports whether a new row was inserted.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*Payment, bool, error) {
	if req.PaymentID == "" {
		return nil, false, apperr.InvalidErr("payment_id is required", map[string]string{"payment_id": "required"})
	}
	if req.UserID <= 0 {
		return nil, false, apperr.InvalidErr("user_id must be positive", map[string]string{"user_id": "gt"})
	}
	if req.Amount.IsNegative() {
		return nil, false, apperr.InvalidErr("amount must not be negative", map[string]string{"amount": "gte"})
	}
	if !req.Status.Valid() {
		return nil, false, apperr.InvalidErr("unknown payment status", map[string]string{"status": "oneof"})
	}

	stored, created, err := s.storage.SavePayment(ctx, req)
	if err != nil {
		s.logger.Error("Failed to save payment",
			"payment_id", req.PaymentID,
			"user_id", req.UserID,
			"error", err,
		)
		if apperr.IsKind(err, apperr.Conflict) {
			return nil, false, err
		}
		return nil, false, errors.Wrap(err, "save payment")
	}

	s.logger.Info("Payment saved",
		"payment_id", stored.PaymentID,
		"user_id", stored.UserID,
		"status", stored.Status,
		"created", created,
	)

	return stored, created, nil
}

// Get returns the payment or a not-found error.
func (s *Service) Get(ctx context.Context, paymentID string) (*Payment, error) {
	p, err := s.storage.GetPayment(ctx, GetCriteria{PaymentID: &paymentID})
	if err != nil {
		return nil, errors.Wrap(err, "get payment")
	}
	if p == nil {
		return nil, apperr.NotFoundErr("Payment not found")
	}
	return p, nil
}

// Find returns the payment or nil when it does not exist.
func (s *Service) Find(ctx context.Context, paymentID string) (*Payment, error) {
	p, err := s.storage.GetPayment(ctx, GetCriteria{PaymentID: &paymentID})
	if err != nil {
		return nil, errors.Wrap(err, "get payment")
	}
	return p, nil
}

// ListByUser returns a page of the user's payments, newest first.
func (s *Service) ListByUser(ctx context.Context, userID int64, criteria ListCriteria) ([]*Payment, error) {
	exists, err := s.storage.UserExists(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "check user")
	}
	if !exists {
		return nil, apperr.NotFoundErr("User not found")
	}

	criteria.UserID = &userID
	return s.Search(ctx, criteria)
}

// Search lists payments matching criteria with the page size clamped to MaxListLimit.
func (s *Service) Search(ctx context.Context, criteria ListCriteria) ([]*Payment, error) {
	if criteria.Limit <= 0 {
		criteria.Limit = DefaultListLimit
	}
	if criteria.Limit > MaxListLimit {
		criteria.Limit = MaxListLimit
	}
	if criteria.Offset < 0 {
		criteria.Offset = 0
	}
	if criteria.From != nil && criteria.To != nil && criteria.To.Before(*criteria.From) {
		return nil, apperr.InvalidErr("end_date must not be before start_date", nil)
	}

	payments, err := s.storage.ListPayments(ctx, criteria)
	if err != nil {
		return nil, errors.Wrap(err, "list payments")
	}
	return payments, nil
}

// Statistics aggregates succeeded payments. A missing range means the last 30 days.
func (s *Service) Statistics(ctx context.Context, from, to *time.Time) (*Statistics, error) {
	end := s.now()
	if to != nil {
		end = *to
	}
	start := end.Add(-DefaultStatsInterval)
	if from != nil {
		start = *from
	}
	if end.Before(start) {
		return nil, apperr.InvalidErr("end_date must not be before start_date", nil)
	}

	stats, err := s.storage.PaymentStatistics(ctx, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "payment statistics")
	}
	return stats, nil
}

func (s *Service) Summary(ctx context.Context, userID int64) (*Summary, error) {
	exists, err := s.storage.UserExists(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "check user")
	}
	if !exists {
		return nil, apperr.NotFoundErr("User not found")
	}

	summary, err := s.storage.PaymentSummary(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "payment summary")
	}
	return summary, nil
}

// MarkProvisioned stamps the payment as handed over to the panel.
func (s *Service) MarkProvisioned(ctx context.Context, paymentID string) error {
	now := s.now()
	_, err := s.storage.UpdatePayment(ctx, GetCriteria{PaymentID: &paymentID}, UpdateParams{ProvisionedAt: &now})
	if err != nil {
		return errors.Wrap(err, "mark payment provisioned")
	}
	return nil
}

// CreateCheckout creates a YooKassa payment whose metadata carries the provisioning action
// and stores it as pending.
func (s *Service) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if req.UserID <= 0 || req.Days <= 0 || !req.Amount.IsPositive() {
		return nil, apperr.InvalidErr("user, days and amount are required", nil)
	}

	metadata := map[string]string{
		"user_id": strconv.FormatInt(req.UserID, 10),
		"action":  req.Action,
		"days":    strconv.Itoa(req.Days),
		"amount":  req.Amount.StringFixed(2),
	}
	if req.Username != "" {
		metadata["username"] = req.Username
	}

	s.logger.Info("Creating checkout",
		"user_id", req.UserID,
		"action", req.Action,
		"days", req.Days,
		"amount", req.Amount.StringFixed(2),
	)

	gp, err := s.gateway.CreatePayment(ctx, req.Amount, req.Description, metadata)
	if err != nil {
		s.logger.Error("Failed to create payment in YooKassa", "user_id", req.UserID, "error", err)
		return nil, apperr.UpstreamErr("Payment gateway unavailable", err)
	}

	rawMeta, err := json.Marshal(metadata)
	if err != nil {
		return nil, errors.Wrap(err, "marshal metadata")
	}
	meta := string(rawMeta)

	status := StatusFromGateway(gp.Status)
	_, _, err = s.Save(ctx, SaveRequest{
		PaymentID:   gp.ID,
		UserID:      req.UserID,
		Amount:      req.Amount,
		Status:      status,
		Description: &req.Description,
		Metadata:    &meta,
	})
	if err != nil {
		return nil, err
	}

	return &Checkout{
		PaymentID:       gp.ID,
		ConfirmationURL: extractPaymentURL(gp),
		Status:          status,
	}, nil
}

// extractPaymentURL извлекает URL для оплаты из YooKassa confirmation
func extractPaymentURL(payment *yoopayment.Payment) string {
	if payment.Confirmation == nil {
		return ""
	}

	// SDK использует interface{} для Confirmation, нужно type assertion
	if redirect, ok := payment.Confirmation.(*yoopayment.Redirect); ok {
		return redirect.ConfirmationURL
	}

	// Альтернативный способ через map (SDK иногда возвращает map)
	if confMap, ok := payment.Confirmation.(map[string]interface{}); ok {
		if url, exists := confMap["confirmation_url"].(string); exists {
			return url
		}
	}

	return ""
}

// StatusFromGateway maps a YooKassa status to a Status.
func StatusFromGateway(status yoopayment.Status) Status {
	switch status {
	case yoopayment.Pending:
		return StatusPending
	case yoopayment.WaitingForCapture:
		return StatusWaitingForCapture
	case yoopayment.Succeeded:
		return StatusSucceeded
	case yoopayment.Canceled:
		return StatusCanceled
	default:
		return StatusPending
	}
}
