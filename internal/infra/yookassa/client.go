package yookassa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rvinnie/yookassa-sdk-go/yookassa"
	yoocommon "github.com/rvinnie/yookassa-sdk-go/yookassa/common"
	yoopayment "github.com/rvinnie/yookassa-sdk-go/yookassa/payment"
	"github.com/shopspring/decimal"
)

const (
	currencyRUB    = "RUB"
	DefaultTimeout = 15 * time.Second
)

// ErrTimeout означает, что YooKassa не ответила за отведенное время.
var ErrTimeout = errors.New("yookassa: request timed out")

// Client wraps the YooKassa SDK client
type Client struct {
	client    *yookassa.Client
	logger    *slog.Logger
	returnURL string
	timeout   time.Duration
}

// NewClient creates a new YooKassa client wrapper
func NewClient(accountID, secretKey, returnURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if accountID == "" || secretKey == "" {
		return nil, fmt.Errorf("yookassa account id and secret key are required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		client:    yookassa.NewClient(accountID, secretKey),
		logger:    logger,
		returnURL: returnURL,
		timeout:   timeout,
	}, nil
}

// CreatePayment создает платеж с редиректом на страницу оплаты и автоматическим подтверждением.
func (c *Client) CreatePayment(ctx context.Context, amount decimal.Decimal, description string, metadata map[string]string) (*yoopayment.Payment, error) {
	c.logger.Info("Creating payment in YooKassa", "amount", amount.StringFixed(2))

	payment := &yoopayment.Payment{
		Amount: &yoocommon.Amount{
			Value:    amount.StringFixed(2),
			Currency: currencyRUB,
		},
		Confirmation: &yoopayment.Redirect{
			Type:      yoopayment.TypeRedirect,
			ReturnURL: c.returnURL,
		},
		Description: description,
		Metadata:    metadata,
		Capture:     true,
	}

	paymentHandler := yookassa.NewPaymentHandler(c.client).WithIdempotencyKey(uuid.NewString())
	result, err := withTimeout(ctx, c.timeout, func() (*yoopayment.Payment, error) {
		return paymentHandler.CreatePayment(payment)
	})
	if err != nil {
		c.logger.Error("Failed to create payment in YooKassa", "error", err)
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	c.logger.Info("Payment created in YooKassa", "payment_id", result.ID, "status", result.Status)
	return result, nil
}

// FindPayment запрашивает актуальное состояние платежа.
func (c *Client) FindPayment(ctx context.Context, paymentID string) (*yoopayment.Payment, error) {
	result, err := withTimeout(ctx, c.timeout, func() (*yoopayment.Payment, error) {
		return yookassa.NewPaymentHandler(c.client).FindPayment(paymentID)
	})
	if err != nil {
		c.logger.Error("Failed to get payment from YooKassa", "error", err, "payment_id", paymentID)
		return nil, fmt.Errorf("failed to get payment status: %w", err)
	}

	c.logger.Debug("Payment status retrieved", "payment_id", paymentID, "status", result.Status)
	return result, nil
}

// withTimeout bounds an SDK call by ctx and timeout. SDK строит запросы без context
// и с http.Client без таймаута, поэтому зависший вызов дорабатывает в фоне,
// а вызывающий получает ErrTimeout.
func withTimeout[T any](ctx context.Context, timeout time.Duration, call func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}
