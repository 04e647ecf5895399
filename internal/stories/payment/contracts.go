package payment

import (
	"context"
	"time"

	yoopayment "github.com/rvinnie/yookassa-sdk-go/yookassa/payment"
	"github.com/shopspring/decimal"
)

type (
	// Storage provides database operations for payments
	Storage interface {
		SavePayment(ctx context.Context, req SaveRequest) (*Payment, bool, error)
		GetPayment(ctx context.Context, criteria GetCriteria) (*Payment, error)
		UpdatePayment(ctx context.Context, criteria GetCriteria, params UpdateParams) (*Payment, error)
		ListPayments(ctx context.Context, criteria ListCriteria) ([]*Payment, error)
		PaymentStatistics(ctx context.Context, from, to time.Time) (*Statistics, error)
		PaymentSummary(ctx context.Context, userID int64) (*Summary, error)
		UserExists(ctx context.Context, telegramID int64) (bool, error)
	}

	// Gateway provides YooKassa API operations
	Gateway interface {
		CreatePayment(ctx context.Context, amount decimal.Decimal, description string, metadata map[string]string) (*yoopayment.Payment, error)
	}
)
