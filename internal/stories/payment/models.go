package payment

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusWaitingForCapture Status = "waiting_for_capture"
	StatusSucceeded         Status = "succeeded"
	StatusCanceled          Status = "canceled"
	StatusFailed            Status = "failed"
	StatusRefunded          Status = "refunded"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusWaitingForCapture, StatusSucceeded, StatusCanceled, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

type Method string

const (
	MethodBankCard Method = "bank_card"
	MethodYooMoney Method = "yoomoney"
	MethodQiwi     Method = "qiwi"
	MethodWebMoney Method = "webmoney"
	MethodSBP      Method = "sbp"
	MethodCash     Method = "cash"
	MethodCrypto   Method = "crypto"
	MethodOther    Method = "other"
)

// MethodFromGateway maps a YooKassa payment_method.type to a Method.
func MethodFromGateway(kind string) Method {
	switch strings.ToLower(kind) {
	case "bank_card", "card":
		return MethodBankCard
	case "yoo_money", "yoomoney":
		return MethodYooMoney
	case "sbp":
		return MethodSBP
	case "qiwi":
		return MethodQiwi
	case "webmoney":
		return MethodWebMoney
	case "cash":
		return MethodCash
	case "crypto":
		return MethodCrypto
	default:
		return MethodOther
	}
}

type Payment struct {
	PaymentID            string
	UserID               int64
	Amount               decimal.Decimal
	IncomeAmount         *decimal.Decimal
	Status               Status
	Description          *string
	PaymentMethod        *Method
	PaymentMethodDetails *string
	CreatedAt            time.Time
	CapturedAt           *time.Time
	Metadata             *string
	ProvisionedAt        *time.Time
	UpdatedAt            time.Time
}

// SaveRequest is an upsert: on update only non-nil optional fields overwrite stored values.
type SaveRequest struct {
	PaymentID            string
	UserID               int64
	Amount               decimal.Decimal
	Status               Status
	IncomeAmount         *decimal.Decimal
	Description          *string
	PaymentMethod        *Method
	PaymentMethodDetails *string
	CreatedAt            *time.Time
	CapturedAt           *time.Time
	Metadata             *string
}

type GetCriteria struct {
	PaymentID *string
}

// Критерии для списка платежей
type ListCriteria struct {
	UserID    *int64
	Statuses  []Status
	Method    *Method
	From      *time.Time
	To        *time.Time
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Limit     int
	Offset    int
}

type UpdateParams struct {
	Status        *Status
	ProvisionedAt *time.Time
}

type MethodStats struct {
	Count int
	Total decimal.Decimal
}

// Statistics aggregates succeeded payments over [From, To].
type Statistics struct {
	From       time.Time
	To         time.Time
	TotalCount int
	TotalSum   decimal.Decimal
	ByMethod   map[Method]MethodStats
}

type Summary struct {
	UserID             int64
	TotalPayments      int
	SuccessfulPayments int
	FailedPayments     int
	TotalSpent         decimal.Decimal
	LastPayment        *Payment
}

// CheckoutRequest describes a key purchase that should reach the webhook later.
type CheckoutRequest struct {
	UserID      int64
	Action      string
	Days        int
	Amount      decimal.Decimal
	Username    string
	Description string
}

type Checkout struct {
	PaymentID       string
	ConfirmationURL string
	Status          Status
}

const (
	DefaultListLimit     = 20
	MaxListLimit         = 100
	DefaultStatsInterval = 30 * 24 * time.Hour
)
