package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"vpnkeys-bot/internal/stories/payment"
)

// ErrorCode is the short code shown to the user in failure notices.
type ErrorCode string

const (
	CodeAction   ErrorCode = "ACTION"
	CodeAuth     ErrorCode = "AUTH"
	CodeCreate   ErrorCode = "CREATE"
	CodeExtend   ErrorCode = "EXTEND"
	CodeNotFound ErrorCode = "NOT_FOUND"
	CodeInternal ErrorCode = "INTERNAL"
)

// Event is a succeeded payment notification from the gateway.
type Event struct {
	PaymentID     string
	UserID        int64
	Amount        decimal.Decimal
	IncomeAmount  *decimal.Decimal
	Description   *string
	Method        *payment.Method
	MethodDetails *string
	CreatedAt     *time.Time
	CapturedAt    *time.Time
	Metadata      map[string]string
}

type Disposition string

const (
	DispositionProcessed Disposition = "processed"
	DispositionDuplicate Disposition = "duplicate"
	DispositionIgnored   Disposition = "ignored"
)

type Result struct {
	Disposition Disposition
	Payment     *payment.Payment
	Outcome     *Outcome
}

// Outcome is the result of one provisioning run.
type Outcome struct {
	Success   bool
	Action    string
	Username  string
	Link      string
	Days      int
	ExpiresAt *time.Time
	Code      ErrorCode
	Err       error
}
