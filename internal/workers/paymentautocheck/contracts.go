package paymentautocheck

import (
	"context"

	yoopayment "github.com/rvinnie/yookassa-sdk-go/yookassa/payment"

	"vpnkeys-bot/internal/stories/payment"
	"vpnkeys-bot/internal/stories/reconcile"
)

type (
	// Payments provides local payment records
	Payments interface {
		Search(ctx context.Context, criteria payment.ListCriteria) ([]*payment.Payment, error)
		Save(ctx context.Context, req payment.SaveRequest) (*payment.Payment, bool, error)
	}

	// Gateway re-reads payment status from YooKassa
	Gateway interface {
		FindPayment(ctx context.Context, paymentID string) (*yoopayment.Payment, error)
	}

	// Reconciler provisions a succeeded payment exactly like the webhook does
	Reconciler interface {
		HandleSucceeded(ctx context.Context, ev reconcile.Event) (*reconcile.Result, error)
	}
)
