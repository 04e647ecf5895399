package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpnkeys-bot/internal/stories/payment"
)

const exportCSV = `payment_id,user_id,amount,status,payment_method,description,created_at,captured_at
pay_1,42,150.00,succeeded,bank_card,Ключ на 30 дней,2024-01-01 10:00:00,2024-01-01 10:01:00
pay_2,43,"400,00",canceled,,,01.02.2024,
pay_3,abc,150,succeeded,,,,
pay_4,44,150,lost,,,,
,45,150,pending,,,,
pay_6,46,99.5,PENDING,sbp,,2024-02-03T04:05:06Z,
`

func TestReadPayments(t *testing.T) {
	rows, skipped, err := readPayments(strings.NewReader(exportCSV))
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, "pay_1", rows[0].PaymentID)
	assert.Equal(t, int64(42), rows[0].UserID)
	assert.Equal(t, "150.00", rows[0].Amount.StringFixed(2))
	assert.Equal(t, payment.StatusSucceeded, rows[0].Status)
	require.NotNil(t, rows[0].PaymentMethod)
	assert.Equal(t, payment.MethodBankCard, *rows[0].PaymentMethod)
	require.NotNil(t, rows[0].Description)
	require.NotNil(t, rows[0].CapturedAt)

	assert.Equal(t, "400.00", rows[1].Amount.StringFixed(2))
	assert.Nil(t, rows[1].PaymentMethod)
	assert.Nil(t, rows[1].CapturedAt)
	require.NotNil(t, rows[1].CreatedAt)
	assert.Equal(t, 2, int(rows[1].CreatedAt.Month()))

	assert.Equal(t, payment.StatusPending, rows[2].Status)

	lines := make([]int, 0, len(skipped))
	for _, s := range skipped {
		lines = append(lines, s.line)
	}
	assert.Equal(t, []int{4, 5, 6}, lines)
}

func TestReadPaymentsMissingColumn(t *testing.T) {
	_, _, err := readPayments(strings.NewReader("payment_id,user_id,amount\np,1,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"status"`)
}

type fakeSaver struct {
	existing    map[string]bool
	provisioned []string
	failFor     string
}

func (f *fakeSaver) Save(_ context.Context, req payment.SaveRequest) (*payment.Payment, bool, error) {
	if req.PaymentID == f.failFor {
		return nil, false, errors.New("database is locked")
	}
	created := !f.existing[req.PaymentID]
	f.existing[req.PaymentID] = true
	return &payment.Payment{PaymentID: req.PaymentID}, created, nil
}

func (f *fakeSaver) MarkProvisioned(_ context.Context, paymentID string) error {
	f.provisioned = append(f.provisioned, paymentID)
	return nil
}

func TestImportPayments(t *testing.T) {
	rows := []payment.SaveRequest{
		{PaymentID: "a", UserID: 1, Status: payment.StatusSucceeded},
		{PaymentID: "b", UserID: 1, Status: payment.StatusCanceled},
		{PaymentID: "c", UserID: 2, Status: payment.StatusSucceeded},
		{PaymentID: "d", UserID: 2, Status: payment.StatusSucceeded},
	}
	saver := &fakeSaver{existing: map[string]bool{"c": true}, failFor: "d"}

	res := importPayments(context.Background(), saver, rows, true)

	assert.Equal(t, 2, res.created)
	assert.Equal(t, 1, res.updated)
	require.Len(t, res.errors, 1)
	assert.Contains(t, res.errors[0].Error(), "d:")
	assert.Equal(t, []string{"a", "c"}, saver.provisioned)

	saver = &fakeSaver{existing: map[string]bool{}}
	importPayments(context.Background(), saver, rows[:1], false)
	assert.Empty(t, saver.provisioned)
}
