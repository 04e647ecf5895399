package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vpnkeys-bot/internal/stories/payment"
)

var requiredColumns = []string{"payment_id", "user_id", "amount", "status"}

var dateLayouts = []string{
	time.RFC3339,
	time.DateTime,
	"02.01.2006 15:04:05",
	"02.01.2006",
	time.DateOnly,
}

type skippedRow struct {
	line int
	err  error
}

type paymentSaver interface {
	Save(ctx context.Context, req payment.SaveRequest) (*payment.Payment, bool, error)
	MarkProvisioned(ctx context.Context, paymentID string) error
}

type importResult struct {
	created int
	updated int
	errors  []error
}

// readPayments парсит CSV; строки с ошибками пропускаются и возвращаются отдельно.
func readPayments(r io.Reader) ([]payment.SaveRequest, []skippedRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", name)
		}
	}

	var (
		rows    []payment.SaveRequest
		skipped []skippedRow
	)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}

		field := func(name string) string {
			i, ok := columns[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		req, err := parseRow(field)
		if err != nil {
			skipped = append(skipped, skippedRow{line: line, err: err})
			continue
		}
		rows = append(rows, req)
	}

	return rows, skipped, nil
}

func parseRow(field func(string) string) (payment.SaveRequest, error) {
	var req payment.SaveRequest

	req.PaymentID = field("payment_id")
	if req.PaymentID == "" {
		return req, fmt.Errorf("empty payment_id")
	}

	userID, err := strconv.ParseInt(field("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		return req, fmt.Errorf("invalid user_id %q", field("user_id"))
	}
	req.UserID = userID

	amount, err := decimal.NewFromString(strings.ReplaceAll(field("amount"), ",", "."))
	if err != nil || amount.IsNegative() {
		return req, fmt.Errorf("invalid amount %q", field("amount"))
	}
	req.Amount = amount

	req.Status = payment.Status(strings.ToLower(field("status")))
	if !req.Status.Valid() {
		return req, fmt.Errorf("unknown status %q", field("status"))
	}

	if m := field("payment_method"); m != "" {
		method := payment.MethodFromGateway(m)
		req.PaymentMethod = &method
	}
	if d := field("description"); d != "" {
		req.Description = &d
	}

	if req.CreatedAt, err = parseOptionalDate(field("created_at")); err != nil {
		return req, fmt.Errorf("created_at: %w", err)
	}
	if req.CapturedAt, err = parseOptionalDate(field("captured_at")); err != nil {
		return req, fmt.Errorf("captured_at: %w", err)
	}

	return req, nil
}

func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("cannot parse date %q", s)
}

func importPayments(ctx context.Context, payments paymentSaver, rows []payment.SaveRequest, markProvisioned bool) importResult {
	var res importResult
	for _, req := range rows {
		_, created, err := payments.Save(ctx, req)
		if err != nil {
			res.errors = append(res.errors, fmt.Errorf("%s: %w", req.PaymentID, err))
			continue
		}
		if created {
			res.created++
		} else {
			res.updated++
		}

		// иначе повторный вебхук по старому платежу выдаст второй ключ
		if markProvisioned && req.Status == payment.StatusSucceeded {
			if err := payments.MarkProvisioned(ctx, req.PaymentID); err != nil {
				res.errors = append(res.errors, fmt.Errorf("%s: mark provisioned: %w", req.PaymentID, err))
			}
		}
	}
	return res
}
