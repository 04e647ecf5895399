package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"vpnkeys-bot/internal/stories/payment"
)

type methodStatsRow struct {
	Method *string         `db:"payment_method"`
	Count  int             `db:"cnt"`
	Total  decimal.Decimal `db:"total"`
}

// PaymentStatistics считает успешные платежи за период с разбивкой по способу оплаты.
func (s *storageImpl) PaymentStatistics(ctx context.Context, from, to time.Time) (*payment.Statistics, error) {
	q, args, err := s.stmpBuilder().
		Select("payment_method", "COUNT(*) AS cnt", "COALESCE(SUM(amount), 0) AS total").
		From(paymentsTable).
		Where(sq.Eq{"status": string(payment.StatusSucceeded)}).
		Where(sq.GtOrEq{"created_at": from.UTC()}).
		Where(sq.LtOrEq{"created_at": to.UTC()}).
		GroupBy("payment_method").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []methodStatsRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	stats := &payment.Statistics{
		From:     from,
		To:       to,
		TotalSum: decimal.Zero,
		ByMethod: make(map[payment.Method]payment.MethodStats, len(rows)),
	}
	for _, r := range rows {
		method := payment.MethodOther
		if r.Method != nil && *r.Method != "" {
			method = payment.Method(*r.Method)
		}
		total := r.Total.Round(2)

		ms := stats.ByMethod[method]
		ms.Count += r.Count
		ms.Total = ms.Total.Add(total)
		stats.ByMethod[method] = ms

		stats.TotalCount += r.Count
		stats.TotalSum = stats.TotalSum.Add(total)
	}

	return stats, nil
}

type summaryRow struct {
	Total      int             `db:"total_payments"`
	Successful int             `db:"successful_payments"`
	Failed     int             `db:"failed_payments"`
	Spent      decimal.Decimal `db:"total_spent"`
}

func (s *storageImpl) PaymentSummary(ctx context.Context, userID int64) (*payment.Summary, error) {
	q, args, err := s.stmpBuilder().
		Select(
			"COUNT(*) AS total_payments",
			"COALESCE(SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END), 0) AS successful_payments",
			"COALESCE(SUM(CASE WHEN status IN ('canceled', 'failed') THEN 1 ELSE 0 END), 0) AS failed_payments",
			"COALESCE(SUM(CASE WHEN status = 'succeeded' THEN amount ELSE 0 END), 0) AS total_spent",
		).
		From(paymentsTable).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row summaryRow
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	last, err := s.ListPayments(ctx, payment.ListCriteria{UserID: &userID, Limit: 1})
	if err != nil {
		return nil, err
	}

	summary := &payment.Summary{
		UserID:             userID,
		TotalPayments:      row.Total,
		SuccessfulPayments: row.Successful,
		FailedPayments:     row.Failed,
		TotalSpent:         row.Spent.Round(2),
	}
	if len(last) > 0 {
		summary.LastPayment = last[0]
	}
	return summary, nil
}
