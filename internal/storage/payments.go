package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"vpnkeys-bot/internal/stories/payment"
)

const paymentsTable = "payments"

var paymentRowFields = fields(paymentRow{})

type paymentRow struct {
	PaymentID            string              `db:"payment_id"`
	UserID               int64               `db:"user_id"`
	Amount               decimal.Decimal     `db:"amount"`
	IncomeAmount         decimal.NullDecimal `db:"income_amount"`
	Status               string              `db:"status"`
	Description          *string             `db:"description"`
	PaymentMethod        *string             `db:"payment_method"`
	PaymentMethodDetails *string             `db:"payment_method_details"`
	CreatedAt            time.Time           `db:"created_at"`
	CapturedAt           *time.Time          `db:"captured_at"`
	Metadata             *string             `db:"payment_metadata"`
	ProvisionedAt        *time.Time          `db:"provisioned_at"`
	UpdatedAt            time.Time           `db:"updated_at"`
}

func (p paymentRow) ToModel() *payment.Payment {
	m := &payment.Payment{
		PaymentID:            p.PaymentID,
		UserID:               p.UserID,
		Amount:               p.Amount,
		Status:               payment.Status(p.Status),
		Description:          p.Description,
		PaymentMethodDetails: p.PaymentMethodDetails,
		CreatedAt:            p.CreatedAt,
		CapturedAt:           p.CapturedAt,
		Metadata:             p.Metadata,
		ProvisionedAt:        p.ProvisionedAt,
		UpdatedAt:            p.UpdatedAt,
	}
	if p.IncomeAmount.Valid {
		v := p.IncomeAmount.Decimal
		m.IncomeAmount = &v
	}
	if p.PaymentMethod != nil {
		method := payment.Method(*p.PaymentMethod)
		m.PaymentMethod = &method
	}
	return m
}

// SavePayment вставляет платёж или обновляет непустые поля существующего в одной транзакции.
// Отсутствующий владелец создаётся минимальной записью.
func (s *storageImpl) SavePayment(ctx context.Context, req payment.SaveRequest) (*payment.Payment, bool, error) {
	var created bool

	err := s.tx(ctx, func(tx *sqlx.Tx) error {
		if err := s.ensureUser(ctx, tx, req.UserID); err != nil {
			return err
		}

		exists, err := s.paymentExists(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}

		if exists {
			return s.updatePaymentFields(ctx, tx, req)
		}

		created = true
		return s.insertPayment(ctx, tx, req)
	})
	if err != nil {
		return nil, false, err
	}

	p, err := s.GetPayment(ctx, payment.GetCriteria{PaymentID: &req.PaymentID})
	if err != nil {
		return nil, false, err
	}
	if p == nil {
		return nil, false, fmt.Errorf("payment %s vanished after save", req.PaymentID)
	}
	return p, created, nil
}

func (s *storageImpl) ensureUser(ctx context.Context, tx *sqlx.Tx, telegramID int64) error {
	q, args, err := s.stmpBuilder().
		Select("COUNT(*)").
		From(usersTable).
		Where(sq.Eq{"user_id": telegramID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	var count int
	if err := tx.GetContext(ctx, &count, q, args...); err != nil {
		return fmt.Errorf("tx.GetContext: %w", err)
	}
	if count > 0 {
		return nil
	}

	q, args, err = s.stmpBuilder().
		Insert(usersTable).
		SetMap(map[string]interface{}{
			"user_id":     telegramID,
			"test_period": true,
			"created_at":  s.now(),
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("tx.ExecContext: %w", err)
	}
	return nil
}

func (s *storageImpl) paymentExists(ctx context.Context, tx *sqlx.Tx, paymentID string) (bool, error) {
	q, args, err := s.stmpBuilder().
		Select("COUNT(*)").
		From(paymentsTable).
		Where(sq.Eq{"payment_id": paymentID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build sql query: %w", err)
	}

	var count int
	if err := tx.GetContext(ctx, &count, q, args...); err != nil {
		return false, fmt.Errorf("tx.GetContext: %w", err)
	}
	return count > 0, nil
}

func (s *storageImpl) insertPayment(ctx context.Context, tx *sqlx.Tx, req payment.SaveRequest) error {
	now := s.now()
	createdAt := now
	if req.CreatedAt != nil {
		createdAt = req.CreatedAt.UTC()
	}

	params := map[string]interface{}{
		"payment_id":             req.PaymentID,
		"user_id":                req.UserID,
		"amount":                 req.Amount,
		"income_amount":          req.IncomeAmount,
		"status":                 string(req.Status),
		"description":            req.Description,
		"payment_method":         methodValue(req.PaymentMethod),
		"payment_method_details": req.PaymentMethodDetails,
		"created_at":             createdAt,
		"captured_at":            utcPtr(req.CapturedAt),
		"payment_metadata":       req.Metadata,
		"updated_at":             now,
	}

	q, args, err := s.stmpBuilder().
		Insert(paymentsTable).
		SetMap(params).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return execError("tx.ExecContext", err)
	}
	return nil
}

func (s *storageImpl) updatePaymentFields(ctx context.Context, tx *sqlx.Tx, req payment.SaveRequest) error {
	query := s.stmpBuilder().
		Update(paymentsTable).
		Set("user_id", req.UserID).
		Set("amount", req.Amount).
		Set("status", string(req.Status)).
		Set("updated_at", s.now()).
		Where(sq.Eq{"payment_id": req.PaymentID})

	if req.IncomeAmount != nil {
		query = query.Set("income_amount", *req.IncomeAmount)
	}
	if req.Description != nil {
		query = query.Set("description", *req.Description)
	}
	if req.PaymentMethod != nil {
		query = query.Set("payment_method", string(*req.PaymentMethod))
	}
	if req.PaymentMethodDetails != nil {
		query = query.Set("payment_method_details", *req.PaymentMethodDetails)
	}
	if req.CapturedAt != nil {
		query = query.Set("captured_at", req.CapturedAt.UTC())
	}
	if req.Metadata != nil {
		query = query.Set("payment_metadata", *req.Metadata)
	}

	q, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return execError("tx.ExecContext", err)
	}
	return nil
}

func (s *storageImpl) GetPayment(ctx context.Context, criteria payment.GetCriteria) (*payment.Payment, error) {
	query := s.stmpBuilder().
		Select(paymentRowFields).
		From(paymentsTable).
		Limit(1)

	if criteria.PaymentID != nil {
		query = query.Where(sq.Eq{"payment_id": *criteria.PaymentID})
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var p paymentRow
	if err := s.db.GetContext(ctx, &p, q, args...); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return p.ToModel(), nil
}

func (s *storageImpl) UpdatePayment(ctx context.Context, criteria payment.GetCriteria, params payment.UpdateParams) (*payment.Payment, error) {
	query := s.stmpBuilder().
		Update(paymentsTable).
		Set("updated_at", s.now())

	if criteria.PaymentID != nil {
		query = query.Where(sq.Eq{"payment_id": *criteria.PaymentID})
	}

	if params.Status != nil {
		query = query.Set("status", string(*params.Status))
	}
	if params.ProvisionedAt != nil {
		query = query.Set("provisioned_at", params.ProvisionedAt.UTC())
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	return s.GetPayment(ctx, criteria)
}

func (s *storageImpl) ListPayments(ctx context.Context, criteria payment.ListCriteria) ([]*payment.Payment, error) {
	query := applyPaymentFilters(s.stmpBuilder().Select(paymentRowFields).From(paymentsTable), criteria)

	if criteria.Limit > 0 {
		query = query.Limit(uint64(criteria.Limit))
	}
	if criteria.Offset > 0 {
		query = query.Offset(uint64(criteria.Offset))
	}

	query = query.OrderBy("created_at DESC", "payment_id DESC")

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []paymentRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*payment.Payment, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.ToModel())
	}
	return result, nil
}

func applyPaymentFilters(query sq.SelectBuilder, criteria payment.ListCriteria) sq.SelectBuilder {
	if criteria.UserID != nil {
		query = query.Where(sq.Eq{"user_id": *criteria.UserID})
	}
	if len(criteria.Statuses) > 0 {
		statuses := make([]string, 0, len(criteria.Statuses))
		for _, st := range criteria.Statuses {
			statuses = append(statuses, string(st))
		}
		query = query.Where(sq.Eq{"status": statuses})
	}
	if criteria.Method != nil {
		query = query.Where(sq.Eq{"payment_method": string(*criteria.Method)})
	}
	if criteria.From != nil {
		query = query.Where(sq.GtOrEq{"created_at": criteria.From.UTC()})
	}
	if criteria.To != nil {
		query = query.Where(sq.LtOrEq{"created_at": criteria.To.UTC()})
	}
	if criteria.MinAmount != nil {
		query = query.Where(sq.GtOrEq{"amount": *criteria.MinAmount})
	}
	if criteria.MaxAmount != nil {
		query = query.Where(sq.LtOrEq{"amount": *criteria.MaxAmount})
	}
	return query
}

func (s *storageImpl) UserExists(ctx context.Context, telegramID int64) (bool, error) {
	q, args, err := s.stmpBuilder().
		Select("COUNT(*)").
		From(usersTable).
		Where(sq.Eq{"user_id": telegramID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build sql query: %w", err)
	}

	var count int
	if err := s.db.GetContext(ctx, &count, q, args...); err != nil {
		return false, fmt.Errorf("db.GetContext: %w", err)
	}
	return count > 0, nil
}

func methodValue(m *payment.Method) *string {
	if m == nil {
		return nil
	}
	v := string(*m)
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
