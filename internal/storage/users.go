package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"vpnkeys-bot/internal/stories/users"
)

const usersTable = "telegram_users"

var userRowFields = fields(userRow{})

type userRow struct {
	ID           int64     `db:"id"`
	TelegramID   int64     `db:"user_id"`
	Username     *string   `db:"username"`
	FirstName    *string   `db:"first_name"`
	LastName     *string   `db:"last_name"`
	TestPeriod   bool      `db:"test_period"`
	ReferralCode *string   `db:"referral_code"`
	ReferrerID   *int64    `db:"referrer_id"`
	CreatedAt    time.Time `db:"created_at"`
}

func (u userRow) ToModel() *users.User {
	return &users.User{
		ID:           u.ID,
		TelegramID:   u.TelegramID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		TestPeriod:   u.TestPeriod,
		ReferralCode: u.ReferralCode,
		ReferrerID:   u.ReferrerID,
		CreatedAt:    u.CreatedAt,
	}
}

func (s *storageImpl) CreateUser(ctx context.Context, user users.User) (*users.User, error) {
	params := map[string]interface{}{
		"user_id":       user.TelegramID,
		"username":      user.Username,
		"first_name":    user.FirstName,
		"last_name":     user.LastName,
		"test_period":   user.TestPeriod,
		"referral_code": user.ReferralCode,
		"referrer_id":   user.ReferrerID,
		"created_at":    s.now(),
	}

	q, args, err := s.stmpBuilder().
		Insert(usersTable).
		SetMap(params).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, execError("db.ExecContext", err)
	}

	return s.GetUser(ctx, users.GetCriteria{TelegramID: &user.TelegramID})
}

func (s *storageImpl) GetUser(ctx context.Context, criteria users.GetCriteria) (*users.User, error) {
	query := s.stmpBuilder().
		Select(userRowFields).
		From(usersTable).
		Limit(1)

	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.TelegramID != nil {
		query = query.Where(sq.Eq{"user_id": *criteria.TelegramID})
	}
	if criteria.ReferralCode != nil {
		query = query.Where(sq.Eq{"referral_code": *criteria.ReferralCode})
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var u userRow
	if err := s.db.GetContext(ctx, &u, q, args...); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return u.ToModel(), nil
}

func (s *storageImpl) UpdateUser(ctx context.Context, criteria users.GetCriteria, params users.UpdateParams) (*users.User, error) {
	query := s.stmpBuilder().Update(usersTable)

	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.TelegramID != nil {
		query = query.Where(sq.Eq{"user_id": *criteria.TelegramID})
	}

	updates := 0
	set := func(column string, value any) {
		query = query.Set(column, value)
		updates++
	}

	if params.Username != nil {
		set("username", *params.Username)
	}
	if params.FirstName != nil {
		set("first_name", *params.FirstName)
	}
	if params.LastName != nil {
		set("last_name", *params.LastName)
	}
	if params.TestPeriod != nil {
		set("test_period", *params.TestPeriod)
	}
	if params.ReferralCode != nil {
		set("referral_code", *params.ReferralCode)
	}
	if params.ReferrerID != nil {
		set("referrer_id", *params.ReferrerID)
	}

	if updates > 0 {
		q, args, err := query.ToSql()
		if err != nil {
			return nil, fmt.Errorf("build sql query: %w", err)
		}

		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return nil, execError("db.ExecContext", err)
		}
	}

	return s.GetUser(ctx, criteria)
}

// SetReferrer привязывает реферера, только если он ещё не задан.
func (s *storageImpl) SetReferrer(ctx context.Context, telegramID, referrerID int64) (bool, error) {
	q, args, err := s.stmpBuilder().
		Update(usersTable).
		Set("referrer_id", referrerID).
		Where(sq.Eq{"user_id": telegramID, "referrer_id": nil}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build sql query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("db.ExecContext: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("result.RowsAffected: %w", err)
	}
	return n == 1, nil
}

func (s *storageImpl) ListUsers(ctx context.Context, criteria users.ListCriteria) ([]*users.User, error) {
	query := s.stmpBuilder().
		Select(userRowFields).
		From(usersTable)

	if criteria.ReferrerID != nil {
		query = query.Where(sq.Eq{"referrer_id": *criteria.ReferrerID})
	}
	if criteria.Limit > 0 {
		query = query.Limit(uint64(criteria.Limit))
	}
	if criteria.Offset > 0 {
		query = query.Offset(uint64(criteria.Offset))
	}

	query = query.OrderBy("created_at DESC", "id DESC")

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*users.User, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.ToModel())
	}
	return result, nil
}

func (s *storageImpl) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	q, args, err := s.stmpBuilder().
		Select("user_id").
		From(usersTable).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}
	return ids, nil
}

func (s *storageImpl) CountReferrals(ctx context.Context, referrerID int64) (int, error) {
	q, args, err := s.stmpBuilder().
		Select("COUNT(*)").
		From(usersTable).
		Where(sq.Eq{"referrer_id": referrerID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build sql query: %w", err)
	}

	var count int
	if err := s.db.GetContext(ctx, &count, q, args...); err != nil {
		return 0, fmt.Errorf("db.GetContext: %w", err)
	}
	return count, nil
}

// ClaimTestPeriod атомарно переводит test_period из true в false.
func (s *storageImpl) ClaimTestPeriod(ctx context.Context, telegramID int64) (bool, error) {
	q, args, err := s.stmpBuilder().
		Update(usersTable).
		Set("test_period", false).
		Where(sq.Eq{"user_id": telegramID, "test_period": true}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build sql query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("db.ExecContext: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("result.RowsAffected: %w", err)
	}
	return n == 1, nil
}
