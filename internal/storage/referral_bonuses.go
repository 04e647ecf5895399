package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"vpnkeys-bot/internal/stories/referral"
)

const bonusesTable = "referral_bonuses"

var bonusRowFields = fields(bonusRow{})

type bonusRow struct {
	ID         int64      `db:"id"`
	TelegramID int64      `db:"telegram_user_id"`
	Amount     int        `db:"amount"`
	BonusType  string     `db:"bonus_type"`
	IsApplied  bool       `db:"is_applied"`
	CreatedAt  time.Time  `db:"created_at"`
	AppliedAt  *time.Time `db:"applied_at"`
	ExpiresAt  *time.Time `db:"expires_at"`
}

func (b bonusRow) ToModel() *referral.Bonus {
	return &referral.Bonus{
		ID:         b.ID,
		TelegramID: b.TelegramID,
		Days:       b.Amount,
		BonusType:  b.BonusType,
		IsApplied:  b.IsApplied,
		CreatedAt:  b.CreatedAt,
		AppliedAt:  b.AppliedAt,
		ExpiresAt:  b.ExpiresAt,
	}
}

func (s *storageImpl) CreateBonus(ctx context.Context, bonus referral.Bonus) (*referral.Bonus, error) {
	createdAt := bonus.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	bonusType := bonus.BonusType
	if bonusType == "" {
		bonusType = referral.BonusTypeDays
	}

	params := map[string]interface{}{
		"telegram_user_id": bonus.TelegramID,
		"amount":           bonus.Days,
		"bonus_type":       bonusType,
		"is_applied":       false,
		"created_at":       createdAt.UTC(),
		"expires_at":       utcPtr(bonus.ExpiresAt),
	}

	q, args, err := s.stmpBuilder().
		Insert(bonusesTable).
		SetMap(params).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, execError("db.ExecContext", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("result.LastInsertId: %w", err)
	}

	return s.GetBonus(ctx, referral.BonusCriteria{ID: &id})
}

func (s *storageImpl) GetBonus(ctx context.Context, criteria referral.BonusCriteria) (*referral.Bonus, error) {
	query := applyBonusFilters(s.stmpBuilder().Select(bonusRowFields).From(bonusesTable), criteria).Limit(1)

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row bonusRow
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}

func (s *storageImpl) ListBonuses(ctx context.Context, criteria referral.BonusCriteria) ([]*referral.Bonus, error) {
	query := applyBonusFilters(s.stmpBuilder().Select(bonusRowFields).From(bonusesTable), criteria).
		OrderBy("created_at DESC", "id DESC")

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []bonusRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*referral.Bonus, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.ToModel())
	}
	return result, nil
}

// ClaimBonus атомарно помечает бонус примененным. false, если его уже забрали.
func (s *storageImpl) ClaimBonus(ctx context.Context, id int64, appliedAt time.Time) (bool, error) {
	q, args, err := s.stmpBuilder().
		Update(bonusesTable).
		Set("is_applied", true).
		Set("applied_at", appliedAt.UTC()).
		Where(sq.Eq{"id": id, "is_applied": false}).
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

func (s *storageImpl) ReleaseBonus(ctx context.Context, id int64) error {
	q, args, err := s.stmpBuilder().
		Update(bonusesTable).
		Set("is_applied", false).
		Set("applied_at", nil).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}
	return nil
}

func applyBonusFilters(query sq.SelectBuilder, criteria referral.BonusCriteria) sq.SelectBuilder {
	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.TelegramID != nil {
		query = query.Where(sq.Eq{"telegram_user_id": *criteria.TelegramID})
	}
	if criteria.ActiveAt != nil {
		query = query.Where(sq.Eq{"is_applied": false}).
			Where(sq.Or{
				sq.Eq{"expires_at": nil},
				sq.Gt{"expires_at": criteria.ActiveAt.UTC()},
			})
	}
	return query
}
