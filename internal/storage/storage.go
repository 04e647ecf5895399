package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"vpnkeys-bot/internal/apperr"
	"vpnkeys-bot/internal/infra/database"
)

type storageImpl struct {
	db  *sqlx.DB
	tx  database.TxManager
	now func() time.Time
}

func New(db *sqlx.DB) *storageImpl {
	return &storageImpl{
		db:  db,
		tx:  database.WithTx(db, nil),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *storageImpl) stmpBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// Fields возвращает список всех полей структуры, которые есть в БД.
func fields(data any) string {
	var s string
	r := reflect.TypeOf(data)
	for i := 0; i < r.NumField(); i++ {
		tag := r.Field(i).Tag.Get("db")
		if tag != "" {
			s += tag + ","
		}
	}
	return s[:len(s)-1]
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	return database.IsUniqueViolation(err)
}

// execError converts duplicate key errors into conflicts.
func execError(op string, err error) error {
	if isUniqueViolation(err) {
		return apperr.ConflictErr("Integrity error: duplicate key", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
