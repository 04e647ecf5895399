package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"vpnkeys-bot/internal/infra/database"
)

func newTestStorage(t *testing.T) *storageImpl {
	t.Helper()

	db, err := database.New(context.Background(), database.WithMaxOpenConns(1), database.WithMigrations())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(db.DB)
}
