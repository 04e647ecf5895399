package storage

import (
	"context"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpnkeys-bot/internal/apperr"
	"vpnkeys-bot/internal/stories/users"
)

func TestUsers_CreateGetUpdate(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, users.User{
		TelegramID: 42,
		Username:   lo.ToPtr("alice"),
		TestPeriod: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), created.TelegramID)
	assert.Nil(t, created.ReferralCode)

	_, err = s.CreateUser(ctx, users.User{TelegramID: 42})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Conflict))

	updated, err := s.UpdateUser(ctx, users.GetCriteria{TelegramID: lo.ToPtr(int64(42))}, users.UpdateParams{
		ReferralCode: lo.ToPtr("AbCd1234"),
	})
	require.NoError(t, err)
	require.NotNil(t, updated.ReferralCode)

	byCode, err := s.GetUser(ctx, users.GetCriteria{ReferralCode: lo.ToPtr("AbCd1234")})
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, int64(42), byCode.TelegramID)

	missing, err := s.GetUser(ctx, users.GetCriteria{TelegramID: lo.ToPtr(int64(7))})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUsers_SetReferrerOnce(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		_, err := s.CreateUser(ctx, users.User{TelegramID: id})
		require.NoError(t, err)
	}

	ok, err := s.SetReferrer(ctx, 2, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetReferrer(ctx, 2, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := s.CountReferrals(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	referred, err := s.ListUsers(ctx, users.ListCriteria{ReferrerID: lo.ToPtr(int64(1))})
	require.NoError(t, err)
	require.Len(t, referred, 1)
	assert.Equal(t, int64(2), referred[0].TelegramID)
}

func TestUsers_ClaimTestPeriod(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, users.User{TelegramID: 42, TestPeriod: true})
	require.NoError(t, err)

	ok, err := s.ClaimTestPeriod(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimTestPeriod(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := s.ListTelegramIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, ids)
}
