package marzban

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestTokenCache_ReusedWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	var calls atomic.Int32
	cache := NewTokenCache(func(context.Context) (string, error) {
		calls.Add(1)
		return "tok", nil
	}, time.Hour, clock.Now)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		token, err := cache.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok", token)
		clock.now = clock.now.Add(10 * time.Minute)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestTokenCache_RefreshAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	var calls atomic.Int32
	cache := NewTokenCache(func(context.Context) (string, error) {
		calls.Add(1)
		return "tok", nil
	}, time.Hour, clock.Now)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Hour)
	_, err = cache.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenCache_AuthFailure(t *testing.T) {
	boom := errors.New("connection refused")
	cache := NewTokenCache(func(context.Context) (string, error) {
		return "", boom
	}, time.Hour, nil)

	_, err := cache.Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoToken)
	assert.ErrorIs(t, err, boom)
}

func TestTokenCache_EmptyToken(t *testing.T) {
	cache := NewTokenCache(func(context.Context) (string, error) {
		return "", nil
	}, time.Hour, nil)

	_, err := cache.Get(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestTokenCache_Invalidate(t *testing.T) {
	var calls atomic.Int32
	cache := NewTokenCache(func(context.Context) (string, error) {
		calls.Add(1)
		return "tok", nil
	}, time.Hour, nil)
	ctx := context.Background()

	_, err := cache.Get(ctx)
	require.NoError(t, err)

	// чужой токен не сбрасывает кэш
	cache.Invalidate("other")
	_, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	cache.Invalidate("tok")
	_, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
