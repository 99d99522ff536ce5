package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sproutxp/internal/model"
)

func TestXPRepo_CacheRoundTrip(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewXPRepo(nil, rdb, LedgerProcedure, 10*time.Minute)
	ctx := context.Background()
	userID := uuid.New()

	_, err := repo.cachedAccount(ctx, userID)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, repo.cacheAccount(ctx, model.XPAccount{UserID: userID, TotalXP: 550, TotalLevel: 2}))

	acc, err := repo.cachedAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 550, acc.TotalXP)
	assert.Equal(t, 2, acc.TotalLevel)
	assert.Equal(t, 10*time.Minute, mr.TTL(accountKey(userID)))
}

func TestXPRepo_CacheIgnoresStaleWrites(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewXPRepo(nil, rdb, LedgerProcedure, time.Minute)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, repo.cacheAccount(ctx, model.XPAccount{UserID: userID, TotalXP: 700, TotalLevel: 2}))
	// A slower concurrent grant finishing later must not roll the cache back.
	require.NoError(t, repo.cacheAccount(ctx, model.XPAccount{UserID: userID, TotalXP: 600, TotalLevel: 2}))

	acc, err := repo.cachedAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 700, acc.TotalXP)
}

func TestXPRepo_Account_ServedFromCache(t *testing.T) {
	_, rdb := newTestRedis(t)
	// nil pool: a cache hit must not reach PostgreSQL.
	repo := NewXPRepo(nil, rdb, LedgerProcedure, time.Minute)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, repo.cacheAccount(ctx, model.XPAccount{UserID: userID, TotalXP: 40, TotalLevel: 1}))

	acc, err := repo.Account(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 40, acc.TotalXP)
}
