package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"OminisNode/internal/cache"
	"OminisNode/internal/logger"
	"OminisNode/internal/models"
	"OminisNode/internal/store"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCheckpoint uint64

func (c fixedCheckpoint) Checkpoint() uint64 { return uint64(c) }

type fixedHead struct {
	h   uint64
	err error
}

func (f fixedHead) CurrentHeight(context.Context) (uint64, error) { return f.h, f.err }

func seed(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	created := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	for i, st := range []models.OrderStatus{models.StatusOpen, models.StatusOpen, models.StatusVerified, models.StatusRejected} {
		o := &models.Order{
			ID:          uint64(i + 1),
			Issuer:      "0xissuer",
			ProblemHash: "0xp",
			Status:      st,
			Reward:      math.NewInt(100),
			CreatedAt:   created.Add(time.Duration(i) * time.Minute),
			Deadline:    created.Add(time.Hour),
		}
		require.NoError(t, m.InsertOrUpdateOrder(context.Background(), o))
	}
	return m
}

func TestListOrdersPaging(t *testing.T) {
	svc := &OrderService{Store: seed(t), Log: logger.Nop()}

	page, err := svc.ListOrders(context.Background(), ListQuery{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Orders, 3)
	assert.Equal(t, int64(4), page.Total)
	assert.Equal(t, 1, page.Page)

	page, err = svc.ListOrders(context.Background(), ListQuery{Page: 2, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Orders, 1)

	open := models.StatusOpen
	page, err = svc.ListOrders(context.Background(), ListQuery{Status: &open})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, DefaultPageLimit, page.Limit)

	_, err = svc.ListOrders(context.Background(), ListQuery{Limit: 101})
	assert.ErrorIs(t, err, ErrInvalidPage)
}

func TestGetMissingOrder(t *testing.T) {
	svc := &OrderService{Store: seed(t), Log: logger.Nop()}
	_, err := svc.GetOrder(context.Background(), 99)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestStatsAreCached(t *testing.T) {
	m := seed(t)
	svc := &OrderService{Store: m, Cache: cache.NewMemory(), CacheTTL: time.Minute, Log: logger.Nop()}

	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.TotalOrders)
	assert.Equal(t, int64(2), st.OpenOrders)
	assert.Equal(t, int64(1), st.CompletedOrders)

	require.NoError(t, m.InsertOrUpdateOrder(context.Background(), &models.Order{
		ID: 5, Issuer: "0xissuer", Reward: math.NewInt(1), Deadline: time.Now(),
	}))
	st, err = svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.TotalOrders, "served from cache")

	svc.Cache = cache.Nop{}
	st, err = svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.TotalOrders)
}

func TestSyncStatus(t *testing.T) {
	svc := &OrderService{Store: seed(t), Log: logger.Nop()}

	st, err := svc.SyncStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Synced)
	assert.Equal(t, int64(4), st.OrdersIndexed)

	svc.Sync = fixedCheckpoint(90)
	svc.Head = fixedHead{h: 100}
	svc.SyncTolerance = 12
	st, err = svc.SyncStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Synced)
	assert.Equal(t, uint64(10), st.Lag)

	svc.SyncTolerance = 2
	st, err = svc.SyncStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Synced)

	svc.Head = fixedHead{err: errors.New("rpc down")}
	st, err = svc.SyncStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(90), st.LastBlock)
}
