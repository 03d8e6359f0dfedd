package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"OminisNode/internal/cache"
	"OminisNode/internal/logger"
	"OminisNode/internal/models"
	"OminisNode/internal/store"
)

var ErrInvalidPage = errors.New("page and limit must be positive, limit at most 100")

const (
	DefaultPageLimit = 20
	MaxPageLimit     = store.MaxListLimit
	statsKey         = "stats"
)

// Checkpointer reports the last fully indexed height.
type Checkpointer interface {
	Checkpoint() uint64
}

type HeadSource interface {
	CurrentHeight(ctx context.Context) (uint64, error)
}

// OrderService answers the read API from the mirror. Stats are cached for
// CacheTTL since they scan every order.
type OrderService struct {
	Store         store.OrderStore
	Cache         cache.Cache
	CacheTTL      time.Duration
	Sync          Checkpointer
	Head          HeadSource
	// SyncTolerance is the lag still reported as synced, normally the
	// confirmation depth plus one tail pass.
	SyncTolerance uint64
	Log           *logger.Logger
}

type ListQuery struct {
	Status *models.OrderStatus
	Issuer string
	Solver string
	Page   int
	Limit  int
}

type OrderPage struct {
	Orders []*models.Order
	Total  int64
	Page   int
	Limit  int
}

type SyncStatus struct {
	Synced        bool
	LastBlock     uint64
	Head          uint64
	Lag           uint64
	OrdersIndexed int64
}

func (s *OrderService) ListOrders(ctx context.Context, q ListQuery) (*OrderPage, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageLimit
	}
	if q.Page < 0 || q.Limit < 0 || q.Limit > MaxPageLimit {
		return nil, ErrInvalidPage
	}
	f := store.OrderFilter{
		Status: q.Status,
		Issuer: strings.TrimSpace(q.Issuer),
		Solver: strings.TrimSpace(q.Solver),
		Limit:  q.Limit,
		Offset: (q.Page - 1) * q.Limit,
	}
	orders, err := s.Store.ListOrders(ctx, f)
	if err != nil {
		return nil, err
	}
	total, err := s.Store.CountOrders(ctx, f)
	if err != nil {
		return nil, err
	}
	return &OrderPage{Orders: orders, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id uint64) (*models.Order, error) {
	return s.Store.GetOrder(ctx, id)
}

func (s *OrderService) GetSolution(ctx context.Context, orderID uint64) (*models.Solution, error) {
	return s.Store.GetSolution(ctx, orderID)
}

func (s *OrderService) GetChallenge(ctx context.Context, orderID uint64) (*models.Challenge, error) {
	return s.Store.GetChallenge(ctx, orderID)
}

func (s *OrderService) Stats(ctx context.Context) (models.Stats, error) {
	var st models.Stats
	if s.Cache != nil {
		err := cache.GetJSON(ctx, s.Cache, statsKey, &st)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.Log.Warn("stats cache read failed", "err", err)
		}
	}

	st, err := s.Store.Stats(ctx)
	if err != nil {
		return models.Stats{}, err
	}
	if s.Cache != nil && s.CacheTTL > 0 {
		if err := cache.SetJSON(ctx, s.Cache, statsKey, st, s.CacheTTL); err != nil {
			s.Log.Warn("stats cache write failed", "err", err)
		}
	}
	return st, nil
}

// SyncStatus compares the checkpoint with the ledger head. Without a
// running synchronizer it reports not synced.
func (s *OrderService) SyncStatus(ctx context.Context) (SyncStatus, error) {
	var out SyncStatus
	total, err := s.Store.CountOrders(ctx, store.OrderFilter{})
	if err != nil {
		return out, err
	}
	out.OrdersIndexed = total
	if s.Sync == nil {
		return out, nil
	}
	out.LastBlock = s.Sync.Checkpoint()
	if s.Head == nil {
		out.Synced = true
		return out, nil
	}
	head, err := s.Head.CurrentHeight(ctx)
	if err != nil {
		// the head is informational; keep answering with the checkpoint
		s.Log.Warn("ledger head unavailable", "err", err)
		out.Synced = true
		return out, nil
	}
	out.Head = head
	if head > out.LastBlock {
		out.Lag = head - out.LastBlock
	}
	out.Synced = out.Lag <= s.SyncTolerance
	return out, nil
}
