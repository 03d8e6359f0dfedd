package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"OminisNode/internal/models"
)

// Memory is an in-process OrderStore with the same upsert rules as Store.
type Memory struct {
	mu         sync.RWMutex
	orders     map[uint64]models.Order
	solutions  map[uint64]models.Solution
	challenges map[uint64]models.Challenge
	syncHeight uint64
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		orders:     map[uint64]models.Order{},
		solutions:  map[uint64]models.Solution{},
		challenges: map[uint64]models.Challenge{},
		now:        time.Now,
	}
}

func (m *Memory) InsertOrUpdateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	in := *copyOrder(*order)
	in.Reward = parseInt(intString(order.Reward))
	in.UpdatedAt = m.now()
	cur, ok := m.orders[order.ID]
	if !ok {
		m.orders[order.ID] = in
		return nil
	}
	if cur.ProblemHash == "" {
		cur.ProblemHash = in.ProblemHash
	}
	cur.Status = in.Status
	if in.Solver != nil {
		s := *in.Solver
		cur.Solver = &s
	}
	cur.UpdatedAt = in.UpdatedAt
	m.orders[order.ID] = cur
	return nil
}

func (m *Memory) InsertOrUpdateSolution(_ context.Context, sol *models.Solution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.solutions[sol.OrderID]
	if !ok {
		m.solutions[sol.OrderID] = copySolution(*sol)
		return nil
	}
	if cur.Solver == "" {
		cur.Solver = sol.Solver
	}
	if cur.CommitHash == "" {
		cur.CommitHash = sol.CommitHash
	}
	if cur.CommitTime.IsZero() {
		cur.CommitTime = sol.CommitTime
	}
	if cur.Text == nil && sol.Text != nil {
		t := *sol.Text
		cur.Text = &t
	}
	if cur.RevealTime == nil && sol.RevealTime != nil {
		t := *sol.RevealTime
		cur.RevealTime = &t
	}
	cur.IsRevealed = cur.IsRevealed || sol.IsRevealed
	if cur.TxHash == "" {
		cur.TxHash = sol.TxHash
	}
	m.solutions[sol.OrderID] = cur
	return nil
}

func (m *Memory) InsertOrUpdateChallenge(_ context.Context, ch *models.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	in := *ch
	in.Stake = parseInt(intString(ch.Stake))
	cur, ok := m.challenges[ch.OrderID]
	if !ok {
		m.challenges[ch.OrderID] = in
		return nil
	}
	if cur.Challenger == "" {
		cur.Challenger = in.Challenger
	}
	if cur.Stake.IsZero() {
		cur.Stake = in.Stake
	}
	if cur.Reason == "" {
		cur.Reason = in.Reason
	}
	if cur.ChallengeTime.IsZero() {
		cur.ChallengeTime = in.ChallengeTime
	}
	if !cur.Resolved {
		cur.ChallengerWon = in.ChallengerWon
	}
	cur.Resolved = cur.Resolved || in.Resolved
	if cur.TxHash == "" {
		cur.TxHash = in.TxHash
	}
	m.challenges[ch.OrderID] = cur
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id uint64) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, models.ErrNotFound.Wrapf("order %d", id)
	}
	return copyOrder(o), nil
}

func (m *Memory) GetSolution(_ context.Context, orderID uint64) (*models.Solution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.solutions[orderID]
	if !ok {
		return nil, models.ErrNotFound.Wrapf("solution for order %d", orderID)
	}
	out := copySolution(s)
	return &out, nil
}

func (m *Memory) GetChallenge(_ context.Context, orderID uint64) (*models.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.challenges[orderID]
	if !ok {
		return nil, models.ErrNotFound.Wrapf("challenge for order %d", orderID)
	}
	return &c, nil
}

func (m *Memory) ListOrders(_ context.Context, f OrderFilter) ([]*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.filter(f)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	off, lim := f.offset(), f.limit()
	if off >= len(matched) {
		return nil, nil
	}
	end := off + lim
	if end > len(matched) {
		end = len(matched)
	}
	return matched[off:end], nil
}

func (m *Memory) CountOrders(_ context.Context, f OrderFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.filter(f))), nil
}

func (m *Memory) Stats(context.Context) (models.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st models.Stats
	for _, o := range m.orders {
		st.TotalOrders++
		switch o.Status {
		case models.StatusOpen:
			st.OpenOrders++
		case models.StatusVerified:
			st.CompletedOrders++
		case models.StatusRejected:
			st.RejectedOrders++
		}
	}
	st.TotalChallenges = int64(len(m.challenges))
	st.SuccessRate = successRate(st.CompletedOrders, st.TotalOrders)
	return st, nil
}

func (m *Memory) GetSyncHeight(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.syncHeight, nil
}

func (m *Memory) SetSyncHeight(_ context.Context, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncHeight = height
	return nil
}

func (m *Memory) filter(f OrderFilter) []*models.Order {
	var out []*models.Order
	for _, o := range m.orders {
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		if f.Issuer != "" && !strings.EqualFold(o.Issuer, f.Issuer) {
			continue
		}
		if f.Solver != "" && (o.Solver == nil || !strings.EqualFold(*o.Solver, f.Solver)) {
			continue
		}
		out = append(out, copyOrder(o))
	}
	return out
}

func copyOrder(o models.Order) *models.Order {
	if o.Solver != nil {
		s := *o.Solver
		o.Solver = &s
	}
	return &o
}

func copySolution(s models.Solution) models.Solution {
	if s.Text != nil {
		t := *s.Text
		s.Text = &t
	}
	if s.RevealTime != nil {
		t := *s.RevealTime
		s.RevealTime = &t
	}
	return s
}
