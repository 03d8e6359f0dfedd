package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"OminisNode/internal/models"

	"cosmossdk.io/math"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func sampleOrder(id uint64, status models.OrderStatus) *models.Order {
	return &models.Order{
		ID:          id,
		Issuer:      "0x00000000000000000000000000000000000000Aa",
		ProblemHash: "0xabc",
		ProblemType: models.ProblemIntegral,
		TimeTier:    models.Tier5Min,
		Status:      status,
		Reward:      math.NewInt(1000),
		CreatedAt:   t0.Add(time.Duration(id) * time.Minute),
		Deadline:    t0.Add(time.Duration(id)*time.Minute + 5*time.Minute),
		TxHash:      "0xposted",
		BlockNumber: 10,
	}
}

func TestMemoryOrderImmutableFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertOrUpdateOrder(ctx, sampleOrder(1, models.StatusOpen)))

	changed := sampleOrder(1, models.StatusAccepted)
	changed.Issuer = "0xother"
	changed.Reward = math.NewInt(5)
	changed.Solver = strPtr("0xsolver")
	require.NoError(t, m.InsertOrUpdateOrder(ctx, changed))

	got, err := m.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000Aa", got.Issuer)
	assert.Equal(t, "1000", got.Reward.String())
	assert.Equal(t, models.StatusAccepted, got.Status)
	require.NotNil(t, got.Solver)
	assert.Equal(t, "0xsolver", *got.Solver)

	// a later write without a solver keeps the known one
	require.NoError(t, m.InsertOrUpdateOrder(ctx, sampleOrder(1, models.StatusCommitted)))
	got, err = m.GetOrder(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got.Solver)
	assert.Equal(t, "0xsolver", *got.Solver)
}

func TestMemorySolutionNeverClearsReveal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	reveal := t0.Add(time.Minute)
	commit := &models.Solution{OrderID: 2, Solver: "0xs", CommitHash: "0xc", CommitTime: t0}
	revealed := &models.Solution{OrderID: 2, Solver: "0xs", Text: strPtr("42"), RevealTime: &reveal, IsRevealed: true}

	require.NoError(t, m.InsertOrUpdateSolution(ctx, commit))
	require.NoError(t, m.InsertOrUpdateSolution(ctx, revealed))
	require.NoError(t, m.InsertOrUpdateSolution(ctx, commit))

	got, err := m.GetSolution(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "0xc", got.CommitHash)
	assert.True(t, got.IsRevealed)
	require.NotNil(t, got.Text)
	assert.Equal(t, "42", *got.Text)
	assert.Equal(t, t0, got.CommitTime)
}

func TestMemoryChallengeResolutionFrozen(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertOrUpdateChallenge(ctx, &models.Challenge{OrderID: 3, Reason: "wrong sign"}))
	require.NoError(t, m.InsertOrUpdateChallenge(ctx, &models.Challenge{OrderID: 3, Challenger: "0xc", Stake: math.NewInt(50), ChallengeTime: t0}))
	require.NoError(t, m.InsertOrUpdateChallenge(ctx, &models.Challenge{OrderID: 3, Resolved: true, ChallengerWon: true}))
	require.NoError(t, m.InsertOrUpdateChallenge(ctx, &models.Challenge{OrderID: 3, Resolved: false, ChallengerWon: false}))

	got, err := m.GetChallenge(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "wrong sign", got.Reason)
	assert.Equal(t, "0xc", got.Challenger)
	assert.Equal(t, "50", got.Stake.String())
	assert.True(t, got.Resolved)
	assert.True(t, got.ChallengerWon)
}

func TestMemoryNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.GetOrder(ctx, 9)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	_, err = m.GetSolution(ctx, 9)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	_, err = m.GetChallenge(ctx, 9)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestMemoryListAndStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for id, st := range map[uint64]models.OrderStatus{
		1: models.StatusOpen,
		2: models.StatusOpen,
		3: models.StatusVerified,
		4: models.StatusRejected,
	} {
		o := sampleOrder(id, st)
		if id == 3 {
			o.Solver = strPtr("0xSolver")
		}
		require.NoError(t, m.InsertOrUpdateOrder(ctx, o))
	}
	require.NoError(t, m.InsertOrUpdateChallenge(ctx, &models.Challenge{OrderID: 4}))

	all, err := m.ListOrders(ctx, OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, uint64(4), all[0].ID)

	open := models.StatusOpen
	page, err := m.ListOrders(ctx, OrderFilter{Status: &open, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(1), page[0].ID)

	bySolver, err := m.ListOrders(ctx, OrderFilter{Solver: "0xsolver"})
	require.NoError(t, err)
	require.Len(t, bySolver, 1)

	n, err := m.CountOrders(ctx, OrderFilter{Status: &open})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{
		TotalOrders:     4,
		OpenOrders:      2,
		CompletedOrders: 1,
		RejectedOrders:  1,
		TotalChallenges: 1,
		SuccessRate:     25,
	}, st)
}

func TestOrderFilterLimits(t *testing.T) {
	assert.Equal(t, DefaultListLimit, OrderFilter{}.limit())
	assert.Equal(t, MaxListLimit, OrderFilter{Limit: 1000}.limit())
	assert.Equal(t, 0, OrderFilter{Offset: -3}.offset())

	open := models.StatusOpen
	where, args := OrderFilter{Status: &open, Solver: "0xs"}.where()
	assert.Equal(t, " WHERE status=$1 AND lower(solver)=lower($2)", where)
	assert.Len(t, args, 2)
}

// Applying any sequence of solution and challenge writes twice leaves the
// same state as applying it once.
func TestMemoryReplayIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		n := rapid.IntRange(1, 12).Draw(rt, "n")
		var sols []*models.Solution
		var chs []*models.Challenge
		for i := 0; i < n; i++ {
			sol := &models.Solution{
				OrderID:    rapid.Uint64Range(1, 3).Draw(rt, "sid"),
				Solver:     rapid.SampledFrom([]string{"", "0xa", "0xb"}).Draw(rt, "solver"),
				CommitHash: rapid.SampledFrom([]string{"", "0xc1", "0xc2"}).Draw(rt, "hash"),
			}
			if rapid.Bool().Draw(rt, "revealed") {
				sol.Text = strPtr(rapid.StringN(1, 8, -1).Draw(rt, "text"))
				sol.IsRevealed = true
			}
			sols = append(sols, sol)
			chs = append(chs, &models.Challenge{
				OrderID:       rapid.Uint64Range(1, 3).Draw(rt, "cid"),
				Reason:        rapid.SampledFrom([]string{"", "r1", "r2"}).Draw(rt, "reason"),
				Stake:         math.NewInt(rapid.Int64Range(0, 3).Draw(rt, "stake")),
				Resolved:      rapid.Bool().Draw(rt, "resolved"),
				ChallengerWon: rapid.Bool().Draw(rt, "won"),
			})
		}

		apply := func(m *Memory) {
			for i := range sols {
				require.NoError(rt, m.InsertOrUpdateSolution(ctx, sols[i]))
				require.NoError(rt, m.InsertOrUpdateChallenge(ctx, chs[i]))
			}
		}
		once, twice := NewMemory(), NewMemory()
		apply(once)
		apply(twice)
		apply(twice)

		for id := uint64(1); id <= 3; id++ {
			a, errA := once.GetSolution(ctx, id)
			b, errB := twice.GetSolution(ctx, id)
			require.Equal(rt, errA == nil, errB == nil)
			if errA == nil {
				require.Equal(rt, a, b)
				require.Equal(rt, a.IsRevealed, a.Text != nil)
			}
			ca, errA := once.GetChallenge(ctx, id)
			cb, errB := twice.GetChallenge(ctx, id)
			require.Equal(rt, errA == nil, errB == nil)
			if errA == nil {
				require.Equal(rt, ca.Resolved, cb.Resolved)
				require.Equal(rt, ca.ChallengerWon, cb.ChallengerWon)
				require.Equal(rt, ca.Reason, cb.Reason)
				require.Equal(rt, ca.Stake.String(), cb.Stake.String())
			}
		}
	})
}

// TestPostgresStore runs against a scratch database named by OMINIS_TEST_DSN.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("OMINIS_TEST_DSN")
	if dsn == "" {
		t.Skip("OMINIS_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	schema, err := os.ReadFile("../../migrations/001_init.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS solutions, challenges, orders, sync_state`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	s := New(pool)
	require.NoError(t, s.InsertOrUpdateOrder(ctx, sampleOrder(1, models.StatusOpen)))
	accepted := sampleOrder(1, models.StatusAccepted)
	accepted.Issuer = "0xother"
	accepted.Solver = strPtr("0xsolver")
	require.NoError(t, s.InsertOrUpdateOrder(ctx, accepted))
	require.NoError(t, s.InsertOrUpdateOrder(ctx, accepted))

	got, err := s.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	assert.Equal(t, "0x00000000000000000000000000000000000000Aa", got.Issuer)
	assert.Equal(t, "1000", got.Reward.String())

	reveal := t0.Add(time.Minute)
	require.NoError(t, s.InsertOrUpdateSolution(ctx, &models.Solution{OrderID: 1, Solver: "0xsolver", CommitHash: "0xc", CommitTime: t0}))
	require.NoError(t, s.InsertOrUpdateSolution(ctx, &models.Solution{OrderID: 1, Text: strPtr("42"), RevealTime: &reveal, IsRevealed: true}))
	sol, err := s.GetSolution(ctx, 1)
	require.NoError(t, err)
	assert.True(t, sol.IsRevealed)
	assert.Equal(t, "0xc", sol.CommitHash)

	_, err = s.GetChallenge(ctx, 1)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, s.SetSyncHeight(ctx, 2500))
	h, err := s.GetSyncHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), h)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalOrders)
}
