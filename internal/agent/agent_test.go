package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"OminisNode/internal/chain"
	"OminisNode/internal/chain/chaintest"
	"OminisNode/internal/commitment"
	"OminisNode/internal/commitreveal"
	"OminisNode/internal/llm"
	"OminisNode/internal/logger"
	"OminisNode/internal/models"
	"OminisNode/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bot = "0x00000000000000000000000000000000000000b0"

var now = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type stubSolver struct {
	mu     sync.Mutex
	answer string
	err    error
	gate   chan struct{}
	seen   []string
}

func (s *stubSolver) Solve(ctx context.Context, _ models.ProblemType, problem string) (llm.Solution, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return llm.Solution{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, problem)
	if s.err != nil {
		return llm.Solution{}, s.err
	}
	return llm.Solution{Answer: s.answer, Steps: []llm.Step{{N: 1, Content: "power rule"}}}, nil
}

type stubProblems map[string]string

func (p stubProblems) Text(_ context.Context, hash string) (string, error) {
	if t, ok := p[hash]; ok {
		return t, nil
	}
	return "", models.ErrNotFound.Wrap(hash)
}

func order(id uint64, status models.OrderStatus, left time.Duration) chain.OrderRecord {
	return chain.OrderRecord{
		ID:          id,
		Issuer:      "0xissuer",
		ProblemHash: "0xp1",
		ProblemType: uint8(models.ProblemDerivative),
		Status:      uint8(status),
		Deadline:    now.Add(left),
	}
}

func setup(t *testing.T) (*Agent, *chaintest.Ledger, *stubSolver) {
	t.Helper()
	l := chaintest.NewLedger(bot)
	l.Now = func() time.Time { return now }

	c := commitreveal.New(l, logger.Nop())
	c.Clock = func() time.Time { return now }
	c.Confirm = retry.Fixed(3, time.Millisecond)
	c.Transient = retry.Fixed(2, time.Millisecond)
	c.SettleDelay = 0

	s := &stubSolver{answer: "2x"}
	a := New(l, s, stubProblems{"0xp1": "d/dx x^2"}, c, logger.Nop())
	a.Clock = func() time.Time { return now }
	a.Interval = 5 * time.Millisecond
	return a, l, s
}

func TestPollSolvesOpenOrder(t *testing.T) {
	a, l, s := setup(t)
	l.PutOrder(order(1, models.StatusOpen, 10*time.Minute))

	assert.Equal(t, 1, a.Poll(context.Background()))
	a.Wait()

	assert.Equal(t, models.StatusRevealed, l.Status(1))
	sol, ok := l.Revealed(1)
	require.True(t, ok)
	assert.Equal(t, "2x", sol)
	assert.Equal(t, []string{"d/dx x^2"}, s.seen)
	assert.Zero(t, a.InFlight.Len())
	_, kept := a.Coordinator.Salts.Get(1)
	assert.False(t, kept, "salt is dropped after the reveal")
}

func TestPollSkipsIneligibleOrders(t *testing.T) {
	a, l, _ := setup(t)
	a.Types = map[models.ProblemType]bool{models.ProblemDerivative: true}

	own := order(1, models.StatusOpen, 10*time.Minute)
	own.Issuer = "0x00000000000000000000000000000000000000B0"
	l.PutOrder(own)

	integral := order(2, models.StatusOpen, 10*time.Minute)
	integral.ProblemType = uint8(models.ProblemIntegral)
	l.PutOrder(integral)

	l.PutOrder(order(3, models.StatusOpen, 45*time.Second))

	assert.Zero(t, a.Poll(context.Background()))
	a.Wait()
	assert.Zero(t, l.CallCount("acceptOrder"))
}

func TestConcurrencyLimit(t *testing.T) {
	a, l, s := setup(t)
	a.MaxConcurrent = 1
	s.gate = make(chan struct{})
	l.PutOrder(order(1, models.StatusOpen, 10*time.Minute))
	l.PutOrder(order(2, models.StatusOpen, 10*time.Minute))

	assert.Equal(t, 1, a.Poll(context.Background()))
	assert.True(t, a.InFlight.Has(1))
	assert.False(t, a.Handle(context.Background(), 2), "no free slot")

	close(s.gate)
	a.Wait()
	assert.Equal(t, models.StatusRevealed, l.Status(1))
	assert.Equal(t, models.StatusOpen, l.Status(2))

	assert.Equal(t, 1, a.Poll(context.Background()))
	a.Wait()
	assert.Equal(t, models.StatusRevealed, l.Status(2))
}

func TestOrderHandledOnceAcrossPaths(t *testing.T) {
	a, l, s := setup(t)
	s.gate = make(chan struct{})
	l.PutOrder(order(1, models.StatusOpen, 10*time.Minute))
	l.AssignBot(1, bot)

	assert.Equal(t, 1, a.Poll(context.Background()))
	a.HandleEvent(context.Background(), chain.Event{Kind: chain.EventOrderAssignedToBot, OrderID: 1, Account: bot})
	assert.False(t, a.Handle(context.Background(), 1))

	close(s.gate)
	a.Wait()
	assert.Equal(t, 1, l.CallCount("acceptOrder"))
	assert.Equal(t, 1, l.CallCount("commitSolution"))
	assert.Equal(t, 1, l.CallCount("revealSolution"))
}

func TestAssignedOrder(t *testing.T) {
	a, l, _ := setup(t)
	rec := order(1, models.StatusAccepted, 40*time.Second)
	rec.Solver = bot
	l.PutOrder(rec)

	a.HandleEvent(context.Background(), chain.Event{Kind: chain.EventOrderAssignedToBot, OrderID: 1, Account: "0xsomeoneelse"})
	a.Wait()
	assert.Zero(t, l.CallCount("commitSolution"))

	a.HandleEvent(context.Background(), chain.Event{Kind: chain.EventOrderAssignedToBot, OrderID: 1, Account: bot})
	a.Wait()
	assert.Zero(t, l.CallCount("acceptOrder"), "already assigned")
	assert.Equal(t, models.StatusRevealed, l.Status(1))
}

func TestAssignedOrderTooLate(t *testing.T) {
	a, l, _ := setup(t)
	l.PutOrder(order(1, models.StatusOpen, 20*time.Second))

	a.HandleEvent(context.Background(), chain.Event{Kind: chain.EventOrderAssignedToBot, OrderID: 1, Account: bot})
	a.Wait()
	assert.Zero(t, l.CallCount("acceptOrder"))
}

func TestMissingProblemTextSkipsBeforeAccept(t *testing.T) {
	a, l, s := setup(t)
	a.Problems = stubProblems{}
	l.PutOrder(order(1, models.StatusOpen, 10*time.Minute))

	assert.Equal(t, 1, a.Poll(context.Background()))
	a.Wait()
	assert.Zero(t, l.CallCount("acceptOrder"))
	assert.Empty(t, s.seen)
}

func TestSolveFailureSendsNoCommit(t *testing.T) {
	a, l, s := setup(t)
	s.err = errors.New("model unavailable")
	l.PutOrder(order(1, models.StatusOpen, 10*time.Minute))

	a.Poll(context.Background())
	a.Wait()
	assert.Equal(t, models.StatusAccepted, l.Status(1))
	assert.Zero(t, l.CallCount("commitSolution"))
}

func TestAcceptTimeoutConfirmed(t *testing.T) {
	a, l, _ := setup(t)
	l.Script("acceptOrder", chaintest.Timeout)
	l.PutOrder(order(1, models.StatusOpen, 10*time.Minute))

	a.Poll(context.Background())
	a.Wait()
	assert.Equal(t, 1, l.CallCount("acceptOrder"))
	assert.Equal(t, models.StatusRevealed, l.Status(1))
}

func TestAcceptLostAbandonsOrder(t *testing.T) {
	a, l, s := setup(t)
	l.Script("acceptOrder", chaintest.Lost)
	l.PutOrder(order(1, models.StatusOpen, 10*time.Minute))

	a.Poll(context.Background())
	a.Wait()
	assert.Equal(t, models.StatusOpen, l.Status(1))
	assert.Empty(t, s.seen)
}

func TestCommittedOrderResumedWithKnownSalt(t *testing.T) {
	a, l, _ := setup(t)
	rec := order(1, models.StatusAccepted, 10*time.Minute)
	rec.Solver = bot
	l.PutOrder(rec)

	salt, err := commitment.NewSalt()
	require.NoError(t, err)
	_, err = a.Coordinator.Commit(context.Background(), 1, "2x", salt)
	require.NoError(t, err)

	require.True(t, a.Handle(context.Background(), 1))
	a.Wait()
	assert.Equal(t, 1, l.CallCount("commitSolution"))
	assert.Equal(t, models.StatusRevealed, l.Status(1))
}

func TestCommittedOrderWithoutSaltNotRevealed(t *testing.T) {
	a, l, _ := setup(t)
	rec := order(1, models.StatusAccepted, 10*time.Minute)
	rec.Solver = bot
	l.PutOrder(rec)

	_, err := l.CommitSolution(context.Background(), 1, [32]byte{1})
	require.NoError(t, err)

	require.True(t, a.Handle(context.Background(), 1))
	a.Wait()
	assert.Zero(t, l.CallCount("revealSolution"))
	assert.Equal(t, models.StatusCommitted, l.Status(1))
}

func TestRunWaitsForSequences(t *testing.T) {
	a, l, s := setup(t)
	s.gate = make(chan struct{})
	l.PutOrder(order(1, models.StatusOpen, 10*time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return a.InFlight.Has(1) }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
		t.Fatal("run returned with a sequence still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(s.gate)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
	assert.Equal(t, models.StatusRevealed, l.Status(1))
}
