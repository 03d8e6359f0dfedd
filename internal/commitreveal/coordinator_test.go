package commitreveal

import (
	"context"
	"errors"
	"testing"
	"time"

	"OminisNode/internal/chain"
	"OminisNode/internal/chain/chaintest"
	"OminisNode/internal/commitment"
	"OminisNode/internal/logger"
	"OminisNode/internal/models"
	"OminisNode/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const solver = "0x00000000000000000000000000000000000000aa"

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, status models.OrderStatus, deadline time.Duration) (*Coordinator, *chaintest.Ledger) {
	t.Helper()
	l := chaintest.NewLedger(solver)
	l.Now = func() time.Time { return epoch }
	l.PutOrder(chain.OrderRecord{
		ID:       1,
		Issuer:   "0xissuer",
		Status:   uint8(status),
		Solver:   solver,
		Deadline: epoch.Add(deadline),
	})
	c := New(l, logger.Nop())
	c.Clock = func() time.Time { return epoch }
	c.Confirm = retry.Fixed(3, time.Millisecond)
	c.Transient = retry.Fixed(2, time.Millisecond)
	c.SettleDelay = 0
	return c, l
}

func mustSalt(t *testing.T) commitment.Salt {
	t.Helper()
	s, err := commitment.NewSalt()
	require.NoError(t, err)
	return s
}

func TestSubmitCommitsThenReveals(t *testing.T) {
	c, l := setup(t, models.StatusAccepted, 10*time.Minute)

	res, err := c.Submit(context.Background(), 1, "2x")
	require.NoError(t, err)
	require.NotNil(t, res.Commit)
	require.NotNil(t, res.Reveal)
	assert.True(t, res.Commit.Success)
	assert.True(t, res.Reveal.Success)

	onChain, ok := l.Commitment(1)
	require.True(t, ok)
	assert.Equal(t, [32]byte(res.CommitHash), onChain)
	assert.True(t, commitment.Verify(res.CommitHash, "2x", res.Salt))

	text, ok := l.Revealed(1)
	require.True(t, ok)
	assert.Equal(t, "2x", text)
	assert.Equal(t, models.StatusRevealed, l.Status(1))

	_, kept := c.Salts.Get(1)
	assert.False(t, kept, "salt is dropped once revealed")
}

func TestCommitUnsuccessfulReceiptConfirmedByStatus(t *testing.T) {
	c, l := setup(t, models.StatusAccepted, 10*time.Minute)
	l.Script("commitSolution", chaintest.Lands)

	rcpt, err := c.Commit(context.Background(), 1, "2x", mustSalt(t))
	require.NoError(t, err)
	assert.True(t, rcpt.Success)
	assert.Equal(t, "0xcommitSolution-1", rcpt.TxHash)
	assert.Equal(t, models.StatusCommitted, l.Status(1))
}

func TestCommitTimeoutConfirmedByStatus(t *testing.T) {
	c, l := setup(t, models.StatusAccepted, 10*time.Minute)
	l.Script("commitSolution", chaintest.Timeout)

	rcpt, err := c.Commit(context.Background(), 1, "2x", mustSalt(t))
	require.NoError(t, err)
	assert.True(t, rcpt.Success)
	assert.Equal(t, 1, l.CallCount("commitSolution"), "an ambiguous send is never resent")
}

func TestCommitLostIsNotConfirmed(t *testing.T) {
	c, l := setup(t, models.StatusAccepted, 10*time.Minute)
	l.Script("commitSolution", chaintest.Lost)
	before := l.CallCount("getOrder")

	_, err := c.Commit(context.Background(), 1, "2x", mustSalt(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrCommitNotConfirmed))
	assert.Equal(t, 3, l.CallCount("getOrder")-before, "status polled for the whole budget")
	assert.Equal(t, models.StatusAccepted, l.Status(1))
}

func TestSubmitNeverRevealsAfterUnconfirmedCommit(t *testing.T) {
	c, l := setup(t, models.StatusAccepted, 10*time.Minute)
	l.Script("commitSolution", chaintest.Lost)

	res, err := c.Submit(context.Background(), 1, "2x")
	require.Error(t, err)
	assert.Nil(t, res.Reveal)
	assert.Zero(t, l.CallCount("revealSolution"))
}

func TestCommitTransientRetried(t *testing.T) {
	c, l := setup(t, models.StatusAccepted, 10*time.Minute)
	l.Script("commitSolution", chaintest.Transient)

	rcpt, err := c.Commit(context.Background(), 1, "2x", mustSalt(t))
	require.NoError(t, err)
	assert.True(t, rcpt.Success)
	assert.Equal(t, 2, l.CallCount("commitSolution"))
}

func TestCommitPreconditionNotPolled(t *testing.T) {
	c, l := setup(t, models.StatusOpen, 10*time.Minute)
	before := l.CallCount("getOrder")

	_, err := c.Commit(context.Background(), 1, "2x", mustSalt(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPrecondition))
	assert.Equal(t, before, l.CallCount("getOrder"))
}

func TestRevealPreconditions(t *testing.T) {
	salt := mustSalt(t)

	t.Run("wrong status", func(t *testing.T) {
		c, l := setup(t, models.StatusAccepted, 10*time.Minute)
		_, err := c.Reveal(context.Background(), 1, "2x", salt)
		assert.True(t, errors.Is(err, models.ErrInvalidStatus))
		assert.Zero(t, l.CallCount("revealSolution"))
	})

	t.Run("other solver", func(t *testing.T) {
		c, l := setup(t, models.StatusCommitted, 10*time.Minute)
		l.ID = "0x00000000000000000000000000000000000000bb"
		_, err := c.Reveal(context.Background(), 1, "2x", salt)
		assert.True(t, errors.Is(err, models.ErrNotAssignedSolver))
		assert.Zero(t, l.CallCount("revealSolution"))
	})

	t.Run("too close to deadline", func(t *testing.T) {
		c, l := setup(t, models.StatusCommitted, 30*time.Second)
		_, err := c.Reveal(context.Background(), 1, "2x", salt)
		assert.True(t, errors.Is(err, models.ErrInsufficientTime))
		assert.True(t, models.IsPrecondition(err))
		assert.Zero(t, l.CallCount("revealSolution"))
	})
}

func TestRevealSolverComparisonIgnoresCase(t *testing.T) {
	c, l := setup(t, models.StatusAccepted, 10*time.Minute)
	salt := mustSalt(t)
	_, err := c.Commit(context.Background(), 1, "2x", salt)
	require.NoError(t, err)

	l.ID = "0x00000000000000000000000000000000000000AA"
	rcpt, err := c.Reveal(context.Background(), 1, "2x", salt)
	require.NoError(t, err)
	assert.True(t, rcpt.Success)
}

func TestRevealAmbiguousConfirmed(t *testing.T) {
	c, l := setup(t, models.StatusAccepted, 10*time.Minute)
	salt := mustSalt(t)
	_, err := c.Commit(context.Background(), 1, "2x", salt)
	require.NoError(t, err)
	l.Script("revealSolution", chaintest.Timeout)

	rcpt, err := c.Reveal(context.Background(), 1, "2x", salt)
	require.NoError(t, err)
	assert.True(t, rcpt.Success)
	assert.Equal(t, models.StatusRevealed, l.Status(1))
}

func TestRevealLostNotConfirmed(t *testing.T) {
	c, l := setup(t, models.StatusAccepted, 10*time.Minute)
	salt := mustSalt(t)
	_, err := c.Commit(context.Background(), 1, "2x", salt)
	require.NoError(t, err)
	l.Script("revealSolution", chaintest.Lost)

	_, err = c.Reveal(context.Background(), 1, "2x", salt)
	assert.True(t, errors.Is(err, models.ErrRevealNotConfirmed))
	_, kept := c.Salts.Get(1)
	assert.True(t, kept, "salt is kept while the reveal is unresolved")
}

func TestResumeUsesSaltBook(t *testing.T) {
	c, _ := setup(t, models.StatusAccepted, 10*time.Minute)
	_, err := c.Commit(context.Background(), 1, "2x", mustSalt(t))
	require.NoError(t, err)

	rcpt, err := c.Resume(context.Background(), 1, "2x")
	require.NoError(t, err)
	assert.True(t, rcpt.Success)
}

func TestResumeWithoutSaltIsSaltLoss(t *testing.T) {
	c, l := setup(t, models.StatusCommitted, 10*time.Minute)

	_, err := c.Resume(context.Background(), 1, "2x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSaltLost))
	assert.False(t, models.IsPrecondition(err))
	assert.Zero(t, l.CallCount("revealSolution"))
}

func TestSubmitStopsOnCancelDuringSettle(t *testing.T) {
	c, l := setup(t, models.StatusAccepted, 10*time.Minute)
	c.SettleDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res, err := c.Submit(ctx, 1, "2x")
	require.ErrorIs(t, err, context.Canceled)
	assert.NotNil(t, res.Commit)
	assert.Zero(t, l.CallCount("revealSolution"))
}
