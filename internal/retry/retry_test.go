package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"OminisNode/internal/logger"
	"OminisNode/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Fixed(5, time.Millisecond).Do(context.Background(), logger.Nop(), "read", func(context.Context) error {
		calls++
		if calls < 3 {
			return models.ErrTransientLedger.Wrap("rpc down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	boom := errors.New("reverted")
	err := Fixed(5, time.Millisecond).Do(context.Background(), logger.Nop(), "call", func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoExhausts(t *testing.T) {
	calls := 0
	err := Fixed(3, time.Millisecond).Do(context.Background(), logger.Nop(), "call", func(context.Context) error {
		calls++
		return models.ErrTransientLedger
	})
	assert.True(t, models.IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestDoObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Fixed(10, time.Hour).Do(ctx, logger.Nop(), "call", func(context.Context) error {
		calls++
		cancel()
		return models.ErrTransientLedger
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPoll(t *testing.T) {
	n := 0
	ok := Fixed(5, time.Millisecond).Poll(context.Background(), logger.Nop(), "status", func(context.Context) (bool, error) {
		n++
		if n == 2 {
			return false, errors.New("flaky")
		}
		return n == 4, nil
	})
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	n = 0
	ok = Fixed(3, time.Millisecond).Poll(context.Background(), logger.Nop(), "status", func(context.Context) (bool, error) {
		n++
		return false, nil
	})
	assert.False(t, ok)
	assert.Equal(t, 3, n)
}

func TestBackoffDelayCapped(t *testing.T) {
	p := Backoff(6, 100*time.Millisecond, 500*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, p.Interval(1))
	assert.Equal(t, 200*time.Millisecond, p.Interval(2))
	assert.Equal(t, 400*time.Millisecond, p.Interval(3))
	assert.Equal(t, 500*time.Millisecond, p.Interval(4))
}
