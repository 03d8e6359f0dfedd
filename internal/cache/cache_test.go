package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return clock }

	require.NoError(t, m.Set(ctx, "stats", []byte(`{"total":3}`), time.Second))
	got, err := m.Get(ctx, "stats")
	require.NoError(t, err)
	assert.Equal(t, `{"total":3}`, string(got))

	clock = clock.Add(time.Second)
	_, err = m.Get(ctx, "stats")
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	type payload struct {
		Open int `json:"open"`
	}
	require.NoError(t, SetJSON(ctx, m, "k", payload{Open: 2}, 0))
	var out payload
	require.NoError(t, GetJSON(ctx, m, "k", &out))
	assert.Equal(t, 2, out.Open)

	require.NoError(t, m.Delete(ctx, "k"))
	assert.ErrorIs(t, GetJSON(ctx, m, "k", &out), ErrMiss)
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrMiss)
}
