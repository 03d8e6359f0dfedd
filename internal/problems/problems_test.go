package problems

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"OminisNode/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHash(t *testing.T) {
	assert.Equal(t, "0xabcd", NormalizeHash("ABCD"))
	assert.Equal(t, "0xabcd", NormalizeHash(" 0xAbCd "))
}

func TestText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/problems/0xabcd":
			_, _ = w.Write([]byte(`{"success":true,"problem":{"text":"Find d/dx of x^2"}}`))
		default:
			_, _ = w.Write([]byte(`{"success":false,"error":"Problem not found"}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	text, err := c.Text(context.Background(), "0xABCD")
	require.NoError(t, err)
	assert.Equal(t, "Find d/dx of x^2", text)

	_, err = c.Text(context.Background(), "0xffff")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Contains(t, err.Error(), "Problem not found")
}
