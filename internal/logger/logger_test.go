package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "indexer").With("chain", "arb")

	l.Warn("chunk failed", "from", 10, "err", errors.New("boom"), 42, "ignored")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "indexer", line["component"])
	assert.Equal(t, "arb", line["chain"])
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "chunk failed", line["message"])
	assert.EqualValues(t, 10, line["from"])
	assert.Equal(t, "boom", line["err"])
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info("x")
		l.With("a", 1).Error("y")
	})
}

func TestKvToMapOddLength(t *testing.T) {
	m := kvToMap("a", 1, "b")
	assert.Equal(t, map[string]interface{}{"a": 1}, m)
}
