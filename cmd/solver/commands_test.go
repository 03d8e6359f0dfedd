package main

import (
	"bytes"
	"strings"
	"testing"

	"OminisNode/internal/commitment"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHashWithGivenSalt(t *testing.T) {
	salt := "0x" + strings.Repeat("ab", commitment.SaltSize)
	out, err := execute(t, "hash", "x^2 + C", "--salt", salt)
	require.NoError(t, err)

	s, err := commitment.ParseSalt(salt)
	require.NoError(t, err)
	require.Contains(t, out, "hash: "+commitment.Digest("x^2 + C", s).Hex())
	require.Contains(t, out, "salt: "+salt)
}

func TestHashGeneratesSalt(t *testing.T) {
	out, err := execute(t, "hash", "42")
	require.NoError(t, err)
	require.Contains(t, out, "salt: 0x")
}

func TestCommandArgumentErrors(t *testing.T) {
	_, err := execute(t, "hash", "42", "--salt", "0x12")
	require.ErrorContains(t, err, "invalid salt")

	_, err = execute(t, "reveal", "1", "42")
	require.ErrorContains(t, err, "salt")

	_, err = execute(t, "accept", "not-a-number")
	require.ErrorContains(t, err, "invalid order id")

	_, err = execute(t, "submit", "1")
	require.Error(t, err)
}
