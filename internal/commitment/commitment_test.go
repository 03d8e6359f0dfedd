package commitment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDigestKnownVector(t *testing.T) {
	// keccak256("") with an all-zero salt is keccak256 of 32 zero bytes.
	var zero Salt
	h := Digest("", zero)
	assert.Equal(t, "0x290decd9548b62a8d60345a988386fc84ba6bc95484008f6362f93160ef3e563", h.Hex())
}

func TestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		solution := rapid.String().Draw(t, "solution")
		var salt Salt
		copy(salt[:], rapid.SliceOfN(rapid.Byte(), SaltSize, SaltSize).Draw(t, "salt"))

		h := Digest(solution, salt)
		if !Verify(h, solution, salt) {
			t.Fatalf("round trip failed for %q", solution)
		}

		other := salt
		other[rapid.IntRange(0, SaltSize-1).Draw(t, "idx")] ^= 0x01
		if Verify(h, solution, other) {
			t.Fatalf("mismatched salt verified")
		}
		if Verify(h, solution+"x", salt) {
			t.Fatalf("mismatched solution verified")
		}
	})
}

func TestSaltHexRoundTrip(t *testing.T) {
	s, err := NewSalt()
	require.NoError(t, err)

	parsed, err := ParseSalt(s.Hex())
	require.NoError(t, err)
	assert.Equal(t, s, parsed)

	_, err = ParseSalt("0x1234")
	assert.Error(t, err)
	_, err = ParseSalt("zz")
	assert.Error(t, err)
}

func TestFreshSaltsDiffer(t *testing.T) {
	a, err := NewSalt()
	require.NoError(t, err)
	b, err := NewSalt()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
