// Package commitment implements the commit-reveal digest used by the order book.
//
// The digest is keccak256 over the UTF-8 bytes of the solution followed by the
// 32-byte salt, matching Solidity's keccak256(abi.encodePacked(string, bytes32)).
package commitment

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const SaltSize = 32

type Salt [SaltSize]byte

type Hash [32]byte

// NewSalt draws a fresh random salt.
func NewSalt() (Salt, error) {
	var s Salt
	if _, err := rand.Read(s[:]); err != nil {
		return Salt{}, fmt.Errorf("generate salt: %w", err)
	}
	return s, nil
}

func (s Salt) Hex() string {
	return "0x" + hex.EncodeToString(s[:])
}

// ParseSalt accepts 64 hex characters with or without a 0x prefix.
func ParseSalt(v string) (Salt, error) {
	var s Salt
	b, err := decodeHex32(v)
	if err != nil {
		return s, fmt.Errorf("parse salt: %w", err)
	}
	copy(s[:], b)
	return s, nil
}

func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func ParseHash(v string) (Hash, error) {
	var h Hash
	b, err := decodeHex32(v)
	if err != nil {
		return h, fmt.Errorf("parse commit hash: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// Digest computes the commitment for solution under salt.
func Digest(solution string, salt Salt) Hash {
	d := sha3.NewLegacyKeccak256()
	_, _ = d.Write([]byte(solution))
	_, _ = d.Write(salt[:])
	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}

// Verify reports whether hash commits to solution under salt.
func Verify(hash Hash, solution string, salt Salt) bool {
	got := Digest(solution, salt)
	return subtle.ConstantTimeCompare(got[:], hash[:]) == 1
}

func decodeHex32(v string) ([]byte, error) {
	v = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(v), "0x"), "0X")
	b, err := hex.DecodeString(v)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	return b, nil
}
