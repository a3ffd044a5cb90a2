// Package token issues and checks the opaque per-browser identifiers that key
// conversation state. A token is only a lookup key, never a credential.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Size is the number of random bytes in a token (128 bits).
const Size = 16

// Length is the length of the hex rendering of a token.
const Length = Size * 2

// ErrInvalidToken is returned for values that are not 32 hex characters.
var ErrInvalidToken = errors.New("invalid token")

// Issuer produces tokens from a random source.
type Issuer struct {
	rand io.Reader
}

// NewIssuer returns an issuer backed by crypto/rand.
func NewIssuer() *Issuer {
	return &Issuer{rand: rand.Reader}
}

// NewIssuerFromReader returns an issuer reading entropy from r.
func NewIssuerFromReader(r io.Reader) *Issuer {
	return &Issuer{rand: r}
}

// Issue returns a new 32 character lowercase hex token.
// A failing entropy source is unrecoverable and panics.
func (i *Issuer) Issue() string {
	t, err := i.TryIssue()
	if err != nil {
		panic(err)
	}
	return t
}

// TryIssue is Issue with the entropy failure returned instead of raised.
func (i *Issuer) TryIssue() (string, error) {
	var b [Size]byte
	if _, err := io.ReadFull(i.rand, b[:]); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// Normalize validates s and returns its lowercase form.
func Normalize(s string) (string, error) {
	if len(s) != Length {
		return "", ErrInvalidToken
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", ErrInvalidToken
	}
	return strings.ToLower(s), nil
}

// Mask replaces all but the last four characters of s with '*'.
// Strings shorter than four characters are returned unchanged.
func Mask(s string) string {
	if len(s) < 4 {
		return s
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
