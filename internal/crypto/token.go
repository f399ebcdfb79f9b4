package crypto

import (
	"crypto/sha256"

	"github.com/gofrs/uuid/v5"
)

// NewToken returns a fresh random opaque token (UUID v4 text form).
func NewToken() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewCode returns a fresh one-time confirmation code.
func NewCode() (string, error) { return NewToken() }

// HashToken returns the value stored in place of a bearer token.
func HashToken(token string) []byte {
	h := sha256.Sum256([]byte(token))
	return h[:]
}
