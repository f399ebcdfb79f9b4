package crypto

import (
	"bytes"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 32
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal", n)
	}
}

func TestNewPasswordHash_PerUserSalt(t *testing.T) {
	t.Parallel()

	h1, s1, err := NewPasswordHash("secret")
	if err != nil {
		t.Fatalf("NewPasswordHash: %v", err)
	}
	h2, s2, err := NewPasswordHash("secret")
	if err != nil {
		t.Fatalf("NewPasswordHash: %v", err)
	}
	if len(s1) != saltLen || bytes.Equal(s1, s2) {
		t.Fatalf("salts must be random and %d bytes", saltLen)
	}
	if bytes.Equal(h1, h2) {
		t.Fatalf("same password with different salts must hash differently")
	}
	if !VerifyPassword([]byte("secret"), s1, h1) || !VerifyPassword([]byte("secret"), s2, h2) {
		t.Fatalf("VerifyPassword must accept the original password")
	}
}

func TestVerifyPassword(t *testing.T) {
	t.Parallel()

	pw := []byte("correct horse battery staple")
	salt := []byte("salty-salt-123456")
	hash := HashPassword(pw, salt)

	if !VerifyPassword(pw, salt, hash) {
		t.Fatalf("expected true for correct password")
	}
	if VerifyPassword([]byte("wrong"), salt, hash) {
		t.Fatalf("expected false for wrong password")
	}
	if VerifyPassword(pw, []byte("wrong-salt"), hash) {
		t.Fatalf("expected false for wrong salt")
	}
	if VerifyPassword(pw, salt, nil) {
		t.Fatalf("expected false for empty stored hash")
	}
}
