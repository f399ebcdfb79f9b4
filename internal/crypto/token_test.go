package crypto

import (
	"bytes"
	"testing"

	"github.com/gofrs/uuid/v5"
)

func TestNewToken_UniqueUUID(t *testing.T) {
	t.Parallel()

	a, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	b, err := NewCode()
	if err != nil {
		t.Fatalf("NewCode: %v", err)
	}
	if a == b {
		t.Fatalf("two tokens are equal")
	}
	id, err := uuid.FromString(a)
	if err != nil {
		t.Fatalf("token is not a uuid: %v", err)
	}
	if id.Version() != uuid.V4 {
		t.Fatalf("want v4, got %d", id.Version())
	}
}

func TestHashToken(t *testing.T) {
	t.Parallel()

	h1 := HashToken("tok")
	h2 := HashToken("tok")
	if len(h1) != 32 || !bytes.Equal(h1, h2) {
		t.Fatalf("hash not deterministic or wrong length: %d", len(h1))
	}
	if bytes.Equal(h1, HashToken("tok2")) {
		t.Fatalf("different tokens must hash differently")
	}
}
