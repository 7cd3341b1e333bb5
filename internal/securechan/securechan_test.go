package securechan

import (
	"bytes"
	"errors"
	"testing"
)

func TestPairKeySymmetric(t *testing.T) {
	k1 := PairKey("alice", "bob")
	k2 := PairKey("bob", "alice")
	if !bytes.Equal(k1, k2) {
		t.Fatalf("expected identical pair key regardless of order")
	}
	k3 := PairKey("alice", "carol")
	if bytes.Equal(k1, k3) {
		t.Fatalf("expected distinct pair to derive distinct key")
	}
	if len(k1) != KeySize {
		t.Fatalf("expected %d-byte key, got %d", KeySize, len(k1))
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := PairKey("alice", "bob")
	aad := BuildAAD("challenge", "alice", "bob", "sess-1")
	blob, err := Seal(key, []byte("K 3 P 9 R 2"), aad)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	plain, err := Open(key, blob, aad)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if string(plain) != "K 3 P 9 R 2" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestOpenRejectsTamper(t *testing.T) {
	key := PairKey("alice", "bob")
	aad := BuildAAD("challenge", "alice", "bob", "sess-1")
	blob, err := Seal(key, []byte("payload"), aad)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	blob[len(blob)-1] ^= 0x01
	if _, err := Open(key, blob, aad); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestOpenRejectsWrongKeyAndAAD(t *testing.T) {
	key := PairKey("alice", "bob")
	aad := BuildAAD("challenge", "alice", "bob", "sess-1")
	blob, err := Seal(key, []byte("payload"), aad)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, err := Open(PairKey("alice", "carol"), blob, aad); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt on wrong key, got %v", err)
	}
	other := BuildAAD("challenge", "alice", "bob", "sess-2")
	if _, err := Open(key, blob, other); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt on aad mismatch, got %v", err)
	}
	if _, err := Open(key, blob[:NonceSize-1], aad); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt on short blob, got %v", err)
	}
}
