package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSignVerify(t *testing.T) {
	pub, priv, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	msg := []byte("ballot:poll-7:option-2")
	sig, err := Sign(priv, msg)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !Verify(pub, msg, sig) {
		t.Fatalf("Verify rejected valid signature")
	}
	if Verify(pub, []byte("ballot:poll-7:option-3"), sig) {
		t.Fatalf("Verify accepted signature over different message")
	}
	sig[0] ^= 0xff
	if Verify(pub, msg, sig) {
		t.Fatalf("Verify accepted corrupted signature")
	}
}

func TestPeerIDStable(t *testing.T) {
	pub, _, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	a := PeerID(pub)
	b := PeerID(pub)
	if a != b {
		t.Fatalf("PeerID not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("PeerID length = %d, want 64", len(a))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pub, priv, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if err := Save(dir, pub, priv); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	pub2, priv2, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(pub2) != string(pub) || string(priv2) != string(priv) {
		t.Fatalf("Load returned different key material")
	}
	info, err := os.Stat(filepath.Join(dir, "priv.hex"))
	if err != nil {
		t.Fatalf("stat priv.hex failed: %v", err)
	}
	if info.Mode().Perm()&0077 != 0 {
		t.Fatalf("priv.hex permissions too open: %v", info.Mode())
	}
}

func TestEnsureGeneratesThenReuses(t *testing.T) {
	dir := t.TempDir()
	pub1, _, err := Ensure(dir)
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	pub2, _, err := Ensure(dir)
	if err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}
	if string(pub1) != string(pub2) {
		t.Fatalf("Ensure regenerated existing keypair")
	}
}
