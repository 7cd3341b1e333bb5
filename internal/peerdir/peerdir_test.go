package peerdir

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestUpsertAndLookup(t *testing.T) {
	d, err := New("", Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Upsert(Peer{ID: "p1", Addr: "127.0.0.1:9101"}, false); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	got, err := d.Lookup("p1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.Addr != "127.0.0.1:9101" {
		t.Fatalf("Addr = %s, want 127.0.0.1:9101", got.Addr)
	}
	if _, err := d.Lookup("p2"); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("Lookup unknown = %v, want ErrUnknownPeer", err)
	}
}

func TestUpsertNewestAddrWins(t *testing.T) {
	d, err := New("", Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = d.Upsert(Peer{ID: "p1", Addr: "127.0.0.1:9101"}, false)
	_ = d.Upsert(Peer{ID: "p1", Addr: "127.0.0.1:9202"}, false)
	got, err := d.Lookup("p1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.Addr != "127.0.0.1:9202" {
		t.Fatalf("Addr = %s, want updated address", got.Addr)
	}
	if d.Len() != 1 {
		t.Fatalf("Len = %d, want 1", d.Len())
	}
}

func TestUpsertRejectsBadInput(t *testing.T) {
	d, err := New("", Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Upsert(Peer{Addr: "127.0.0.1:9101"}, false); err == nil {
		t.Fatalf("Upsert without id should fail")
	}
	if err := d.Upsert(Peer{ID: "p1"}, false); err == nil {
		t.Fatalf("Upsert without addr should fail")
	}
}

func TestTTLExpiry(t *testing.T) {
	d, err := New("", Options{TTL: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = d.Upsert(Peer{ID: "p1", Addr: "127.0.0.1:9101"}, false)
	time.Sleep(30 * time.Millisecond)
	if _, err := d.Lookup("p1"); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expired entry should be gone, got %v", err)
	}
}

func TestCapEvictsOldest(t *testing.T) {
	d, err := New("", Options{Cap: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = d.Upsert(Peer{ID: "p1", Addr: "a:1"}, false)
	_ = d.Upsert(Peer{ID: "p2", Addr: "a:2"}, false)
	_ = d.Upsert(Peer{ID: "p3", Addr: "a:3"}, false)
	if _, err := d.Lookup("p1"); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("oldest entry should be evicted")
	}
	if d.Len() != 2 {
		t.Fatalf("Len = %d, want 2", d.Len())
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.jsonl")
	d, err := New(path, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Upsert(Peer{ID: "p1", Addr: "127.0.0.1:9101", PubKey: []byte{1, 2, 3}}, true); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := d.Upsert(Peer{ID: "p1", Addr: "127.0.0.1:9202", PubKey: []byte{1, 2, 3}}, true); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	reloaded, err := New(path, Options{})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	got, err := reloaded.Lookup("p1")
	if err != nil {
		t.Fatalf("Lookup after reload failed: %v", err)
	}
	if got.Addr != "127.0.0.1:9202" {
		t.Fatalf("reloaded Addr = %s, want last written", got.Addr)
	}
	if string(got.PubKey) != string([]byte{1, 2, 3}) {
		t.Fatalf("reloaded PubKey mismatch")
	}
}

func TestListNewestFirst(t *testing.T) {
	d, err := New("", Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = d.Upsert(Peer{ID: "p1", Addr: "a:1"}, false)
	_ = d.Upsert(Peer{ID: "p2", Addr: "a:2"}, false)
	ids := d.IDs()
	if len(ids) != 2 || ids[0] != "p2" || ids[1] != "p1" {
		t.Fatalf("IDs = %v, want [p2 p1]", ids)
	}
}
