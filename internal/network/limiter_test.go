package network

import "testing"

func TestAddrLimiterConnCap(t *testing.T) {
	l := newAddrLimiter(2, 0)
	if !l.acquireConn("10.0.0.1") || !l.acquireConn("10.0.0.1") {
		t.Fatalf("first two conns should be admitted")
	}
	if l.acquireConn("10.0.0.1") {
		t.Fatalf("third conn for same ip should be rejected")
	}
	if !l.acquireConn("10.0.0.2") {
		t.Fatalf("other ip should be unaffected")
	}
	l.releaseConn("10.0.0.1")
	if !l.acquireConn("10.0.0.1") {
		t.Fatalf("release should free a slot")
	}
}

func TestAddrLimiterStreamCap(t *testing.T) {
	l := newAddrLimiter(0, 1)
	if !l.acquireStream("10.0.0.1") {
		t.Fatalf("first stream should be admitted")
	}
	if l.acquireStream("10.0.0.1") {
		t.Fatalf("second stream should be rejected")
	}
	l.releaseStream("10.0.0.1")
	if !l.acquireStream("10.0.0.1") {
		t.Fatalf("release should free the slot")
	}
}

func TestAddrLimiterDisabled(t *testing.T) {
	l := newAddrLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !l.acquireConn("x") || !l.acquireStream("x") {
			t.Fatalf("disabled limiter should admit everything")
		}
	}
}
