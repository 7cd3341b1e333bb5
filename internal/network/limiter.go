package network

import "sync"

// addrLimiter caps concurrent connections and streams per remote IP so
// one peer cannot exhaust the listener.
type addrLimiter struct {
	mu           sync.Mutex
	maxConns     int
	maxStreams   int
	connCounts   map[string]int
	streamCounts map[string]int
}

func newAddrLimiter(maxConns, maxStreams int) *addrLimiter {
	return &addrLimiter{
		maxConns:     maxConns,
		maxStreams:   maxStreams,
		connCounts:   make(map[string]int),
		streamCounts: make(map[string]int),
	}
}

func (l *addrLimiter) acquireConn(ip string) bool {
	if l.maxConns <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connCounts[ip] >= l.maxConns {
		return false
	}
	l.connCounts[ip]++
	return true
}

func (l *addrLimiter) releaseConn(ip string) {
	if l.maxConns <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connCounts[ip] <= 1 {
		delete(l.connCounts, ip)
		return
	}
	l.connCounts[ip]--
}

func (l *addrLimiter) acquireStream(ip string) bool {
	if l.maxStreams <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.streamCounts[ip] >= l.maxStreams {
		return false
	}
	l.streamCounts[ip]++
	return true
}

func (l *addrLimiter) releaseStream(ip string) {
	if l.maxStreams <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.streamCounts[ip] <= 1 {
		delete(l.streamCounts, ip)
		return
	}
	l.streamCounts[ip]--
}
