package network

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"peercert/internal/debuglog"
	"peercert/internal/proto"
)

const (
	clientMaxRetries  = 3
	clientBackoffBase = 100 * time.Millisecond
	clientBackoffMax  = 1 * time.Second
	clientConnIdle    = 30 * time.Second
	clientTimeout     = 8 * time.Second
)

type pooledConn struct {
	conn     *quic.Conn
	lastUsed time.Time
}

type clientPool struct {
	mu        sync.Mutex
	conns     map[string]*pooledConn
	failures  map[string]int
	idleAfter time.Duration
}

func newClientPool(idleAfter time.Duration) *clientPool {
	if idleAfter <= 0 {
		idleAfter = clientConnIdle
	}
	return &clientPool{
		conns:     make(map[string]*pooledConn),
		failures:  make(map[string]int),
		idleAfter: idleAfter,
	}
}

func (p *clientPool) get(ctx context.Context, addr string, tlsConf *tls.Config, quicConf *quic.Config) (*quic.Conn, error) {
	if addr == "" {
		return nil, errors.New("missing addr")
	}
	now := time.Now()
	p.mu.Lock()
	if ent, ok := p.conns[addr]; ok {
		if ent.conn.Context().Err() == nil && now.Sub(ent.lastUsed) <= p.idleAfter {
			ent.lastUsed = now
			conn := ent.conn
			p.mu.Unlock()
			return conn, nil
		}
		delete(p.conns, addr)
		conn := ent.conn
		p.mu.Unlock()
		_ = conn.CloseWithError(0, "stale")
	} else {
		p.mu.Unlock()
	}
	debuglog.Debugf("quic dial to %s", addr)
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConf)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.conns[addr] = &pooledConn{conn: conn, lastUsed: now}
	p.mu.Unlock()
	return conn, nil
}

func (p *clientPool) touch(addr string, conn *quic.Conn) {
	p.mu.Lock()
	if ent, ok := p.conns[addr]; ok && ent.conn == conn {
		ent.lastUsed = time.Now()
	}
	p.mu.Unlock()
}

func (p *clientPool) drop(addr string, conn *quic.Conn, reason string) {
	p.mu.Lock()
	if ent, ok := p.conns[addr]; ok && ent.conn == conn {
		delete(p.conns, addr)
	}
	p.mu.Unlock()
	_ = conn.CloseWithError(0, reason)
}

func (p *clientPool) recordFailure(addr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[addr]++
	return p.failures[addr]
}

func (p *clientPool) resetFailures(addr string) {
	p.mu.Lock()
	delete(p.failures, addr)
	p.mu.Unlock()
}

var clientConns = newClientPool(clientConnIdle)

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), clientTimeout)
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, clientTimeout)
}

// Send delivers one framed message to addr, reusing a pooled connection
// when one is alive. Dial and write failures retry with backoff.
func Send(ctx context.Context, addr string, data []byte, insecure bool, caPath string) error {
	tlsConf, err := clientTLSConfig(insecure, caPath)
	if err != nil {
		return err
	}
	quicConf := &quic.Config{
		MaxIdleTimeout:       maxIdleTimeout,
		KeepAlivePeriod:      keepAlivePeriod,
		HandshakeIdleTimeout: handshakeIdleTimeout,
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var lastErr error
	for attempt := 0; attempt <= clientMaxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		}
		conn, err := clientConns.get(ctx, addr, tlsConf, quicConf)
		if err != nil {
			lastErr = err
			if !backoffRetry(ctx, clientConns.recordFailure(addr)) {
				break
			}
			continue
		}
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			lastErr = err
			clientConns.drop(addr, conn, "open stream failed")
			if !backoffRetry(ctx, clientConns.recordFailure(addr)) {
				break
			}
			continue
		}
		_ = stream.SetWriteDeadline(time.Now().Add(streamReadTimeout))
		writeErr := proto.WriteFrame(stream, data)
		closeErr := stream.Close()
		if writeErr != nil || closeErr != nil {
			if writeErr == nil {
				writeErr = closeErr
			}
			lastErr = writeErr
			clientConns.drop(addr, conn, "write failed")
			if !backoffRetry(ctx, clientConns.recordFailure(addr)) {
				break
			}
			continue
		}
		debuglog.Debugf("sent %d bytes to %s", len(data), addr)
		clientConns.touch(addr, conn)
		clientConns.resetFailures(addr)
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("send failed")
	}
	return lastErr
}

func backoffRetry(ctx context.Context, failures int) bool {
	if failures <= 0 {
		return false
	}
	d := clientBackoffBase
	if failures > 1 {
		d = d * time.Duration(1<<uint(failures-1))
	}
	if d > clientBackoffMax {
		d = clientBackoffMax
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
