package network

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"os"
	"time"

	quic "github.com/quic-go/quic-go"

	"peercert/internal/debuglog"
	"peercert/internal/proto"
)

const (
	alpn = "peercert-quic"

	maxIdleTimeout       = 30 * time.Second
	keepAlivePeriod      = 10 * time.Second
	handshakeIdleTimeout = 5 * time.Second
	streamReadTimeout    = 8 * time.Second

	maxConnsPerIP   = 8
	maxStreamsPerIP = 32
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// devTLSCert derives the same self-signed certificate on every node so
// local multi-node setups can verify each other without a CA. Not for
// untrusted networks.
func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha256.Sum256([]byte("peercert-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}
	return cert, der, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
	}, nil
}

func clientTLSConfig(insecure bool, caPath string) (*tls.Config, error) {
	if insecure {
		return &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{alpn},
		}, nil
	}
	if env := os.Getenv("PEERCERT_DEVTLS_CA_PATH"); env != "" {
		caPath = env
	}
	pool := x509.NewCertPool()
	if caPath != "" {
		pemBytes, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, errors.New("no certificates in ca file")
		}
	} else {
		_, der, err := devTLSCert()
		if err != nil {
			return nil, err
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, err
		}
		pool.AddCert(cert)
	}
	return &tls.Config{
		RootCAs:    pool,
		NextProtos: []string{alpn},
	}, nil
}

// WriteDevTLSCA writes the dev certificate in PEM form so other local
// nodes can pin it via PEERCERT_DEVTLS_CA_PATH.
func WriteDevTLSCA(path string) error {
	_, der, err := devTLSCert()
	if err != nil {
		return err
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return os.WriteFile(path, pemBytes, 0600)
}

func ListenAndServe(addr string, handle func([]byte)) error {
	return ListenAndServeWithReady(addr, nil, handle)
}

func ListenAndServeWithReady(addr string, ready chan<- struct{}, handle func([]byte)) error {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return err
	}
	quicConf := &quic.Config{
		MaxIdleTimeout:       maxIdleTimeout,
		KeepAlivePeriod:      keepAlivePeriod,
		HandshakeIdleTimeout: handshakeIdleTimeout,
	}
	listener, err := quic.ListenAddr(addr, tlsConf, quicConf)
	if err != nil {
		debuglog.Logf("quic listen error: %v", err)
		return err
	}
	debuglog.Logf("quic listen ready: %s", addr)
	if ready != nil {
		close(ready)
	}
	limiter := newAddrLimiter(maxConnsPerIP, maxStreamsPerIP)
	for {
		conn, err := listener.Accept(context.Background())
		if err != nil {
			debuglog.Logf("quic accept error: %v", err)
			return err
		}
		ip := remoteIP(conn)
		if !limiter.acquireConn(ip) {
			debuglog.RateLimitedf("conn-limit:"+ip, 5*time.Second, "conn limit reached for %s", ip)
			_ = conn.CloseWithError(0, "conn limit")
			continue
		}
		go serveConn(conn, ip, limiter, handle)
	}
}

func serveConn(conn *quic.Conn, ip string, limiter *addrLimiter, handle func([]byte)) {
	defer limiter.releaseConn(ip)
	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			debuglog.Debugf("quic accept stream error: %v", err)
			return
		}
		if !limiter.acquireStream(ip) {
			debuglog.RateLimitedf("stream-limit:"+ip, 5*time.Second, "stream limit reached for %s", ip)
			stream.CancelRead(0)
			_ = stream.Close()
			continue
		}
		go func(s *quic.Stream) {
			defer limiter.releaseStream(ip)
			defer s.Close()
			serveStream(s, handle)
		}(stream)
	}
}

// serveStream reads length-prefixed frames until the peer closes its
// write side. Oversized frames are rejected by the per-type cap before
// the body is buffered.
func serveStream(s *quic.Stream, handle func([]byte)) {
	for {
		_ = s.SetReadDeadline(time.Now().Add(streamReadTimeout))
		payload, err := proto.ReadFrameWithTypeCap(s, proto.MaxControlSize, proto.MaxSizeForType)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				debuglog.Debugf("quic read error: %v", err)
			}
			return
		}
		handle(payload)
	}
}

func remoteIP(conn *quic.Conn) string {
	ra := conn.RemoteAddr()
	if ra == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(ra.String())
	if err != nil {
		return ra.String()
	}
	return host
}
