// Package quic is the QUIC transport under the QSec RPC: a listener and a
// dialer speaking ALPN "qsec/1" over self-signed TLS 1.3.
package quic

import (
	"context"
	"crypto/x509"
	"net"
	"time"

	q "github.com/quic-go/quic-go"
)

const (
	DefaultIdleTimeout = 30 * time.Second
	// MaxIncomingStreams bounds concurrent requests per connection.
	MaxIncomingStreams = 256
)

func quicConfig() *q.Config {
	return &q.Config{
		MaxIdleTimeout:     DefaultIdleTimeout,
		MaxIncomingStreams: MaxIncomingStreams,
		KeepAlivePeriod:    DefaultIdleTimeout / 3,
	}
}

type Listener struct {
	inner *q.Listener
	cert  *x509.Certificate
}

type listenOptions struct {
	certLifetime time.Duration
}

type ListenOption func(*listenOptions)

// WithCertLifetime sets how long the listener's self-signed certificate
// stays valid. Zero keeps DefaultCertLifetime.
func WithCertLifetime(d time.Duration) ListenOption {
	return func(o *listenOptions) { o.certLifetime = d }
}

// Listen binds addr with a fresh self-signed certificate whose SANs name the
// listen host.
func Listen(addr string, opts ...ListenOption) (*Listener, error) {
	var o listenOptions
	for _, opt := range opts {
		opt(&o)
	}
	tlsConf, err := serverTLSConfig(addr, o.certLifetime)
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}
	return &Listener{inner: ln, cert: tlsConf.Certificates[0].Leaf}, nil
}

// Certificate returns the leaf the listener presents.
func (l *Listener) Certificate() *x509.Certificate { return l.cert }

func (l *Listener) Accept(ctx context.Context) (*q.Conn, error) {
	return l.inner.Accept(ctx)
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

func (l *Listener) AddrString() string {
	if l.inner == nil {
		return ""
	}
	return l.inner.Addr().String()
}

func (l *Listener) Close() error { return l.inner.Close() }

func Dial(ctx context.Context, addr string) (*q.Conn, error) {
	return q.DialAddr(ctx, addr, clientTLSConfig(), quicConfig())
}
