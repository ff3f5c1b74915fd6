// Package rpc exposes the QSec core over QUIC. Each request travels on its
// own bidirectional stream: one REQUEST frame in, one RESPONSE or ERROR
// frame out.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/QSec/qsec/crypto"
	"github.com/TheusHen/QSec/qsec/ledger"
	"github.com/TheusHen/QSec/qsec/logging"
	"github.com/TheusHen/QSec/qsec/metrics"
	"github.com/TheusHen/QSec/qsec/protocol"
	"github.com/TheusHen/QSec/qsec/qkd"
	"github.com/TheusHen/QSec/qsec/report"
	"github.com/TheusHen/QSec/qsec/transport/quic"
)

var (
	errNotFound    = errors.New("not found")
	errBadParams   = errors.New("invalid params")
	errRateLimited = errors.New("rate limited")
)

const DefaultRequestTimeout = time.Minute

// Config tunes the server. A zero RPS disables rate limiting.
type Config struct {
	RPS            float64
	Burst          int
	IdleTTL        time.Duration
	RequestTimeout time.Duration
}

// ReportResult is the reply to report.submit. QuantumKey is returned once so
// the caller can hand it to its key store.
type ReportResult struct {
	report.Receipt
	QuantumKey []byte `json:"quantumKey,omitempty"`
}

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

type handler struct {
	fn handlerFunc
	// limited handlers mine blocks and are rate limited per remote address.
	limited bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = logging.Component(l, "rpc") }
}

type Server struct {
	sim     *qkd.Simulator
	ledger  *ledger.Ledger
	reports *report.Service

	log      logrus.FieldLogger
	limiter  *limiter
	timeout  time.Duration
	handlers map[string]handler

	wg sync.WaitGroup
}

func NewServer(sim *qkd.Simulator, l *ledger.Ledger, reports *report.Service, cfg Config, opts ...Option) *Server {
	s := &Server{
		sim:     sim,
		ledger:  l,
		reports: reports,
		log:     logging.Component(nil, "rpc"),
		limiter: newLimiter(cfg.RPS, cfg.Burst, cfg.IdleTTL),
		timeout: cfg.RequestTimeout,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultRequestTimeout
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = map[string]handler{
		protocol.MethodQKDExchange:   {fn: s.qkdExchange},
		protocol.MethodQKDChannel:    {fn: s.qkdChannel},
		protocol.MethodQKDStatus:     {fn: s.qkdStatus},
		protocol.MethodCryptoKeyPair: {fn: s.cryptoKeyPair},
		protocol.MethodCryptoEncrypt: {fn: s.cryptoEncrypt},
		protocol.MethodCryptoDecrypt: {fn: s.cryptoDecrypt},
		protocol.MethodCryptoHash:    {fn: s.cryptoHash},
		protocol.MethodLedgerSubmit:  {fn: s.ledgerSubmit, limited: true},
		protocol.MethodLedgerStatus:  {fn: s.ledgerStatus},
		protocol.MethodLedgerList:    {fn: s.ledgerList},
		protocol.MethodLedgerBlock:   {fn: s.ledgerBlock},
		protocol.MethodLedgerVerify:  {fn: s.ledgerVerify},
		protocol.MethodReportSubmit:  {fn: s.reportSubmit, limited: true},
	}
	return s
}

// Serve accepts connections until ctx ends, then waits for in-flight
// requests to finish.
func (s *Server) Serve(ctx context.Context, ln *quic.Listener) error {
	s.log.WithField("addr", ln.AddrString()).Info("rpc listening")
	defer s.wg.Wait()
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn *q.Conn) {
	defer s.wg.Done()
	remote := remoteHost(conn.RemoteAddr())
	log := s.log.WithField("remote", conn.RemoteAddr().String())
	log.Debug("connection accepted")
	for {
		st, err := conn.AcceptStream(ctx)
		if err != nil {
			log.WithError(err).Debug("connection closed")
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveStream(ctx, remote, st)
		}()
	}
}

func (s *Server) serveStream(ctx context.Context, remote string, st *q.Stream) {
	defer st.Close()
	_ = st.SetDeadline(time.Now().Add(s.timeout))

	req, err := protocol.ReadRequest(st)
	if err != nil {
		_ = protocol.WriteError(st, &protocol.Error{Code: protocol.CodeBadRequest, Message: "malformed request"})
		return
	}
	result, rpcErr := s.Handle(ctx, remote, req)
	if rpcErr != nil {
		_ = protocol.WriteError(st, rpcErr)
		return
	}
	if err := protocol.WriteResult(st, req.ID, result); err != nil {
		s.log.WithError(err).WithField("method", req.Method).Warn("write reply")
	}
}

// Handle dispatches one request. remote keys the rate limiter.
func (s *Server) Handle(ctx context.Context, remote string, req protocol.Request) (any, *protocol.Error) {
	start := time.Now()
	h, ok := s.handlers[req.Method]
	if !ok {
		return nil, &protocol.Error{ID: req.ID, Code: protocol.CodeUnknownMethod, Message: "unknown method " + req.Method}
	}

	var result any
	var err error
	if h.limited && !s.limiter.allow(remote, start) {
		err = errRateLimited
	} else {
		hctx, cancel := context.WithTimeout(ctx, s.timeout)
		result, err = h.fn(hctx, req.Params)
		cancel()
	}

	metrics.RecordRPC(req.Method, err, time.Since(start))
	if err != nil {
		rpcErr := toError(err)
		rpcErr.ID = req.ID
		if rpcErr.Code == protocol.CodeInternal {
			s.log.WithError(err).WithField("method", req.Method).Error("request failed")
		}
		return nil, rpcErr
	}
	return result, nil
}

// toError maps internal errors to wire errors. Decryption failures carry
// no detail.
func toError(err error) *protocol.Error {
	switch {
	case errors.Is(err, errBadParams),
		errors.Is(err, ledger.ErrInvalidPayload),
		errors.Is(err, report.ErrInvalidSubject),
		errors.Is(err, crypto.ErrUnknownKind),
		errors.Is(err, crypto.ErrInvalidKey):
		return &protocol.Error{Code: protocol.CodeBadRequest, Message: err.Error()}
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return &protocol.Error{Code: protocol.CodeUnprocessable, Message: "decryption failed"}
	case errors.Is(err, errNotFound):
		return &protocol.Error{Code: protocol.CodeNotFound, Message: "not found"}
	case errors.Is(err, errRateLimited):
		return &protocol.Error{Code: protocol.CodeRateLimited, Message: "rate limited"}
	case errors.Is(err, ledger.ErrAttemptsExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ledger.ErrQueueFull):
		return &protocol.Error{Code: protocol.CodeUnavailable, Message: err.Error()}
	default:
		return &protocol.Error{Code: protocol.CodeInternal, Message: "internal error"}
	}
}

// remoteHost drops the port so every connection from one host shares a
// rate-limit bucket.
func remoteHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(errBadParams, err)
	}
	return nil
}
