package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/TheusHen/QSec/qsec/crypto"
	"github.com/TheusHen/QSec/qsec/ledger"
	"github.com/TheusHen/QSec/qsec/protocol"
	"github.com/TheusHen/QSec/qsec/qkd"
	"github.com/TheusHen/QSec/qsec/report"
	"github.com/TheusHen/QSec/qsec/transport/quic"
)

func newServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	l, err := ledger.New(ledger.Config{Difficulty: 1})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	sim := qkd.NewSimulator(qkd.DefaultConfig())
	return NewServer(sim, l, report.NewService(sim, l), cfg)
}

func call(t *testing.T, s *Server, method string, params any) (json.RawMessage, *protocol.Error) {
	t.Helper()
	req, err := protocol.NewRequest(method, params)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	res, rpcErr := s.Handle(context.Background(), "10.0.0.1", req)
	if rpcErr != nil {
		if rpcErr.ID != req.ID {
			t.Fatalf("error id %q, want %q", rpcErr.ID, req.ID)
		}
		return nil, rpcErr
	}
	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return raw, nil
}

func TestHandleEncryptDecrypt(t *testing.T) {
	s := newServer(t, Config{})

	raw, rpcErr := call(t, s, protocol.MethodCryptoEncrypt, protocol.EncryptParams{Plaintext: []byte("secret")})
	if rpcErr != nil {
		t.Fatalf("encrypt: %v", rpcErr)
	}
	var enc protocol.EncryptResult
	if err := json.Unmarshal(raw, &enc); err != nil {
		t.Fatalf("decode: %v", err)
	}

	raw, rpcErr = call(t, s, protocol.MethodCryptoDecrypt, protocol.DecryptParams{Envelope: enc.Envelope})
	if rpcErr != nil {
		t.Fatalf("decrypt: %v", rpcErr)
	}
	var dec protocol.DecryptResult
	if err := json.Unmarshal(raw, &dec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(dec.Plaintext) != "secret" {
		t.Fatalf("got %q", dec.Plaintext)
	}

	// a wrong key yields a generic 422
	_, rpcErr = call(t, s, protocol.MethodCryptoDecrypt, protocol.DecryptParams{Envelope: enc.Envelope, PrivateKey: []byte("wrong")})
	if rpcErr == nil || rpcErr.Code != protocol.CodeUnprocessable || rpcErr.Message != "decryption failed" {
		t.Fatalf("expected generic 422, got %v", rpcErr)
	}

	_, rpcErr = call(t, s, protocol.MethodCryptoDecrypt, protocol.DecryptParams{Envelope: json.RawMessage(`{"keyId":"zz"}`)})
	if rpcErr == nil || rpcErr.Code != protocol.CodeUnprocessable {
		t.Fatalf("malformed envelope must fail as 422, got %v", rpcErr)
	}

	_, rpcErr = call(t, s, protocol.MethodCryptoEncrypt, protocol.EncryptParams{Plaintext: []byte("x"), Algorithm: "rsa"})
	if rpcErr == nil || rpcErr.Code != protocol.CodeBadRequest {
		t.Fatalf("unknown algorithm must be 400, got %v", rpcErr)
	}
}

func TestHandleKeyPair(t *testing.T) {
	s := newServer(t, Config{})
	cases := []struct {
		params  protocol.KeyPairParams
		alg     string
		pubSize int
	}{
		{protocol.KeyPairParams{Kind: "kem"}, crypto.AlgKyber1024, crypto.KEMPublicKeySize},
		{protocol.KeyPairParams{Kind: "signature"}, crypto.AlgDilithium3, crypto.SignaturePublicKeySize},
		{protocol.KeyPairParams{Kind: "kem", Algorithm: crypto.AlgMLKEM1024}, crypto.AlgMLKEM1024, crypto.KEMPublicKeySize},
	}
	for _, tc := range cases {
		raw, rpcErr := call(t, s, protocol.MethodCryptoKeyPair, tc.params)
		if rpcErr != nil {
			t.Fatalf("%+v: %v", tc.params, rpcErr)
		}
		var kp protocol.KeyPairResult
		if err := json.Unmarshal(raw, &kp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if kp.Algorithm != tc.alg || len(kp.PublicKey) != tc.pubSize {
			t.Fatalf("%+v: got %s with %d-byte public key", tc.params, kp.Algorithm, len(kp.PublicKey))
		}
	}

	for _, bad := range []protocol.KeyPairParams{{Kind: "rsa"}, {Kind: "signature", Algorithm: crypto.AlgMLKEM1024}} {
		if _, rpcErr := call(t, s, protocol.MethodCryptoKeyPair, bad); rpcErr == nil || rpcErr.Code != protocol.CodeBadRequest {
			t.Fatalf("%+v: expected 400, got %v", bad, rpcErr)
		}
	}
}

func TestHandleLedger(t *testing.T) {
	s := newServer(t, Config{})

	payload := json.RawMessage(`{"type":"INCIDENT_REPORT","subjectId":"case-9","subjectHash":"abc"}`)
	raw, rpcErr := call(t, s, protocol.MethodLedgerSubmit, protocol.SubmitParams{Payload: payload})
	if rpcErr != nil {
		t.Fatalf("submit: %v", rpcErr)
	}
	var blk ledger.Block
	if err := json.Unmarshal(raw, &blk); err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if blk.Index != 1 {
		t.Fatalf("index %d", blk.Index)
	}

	raw, rpcErr = call(t, s, protocol.MethodLedgerBlock, protocol.BlockParams{Hash: blk.Hash})
	if rpcErr != nil {
		t.Fatalf("block by hash: %v", rpcErr)
	}
	var got ledger.Block
	if err := json.Unmarshal(raw, &got); err != nil || got.Hash != blk.Hash {
		t.Fatalf("block by hash mismatch: %v", err)
	}

	missing := uint64(42)
	if _, rpcErr := call(t, s, protocol.MethodLedgerBlock, protocol.BlockParams{Index: &missing}); rpcErr == nil || rpcErr.Code != protocol.CodeNotFound {
		t.Fatalf("expected 404, got %v", rpcErr)
	}
	if _, rpcErr := call(t, s, protocol.MethodLedgerBlock, protocol.BlockParams{}); rpcErr == nil || rpcErr.Code != protocol.CodeBadRequest {
		t.Fatalf("expected 400, got %v", rpcErr)
	}

	raw, _ = call(t, s, protocol.MethodLedgerVerify, protocol.VerifyParams{SubjectID: "case-9", Hash: "abc"})
	var vr protocol.VerifyResult
	if err := json.Unmarshal(raw, &vr); err != nil || !vr.Valid {
		t.Fatalf("integrity check failed: %s", raw)
	}
	raw, _ = call(t, s, protocol.MethodLedgerVerify, nil)
	if err := json.Unmarshal(raw, &vr); err != nil || !vr.Valid {
		t.Fatalf("chain verify failed: %s", raw)
	}

	raw, _ = call(t, s, protocol.MethodLedgerList, protocol.ListParams{SubjectID: "nobody"})
	if string(raw) != "[]" {
		t.Fatalf("empty subject list encodes as %s", raw)
	}

	if _, rpcErr := call(t, s, protocol.MethodLedgerSubmit, protocol.SubmitParams{Payload: json.RawMessage(`not json`)}); rpcErr == nil || rpcErr.Code != protocol.CodeBadRequest {
		t.Fatalf("expected 400 for bad params, got %v", rpcErr)
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	s := newServer(t, Config{})
	if _, rpcErr := call(t, s, "ledger.drop", nil); rpcErr == nil || rpcErr.Code != protocol.CodeUnknownMethod {
		t.Fatalf("expected 501, got %v", rpcErr)
	}
}

func TestRateLimitMiningMethods(t *testing.T) {
	s := newServer(t, Config{RPS: 0.001, Burst: 1})
	params := protocol.SubmitParams{Payload: json.RawMessage(`{"n":1}`)}

	if _, rpcErr := call(t, s, protocol.MethodLedgerSubmit, params); rpcErr != nil {
		t.Fatalf("first submit: %v", rpcErr)
	}
	if _, rpcErr := call(t, s, protocol.MethodLedgerSubmit, params); rpcErr == nil || rpcErr.Code != protocol.CodeRateLimited {
		t.Fatalf("expected 429, got %v", rpcErr)
	}
	// read-only methods are never limited
	for range 3 {
		if _, rpcErr := call(t, s, protocol.MethodLedgerStatus, nil); rpcErr != nil {
			t.Fatalf("status: %v", rpcErr)
		}
	}
}

func TestLimiterEvictsIdle(t *testing.T) {
	l := newLimiter(1, 1, time.Second)
	now := time.Now()
	for i := range evictEvery - 1 {
		l.allow(string(rune('a'+i%26))+"-host", now)
	}
	if l.size() != 26 {
		t.Fatalf("size %d", l.size())
	}
	// the evictEvery-th hit sweeps everything idle past the TTL
	l.allow("fresh", now.Add(time.Minute))
	if l.size() != 1 {
		t.Fatalf("size after eviction %d", l.size())
	}

	if newLimiter(0, 1, 0) != nil {
		t.Fatalf("zero rate must disable the limiter")
	}
	var disabled *limiter
	if !disabled.allow("x", now) {
		t.Fatalf("nil limiter must allow")
	}
}

func TestLoopbackClient(t *testing.T) {
	ln, err := quic.Listen("127.0.0.1:0")
	if err != nil {
		t.Skipf("loopback unavailable: %v", err)
	}

	s := newServer(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
		ln.Close()
	}()

	callCtx, callCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer callCancel()
	c, err := Dial(callCtx, ln.AddrString())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ex, err := c.Exchange(callCtx, 200)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if ex.PhotonCount() != 200 {
		t.Fatalf("photons %d", ex.PhotonCount())
	}

	h, err := c.Hash(callCtx, []byte(""))
	if err != nil || h != crypto.HashHex(nil) {
		t.Fatalf("Hash: %s, %v", h, err)
	}

	r, err := c.SubmitReport(callCtx, "case-7", []byte("report body"))
	if err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}
	body, err := OpenReport(r)
	if err != nil || string(body) != "report body" {
		t.Fatalf("OpenReport: %q, %v", body, err)
	}
	ok, err := c.VerifyIntegrity(callCtx, "case-7", r.ContentHash)
	if err != nil || !ok {
		t.Fatalf("VerifyIntegrity: %v, %v", ok, err)
	}

	st, err := c.Status(callCtx)
	if err != nil || st.LatestIndex != 1 || st.TransactionCount != 2 {
		t.Fatalf("Status: %+v, %v", st, err)
	}

	_, err = c.BlockAt(callCtx, 99)
	var rpcErr *protocol.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != protocol.CodeNotFound {
		t.Fatalf("expected *protocol.Error 404, got %v", err)
	}
}
