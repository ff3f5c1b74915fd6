package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TheusHen/QSec/qsec/crypto"
	"github.com/TheusHen/QSec/qsec/protocol"
	"github.com/TheusHen/QSec/qsec/qkd"
)

func (s *Server) qkdExchange(_ context.Context, raw json.RawMessage) (any, error) {
	var p protocol.ExchangeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.sim.GenerateExchange(p.PhotonCount), nil
}

func (s *Server) qkdChannel(context.Context, json.RawMessage) (any, error) {
	return qkd.ChannelMetrics(), nil
}

func (s *Server) qkdStatus(context.Context, json.RawMessage) (any, error) {
	return s.reports.QuantumStatus(), nil
}

func (s *Server) cryptoKeyPair(_ context.Context, raw json.RawMessage) (any, error) {
	var p protocol.KeyPairParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	kind, err := crypto.ParseKind(p.Kind)
	if err != nil {
		return nil, err
	}

	var kp crypto.KeyPair
	switch {
	case p.Algorithm == "" || (kind == crypto.KindSignature && p.Algorithm == crypto.AlgDilithium3):
		kp, err = crypto.GenerateKeyPair(kind)
	case kind == crypto.KindKEM:
		kem, ok := crypto.KEMByName(p.Algorithm)
		if !ok {
			return nil, fmt.Errorf("%w: algorithm %q", errBadParams, p.Algorithm)
		}
		kp, err = kem.GenerateKeyPair()
	default:
		return nil, fmt.Errorf("%w: algorithm %q", errBadParams, p.Algorithm)
	}
	if err != nil {
		return nil, err
	}
	return protocol.NewKeyPairResult(kp), nil
}

func (s *Server) cryptoEncrypt(_ context.Context, raw json.RawMessage) (any, error) {
	var p protocol.EncryptParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var kem crypto.KEM = crypto.Simulated{}
	if p.Algorithm != "" {
		var ok bool
		if kem, ok = crypto.KEMByName(p.Algorithm); !ok {
			return nil, fmt.Errorf("%w: algorithm %q", errBadParams, p.Algorithm)
		}
	}
	env, err := crypto.EncryptWith(kem, p.Plaintext, p.PublicKey)
	if err != nil {
		return nil, err
	}
	wire, err := env.MarshalWire()
	if err != nil {
		return nil, err
	}
	return protocol.EncryptResult{Envelope: wire}, nil
}

func (s *Server) cryptoDecrypt(_ context.Context, raw json.RawMessage) (any, error) {
	var p protocol.DecryptParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	plaintext, err := crypto.DecryptWire(p.Envelope, p.PrivateKey)
	if err != nil {
		return nil, err
	}
	return protocol.DecryptResult{Plaintext: plaintext}, nil
}

func (s *Server) cryptoHash(_ context.Context, raw json.RawMessage) (any, error) {
	var p protocol.HashParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return protocol.HashResult{Hash: crypto.HashHex(p.Data)}, nil
}

func (s *Server) ledgerSubmit(ctx context.Context, raw json.RawMessage) (any, error) {
	var p protocol.SubmitParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.ledger.Submit(ctx, p.Payload)
}

func (s *Server) ledgerStatus(context.Context, json.RawMessage) (any, error) {
	return s.ledger.Status(), nil
}

func (s *Server) ledgerList(_ context.Context, raw json.RawMessage) (any, error) {
	var p protocol.ListParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.SubjectID != "" {
		return nonNil(s.ledger.BySubject(p.SubjectID)), nil
	}
	return s.ledger.List(), nil
}

func (s *Server) ledgerBlock(_ context.Context, raw json.RawMessage) (any, error) {
	var p protocol.BlockParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	switch {
	case p.Hash != "":
		if b, ok := s.ledger.ByHash(p.Hash); ok {
			return b, nil
		}
	case p.Index != nil:
		if b, ok := s.ledger.Block(*p.Index); ok {
			return b, nil
		}
	default:
		return nil, fmt.Errorf("%w: hash or index required", errBadParams)
	}
	return nil, errNotFound
}

func (s *Server) ledgerVerify(_ context.Context, raw json.RawMessage) (any, error) {
	var p protocol.VerifyParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.SubjectID != "" {
		return protocol.VerifyResult{Valid: s.ledger.VerifyIntegrity(p.SubjectID, p.Hash)}, nil
	}
	if err := s.ledger.Verify(); err != nil {
		return protocol.VerifyResult{Reason: err.Error()}, nil
	}
	return protocol.VerifyResult{Valid: true}, nil
}

func (s *Server) reportSubmit(ctx context.Context, raw json.RawMessage) (any, error) {
	var p protocol.ReportParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	r, err := s.reports.Submit(ctx, p.SubjectID, p.Body)
	if err != nil {
		return nil, err
	}
	return ReportResult{Receipt: *r, QuantumKey: r.QuantumKey}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
