package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TheusHen/QSec/qsec/crypto"
	"github.com/TheusHen/QSec/qsec/ledger"
	"github.com/TheusHen/QSec/qsec/qkd"
)

func newLedger(t *testing.T, cfg ledger.Config) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(cfg)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	return l
}

func TestSubmitWithQuantumKey(t *testing.T) {
	var seed [32]byte
	sim := qkd.NewSimulator(qkd.Config{}, qkd.WithSource(qkd.SeededSource(seed)))
	l := newLedger(t, ledger.Config{Difficulty: 2})
	svc := NewService(sim, l)

	body := []byte("incident-report-body")
	r, err := svc.Submit(context.Background(), "case-1", body)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !r.QKD.Accepted || r.QKD.Status() != "active" || len(r.QuantumKey) != crypto.DerivedKeySize {
		t.Fatalf("expected an accepted quantum key, got %+v", r.QKD)
	}
	if r.Pending() || r.BlockNumber != 1 || r.BlockHash == "" {
		t.Fatalf("receipt not anchored: %+v", r)
	}
	if r.ContentHash != crypto.HashHex(body) {
		t.Fatalf("content hash mismatch")
	}

	got, err := svc.Open(r, r.QuantumKey)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("got %q", got)
	}
	if _, err := svc.Open(r, nil); !errors.Is(err, crypto.ErrDecryptionFailed) {
		t.Fatalf("default context must not open a quantum-keyed report: %v", err)
	}

	if !svc.Verify("case-1", body) {
		t.Fatalf("Verify failed for anchored body")
	}
	if svc.Verify("case-1", []byte("edited")) {
		t.Fatalf("Verify accepted edited body")
	}
	blk, ok := l.ByHash(r.BlockHash)
	if !ok || blk.Index != r.BlockNumber {
		t.Fatalf("block not found by receipt hash")
	}
}

func TestSubmitFallsBackToDefaultContext(t *testing.T) {
	sim := qkd.NewSimulator(qkd.Config{MinKeyLength: 1 << 20})
	svc := NewService(sim, newLedger(t, ledger.Config{Difficulty: 1}))

	r, err := svc.Submit(context.Background(), "case-2", []byte("body"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.QKD.Accepted || r.QKD.Status() != "fallback" || r.QuantumKey != nil {
		t.Fatalf("expected fallback, got %+v", r.QKD)
	}
	got, err := svc.Open(r, nil)
	if err != nil || string(got) != "body" {
		t.Fatalf("Open: %q, %v", got, err)
	}
}

func TestSubmitPendingWhenOverBudget(t *testing.T) {
	l := newLedger(t, ledger.Config{Difficulty: 12, MaxAttempts: 1})
	sub := ledger.NewSubmitter(l, ledger.SubmitterConfig{Retries: 0, RetryBackoff: time.Millisecond})
	defer sub.Close()
	svc := NewService(qkd.NewSimulator(qkd.DefaultConfig()), l, WithSubmitter(sub))

	r, err := svc.Submit(context.Background(), "case-3", []byte("body"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !r.Pending() || r.BlockHash != "" {
		t.Fatalf("expected pending receipt, got %+v", r)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Confirm(ctx, r); err == nil {
		t.Fatalf("anchor cannot confirm at this difficulty")
	}
}

func TestSubmitErrors(t *testing.T) {
	l := newLedger(t, ledger.Config{Difficulty: 12, MaxAttempts: 1})
	svc := NewService(qkd.NewSimulator(qkd.DefaultConfig()), l)

	if _, err := svc.Submit(context.Background(), "", []byte("x")); !errors.Is(err, ErrInvalidSubject) {
		t.Fatalf("expected ErrInvalidSubject, got %v", err)
	}
	// without a submitter the budget error surfaces
	if _, err := svc.Submit(context.Background(), "case-4", []byte("x")); !errors.Is(err, ledger.ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded, got %v", err)
	}

	slow := newLedger(t, ledger.Config{Difficulty: 1, MiningDelay: time.Hour})
	sub := ledger.NewSubmitter(slow, ledger.SubmitterConfig{})
	defer sub.Close()
	svc = NewService(qkd.NewSimulator(qkd.DefaultConfig()), slow, WithSubmitter(sub))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Submit(ctx, "case-5", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("caller cancellation must not go pending: %v", err)
	}

	if err := svc.Confirm(context.Background(), &Receipt{}); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestSealMessage(t *testing.T) {
	svc := NewService(qkd.NewSimulator(qkd.DefaultConfig()), newLedger(t, ledger.Config{Difficulty: 1}))
	key := crypto.DeriveKey([]byte{1, 1, 0, 1}, nil)

	wire, err := svc.SealMessage([]byte("hello"), key)
	if err != nil {
		t.Fatalf("SealMessage: %v", err)
	}
	got, err := svc.OpenMessage(wire, key)
	if err != nil || string(got) != "hello" {
		t.Fatalf("OpenMessage: %q, %v", got, err)
	}
	if _, err := svc.OpenMessage(wire, nil); !errors.Is(err, crypto.ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestQuantumStatus(t *testing.T) {
	svc := NewService(qkd.NewSimulator(qkd.DefaultConfig()), newLedger(t, ledger.Config{Difficulty: 1}))
	st := svc.QuantumStatus()
	if len(st.States) != qkd.DefaultVisualStates {
		t.Fatalf("states %d", len(st.States))
	}
	if st.PhotonSuccessRate < 0 || st.PhotonSuccessRate > 100 || st.ErrorRate < 0 || st.ErrorRate > 100 {
		t.Fatalf("rates out of range: %+v", st)
	}
	for _, s := range st.States {
		switch s.State {
		case "|0⟩", "|1⟩", "|+⟩", "|-⟩":
		default:
			t.Fatalf("unexpected state %q", s.State)
		}
	}
}
