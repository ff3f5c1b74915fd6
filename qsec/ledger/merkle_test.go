package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestCheckpointProofs(t *testing.T) {
	l := newTestLedger(t, Config{Difficulty: 1})
	for i := 0; i < 5; i++ {
		if _, err := l.Submit(context.Background(), json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	cp, err := l.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if cp.Height != 5 || len(cp.Root) != 64 {
		t.Fatalf("checkpoint %+v", cp)
	}

	for i := uint64(0); i <= 5; i++ {
		p, pcp, err := l.Proof(i)
		if err != nil {
			t.Fatalf("Proof(%d): %v", i, err)
		}
		if pcp != cp {
			t.Fatalf("proof checkpoint differs")
		}
		if len(p.Siblings) != 3 {
			t.Fatalf("expected 3 siblings for 8 leaves, got %d", len(p.Siblings))
		}
		if err := VerifyProof(p, cp); err != nil {
			t.Fatalf("VerifyProof(%d): %v", i, err)
		}
	}

	p, _, _ := l.Proof(2)
	other, _ := l.Block(3)
	p.BlockHash = other.Hash
	if err := VerifyProof(p, cp); !errors.Is(err, ErrProofFailed) {
		t.Fatalf("expected ErrProofFailed, got %v", err)
	}

	if _, _, err := l.Proof(6); !errors.Is(err, ErrIndexRange) {
		t.Fatalf("expected ErrIndexRange, got %v", err)
	}
}

func TestCheckpointChangesWithChain(t *testing.T) {
	l := newTestLedger(t, Config{Difficulty: 1})
	before, _ := l.Checkpoint()
	old, _, _ := l.Proof(0)
	_, _ = l.Submit(context.Background(), json.RawMessage(`{}`))
	after, _ := l.Checkpoint()
	if before.Root == after.Root {
		t.Fatalf("root unchanged after append")
	}
	if err := VerifyProof(old, before); err != nil {
		t.Fatalf("old proof must still match its checkpoint: %v", err)
	}
	if err := VerifyProof(old, after); !errors.Is(err, ErrProofFailed) {
		t.Fatalf("old proof must not match new root")
	}
}
