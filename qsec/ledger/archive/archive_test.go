package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/TheusHen/QSec/qsec/ledger"
)

func testLedger(t *testing.T, blocks int) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(ledger.Config{Difficulty: 1})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	for i := 0; i < blocks; i++ {
		if _, err := l.SubmitSubject(context.Background(), fmt.Sprintf("report-%d", i), "hash"); err != nil {
			t.Fatalf("SubmitSubject: %v", err)
		}
	}
	return l
}

func TestExportImport(t *testing.T) {
	l := testLedger(t, 10)
	a, err := Export(l, Options{})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(a.Shards) != DefaultDataShards+DefaultParityShards {
		t.Fatalf("expected %d shards, got %d", DefaultDataShards+DefaultParityShards, len(a.Shards))
	}
	if !a.Manifest.Compressed || a.Manifest.Sealed {
		t.Fatalf("manifest flags %+v", a.Manifest)
	}

	restored, err := Import(a, nil, l.Config())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if restored.Height() != 10 {
		t.Fatalf("height %d", restored.Height())
	}
	want, _ := l.Checkpoint()
	got, _ := restored.Checkpoint()
	if want != got {
		t.Fatalf("checkpoint mismatch")
	}
	if !restored.VerifyIntegrity("report-3", "hash") {
		t.Fatalf("restored ledger lost subject entries")
	}
}

func TestImportWithLostShards(t *testing.T) {
	l := testLedger(t, 6)
	a, err := Export(l, Options{DataShards: 5, ParityShards: 3, Compression: CompressionBest})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	a.Shards[0] = nil
	a.Shards[4] = nil
	a.Shards[7] = nil
	if _, err := Import(a, nil, l.Config()); err != nil {
		t.Fatalf("Import with 3 lost shards: %v", err)
	}

	a.Shards[1] = nil
	if _, err := Import(a, nil, l.Config()); !errors.Is(err, ErrTooManyLost) {
		t.Fatalf("expected ErrTooManyLost, got %v", err)
	}
}

func TestImportDetectsCorruption(t *testing.T) {
	l := testLedger(t, 4)
	a, _ := Export(l, Options{Compression: CompressionNone})
	if a.Manifest.Compressed {
		t.Fatalf("CompressionNone must not compress")
	}
	a.Shards[1][0] ^= 0xff
	if _, err := Import(a, nil, l.Config()); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
}

func TestSealedArchive(t *testing.T) {
	l := testLedger(t, 3)
	pass := []byte("correct horse battery staple")
	a, err := Export(l, Options{Passphrase: pass})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !a.Manifest.Sealed || a.Manifest.Salt == "" {
		t.Fatalf("manifest not sealed: %+v", a.Manifest)
	}

	if _, err := Import(a, nil, l.Config()); !errors.Is(err, ErrSealed) {
		t.Fatalf("missing passphrase: %v", err)
	}
	if _, err := Import(a, []byte("wrong"), l.Config()); !errors.Is(err, ErrSealed) {
		t.Fatalf("wrong passphrase: %v", err)
	}
	restored, err := Import(a, pass, l.Config())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if restored.Height() != 3 {
		t.Fatalf("height %d", restored.Height())
	}
}

func TestSaveLoad(t *testing.T) {
	l := testLedger(t, 5)
	a, err := Export(l, Options{})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	dir := t.TempDir()
	if Exists(dir) {
		t.Fatalf("empty dir reported as archive")
	}
	if err := a.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !Exists(dir) {
		t.Fatalf("archive not found after Save")
	}
	if err := os.Remove(filepath.Join(dir, shardFile(2))); err != nil {
		t.Fatalf("remove shard: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Shards[2] != nil {
		t.Fatalf("missing shard must load as nil")
	}
	restored, err := Import(loaded, nil, l.Config())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if restored.Height() != 5 {
		t.Fatalf("height %d", restored.Height())
	}
}

func TestImportRejectsBadManifest(t *testing.T) {
	l := testLedger(t, 2)
	a, _ := Export(l, Options{})

	bad := *a
	bad.Manifest.Version = 9
	if _, err := Import(&bad, nil, l.Config()); !errors.Is(err, ErrVersion) {
		t.Fatalf("expected ErrVersion, got %v", err)
	}

	bad = *a
	bad.Shards = a.Shards[:3]
	if _, err := Import(&bad, nil, l.Config()); !errors.Is(err, ErrShardCount) {
		t.Fatalf("expected ErrShardCount, got %v", err)
	}

	if _, err := Export(l, Options{DataShards: -1}); !errors.Is(err, ErrInvalidShards) {
		t.Fatalf("expected ErrInvalidShards, got %v", err)
	}

	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, manifestFile), []byte("{"), 0o600)
	if _, err := Load(dir); !errors.Is(err, ErrBadManifest) {
		t.Fatalf("expected ErrBadManifest, got %v", err)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	data, _ := json.Marshal(map[string]string{"k": "repeated repeated repeated repeated"})
	for _, level := range []CompressionLevel{CompressionDefault, CompressionFast, CompressionBest} {
		c, err := compress(data, level)
		if err != nil {
			t.Fatalf("compress: %v", err)
		}
		d, err := decompress(c)
		if err != nil {
			t.Fatalf("decompress: %v", err)
		}
		if string(d) != string(data) {
			t.Fatalf("round trip mismatch at level %d", level)
		}
	}
}
