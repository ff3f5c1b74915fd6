package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.QKD.PhotonCount != 1000 || cfg.Ledger.Difficulty != 4 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qsec.yaml")
	data := []byte(`
qkd:
  photonCount: 2048
ledger:
  difficulty: 2
  miningDelay: 150ms
log:
  format: json
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QKD.PhotonCount != 2048 {
		t.Fatalf("photonCount = %d", cfg.QKD.PhotonCount)
	}
	if cfg.Ledger.Difficulty != 2 {
		t.Fatalf("difficulty = %d", cfg.Ledger.Difficulty)
	}
	if cfg.Ledger.MiningDelay != 150*time.Millisecond {
		t.Fatalf("miningDelay = %v", cfg.Ledger.MiningDelay)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("format = %q", cfg.Log.Format)
	}
	// untouched sections keep defaults
	if cfg.QKD.QBERThreshold != 0.11 {
		t.Fatalf("qberThreshold = %v", cfg.QKD.QBERThreshold)
	}
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qsec.yaml")
	data := []byte(`
qkd:
  errorProbability: 0
ledger:
  difficulty: 0
  miningDelay: 0s
  retries: 0
rateLimit:
  rps: 0
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QKD.ErrorProbability != 0 {
		t.Fatalf("errorProbability = %v", cfg.QKD.ErrorProbability)
	}
	if cfg.Ledger.Difficulty != 0 || cfg.Ledger.MiningDelay != 0 || cfg.Ledger.Retries != 0 {
		t.Fatalf("ledger zeros lost: %+v", cfg.Ledger)
	}
	if cfg.RateLimit.RPS != 0 {
		t.Fatalf("rps = %v", cfg.RateLimit.RPS)
	}
	// siblings of the zeroed keys keep their defaults
	def := Default()
	if cfg.QKD.PhotonCount != def.QKD.PhotonCount || cfg.Ledger.QueueSize != def.Ledger.QueueSize || cfg.RateLimit.Burst != def.RateLimit.Burst {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QSEC_DIFFICULTY", "3")
	t.Setenv("QSEC_MINING_DELAY", "0s")
	t.Setenv("QSEC_PHOTON_COUNT", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ledger.Difficulty != 3 {
		t.Fatalf("difficulty = %d", cfg.Ledger.Difficulty)
	}
	if cfg.Ledger.MiningDelay != 0 {
		t.Fatalf("miningDelay = %v", cfg.Ledger.MiningDelay)
	}
	if cfg.QKD.PhotonCount != 1000 {
		t.Fatalf("malformed override should be ignored, got %d", cfg.QKD.PhotonCount)
	}
}

func TestValidateRejects(t *testing.T) {
	cfg := Default()
	cfg.Ledger.Difficulty = 65
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestArchiveSettings(t *testing.T) {
	t.Setenv("QSEC_ARCHIVE_DIR", "/var/lib/qsec")
	t.Setenv("QSEC_ARCHIVE_PASSPHRASE", " keep spaces ")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Archive.Dir != "/var/lib/qsec" {
		t.Fatalf("dir = %q", cfg.Archive.Dir)
	}
	if cfg.Archive.Passphrase != " keep spaces " {
		t.Fatalf("passphrase must be taken verbatim, got %q", cfg.Archive.Passphrase)
	}

	cfg.Archive.ParityShards = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
