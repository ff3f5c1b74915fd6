// Package config loads qsecd configuration from YAML with environment
// overrides. Missing keys keep the defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid configuration")

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	QKD       QKDConfig       `yaml:"qkd"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	MetricsAddr  string        `yaml:"metricsAddr"`
	CertLifetime time.Duration `yaml:"certLifetime"`
}

type QKDConfig struct {
	PhotonCount      uint32  `yaml:"photonCount"`
	ErrorProbability float64 `yaml:"errorProbability"`
	QBERThreshold    float64 `yaml:"qberThreshold"`
	MinKeyLength     int     `yaml:"minKeyLength"`
}

type LedgerConfig struct {
	Difficulty    int           `yaml:"difficulty"`
	MiningDelay   time.Duration `yaml:"miningDelay"`
	MaxAttempts   uint64        `yaml:"maxAttempts"`
	MiningTimeout time.Duration `yaml:"miningTimeout"`
	QueueSize     int           `yaml:"queueSize"`
	Retries       int           `yaml:"retries"`
	RetryBackoff  time.Duration `yaml:"retryBackoff"`
	ReceiptTTL    time.Duration `yaml:"receiptTTL"`
}

type RateLimitConfig struct {
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	IdleTTL time.Duration `yaml:"idleTTL"`
}

// ArchiveConfig controls snapshot restore on start and export on shutdown.
// An empty Dir disables both. The passphrase is read from the environment
// only so it never lands in a config file.
type ArchiveConfig struct {
	Dir          string `yaml:"dir"`
	DataShards   int    `yaml:"dataShards"`
	ParityShards int    `yaml:"parityShards"`
	Passphrase   string `yaml:"-"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the reference configuration: 1000 photons, 2% detector
// noise, 11% QBER threshold, difficulty 4 with a 2s simulated block time.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         "[::1]:7443",
			MetricsAddr:  "127.0.0.1:9464",
			CertLifetime: 24 * time.Hour,
		},
		QKD: QKDConfig{
			PhotonCount:      1000,
			ErrorProbability: 0.02,
			QBERThreshold:    0.11,
			MinKeyLength:     100,
		},
		Ledger: LedgerConfig{
			Difficulty:    4,
			MiningDelay:   2 * time.Second,
			MaxAttempts:   1 << 24,
			MiningTimeout: 30 * time.Second,
			QueueSize:     64,
			Retries:       3,
			RetryBackoff:  time.Second,
			ReceiptTTL:    10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RPS:     2,
			Burst:   4,
			IdleTTL: 10 * time.Minute,
		},
		Archive: ArchiveConfig{
			DataShards:   4,
			ParityShards: 2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (if non-empty) over Default, applies QSEC_* environment
// overrides and validates the result. Keys missing from the file keep their
// defaults; keys present keep their value, zero included.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	ApplyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies QSEC_* variables. Malformed values are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := env("QSEC_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := env("QSEC_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := env("QSEC_PHOTON_COUNT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.QKD.PhotonCount = uint32(n)
		}
	}
	if v := env("QSEC_DIFFICULTY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ledger.Difficulty = n
		}
	}
	if v := env("QSEC_MINING_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ledger.MiningDelay = d
		}
	}
	if v := env("QSEC_MINING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ledger.MiningTimeout = d
		}
	}
	if v := env("QSEC_ARCHIVE_DIR"); v != "" {
		cfg.Archive.Dir = v
	}
	if v := os.Getenv("QSEC_ARCHIVE_PASSPHRASE"); v != "" {
		cfg.Archive.Passphrase = v
	}
	if v := env("QSEC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := env("QSEC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// Validate rejects configurations the core cannot run with.
func (c Config) Validate() error {
	if c.QKD.PhotonCount == 0 {
		return fmt.Errorf("%w: qkd.photonCount must be > 0", ErrInvalid)
	}
	if c.QKD.ErrorProbability < 0 || c.QKD.ErrorProbability > 1 {
		return fmt.Errorf("%w: qkd.errorProbability must be in [0,1]", ErrInvalid)
	}
	if c.QKD.QBERThreshold <= 0 || c.QKD.QBERThreshold > 1 {
		return fmt.Errorf("%w: qkd.qberThreshold must be in (0,1]", ErrInvalid)
	}
	if c.Server.CertLifetime < 0 {
		return fmt.Errorf("%w: server.certLifetime must be >= 0", ErrInvalid)
	}
	if c.Ledger.Difficulty < 0 || c.Ledger.Difficulty > 64 {
		return fmt.Errorf("%w: ledger.difficulty must be in [0,64]", ErrInvalid)
	}
	if c.Ledger.QueueSize <= 0 {
		return fmt.Errorf("%w: ledger.queueSize must be > 0", ErrInvalid)
	}
	if c.Ledger.Retries < 0 {
		return fmt.Errorf("%w: ledger.retries must be >= 0", ErrInvalid)
	}
	if c.Archive.DataShards <= 0 || c.Archive.ParityShards <= 0 || c.Archive.DataShards+c.Archive.ParityShards > 256 {
		return fmt.Errorf("%w: archive shards must be positive and total at most 256", ErrInvalid)
	}
	return nil
}
