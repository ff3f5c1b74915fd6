package archive

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/TheusHen/QSec/qsec/crypto"
	"github.com/TheusHen/QSec/qsec/ledger"
)

var (
	ErrChecksum        = errors.New("archive: checksum mismatch")
	ErrSealed          = errors.New("archive: sealed archive needs the correct passphrase")
	ErrBadManifest     = errors.New("archive: invalid manifest")
	ErrVersion         = errors.New("archive: unsupported version")
	ErrShardCount      = errors.New("archive: shard count does not match manifest")
	ErrShardSize       = errors.New("archive: shard size does not match manifest")
	ErrEmptyPassphrase = errors.New("archive: empty passphrase")
)

const (
	Version = 1

	DefaultDataShards   = 4
	DefaultParityShards = 2

	saltSize     = 16
	manifestFile = "manifest.json"
)

var sealInfo = []byte("qsec-archive-v1")

// Options controls Export.
type Options struct {
	DataShards   int
	ParityShards int
	Compression  CompressionLevel
	// Passphrase, when set, seals the snapshot with XChaCha20-Poly1305.
	Passphrase []byte
}

func (o Options) withDefaults() Options {
	if o.DataShards == 0 {
		o.DataShards = DefaultDataShards
	}
	if o.ParityShards == 0 {
		o.ParityShards = DefaultParityShards
	}
	return o
}

// Manifest describes how to reassemble an archive.
type Manifest struct {
	Version      int    `json:"version"`
	DataShards   int    `json:"dataShards"`
	ParityShards int    `json:"parityShards"`
	ShardSize    int    `json:"shardSize"`
	PayloadSize  int    `json:"payloadSize"`
	SnapshotSize int    `json:"snapshotSize"`
	Compressed   bool   `json:"compressed"`
	Sealed       bool   `json:"sealed"`
	Salt         string `json:"salt,omitempty"`
	// Checksum is the SHA-256 of the sharded payload.
	Checksum   string            `json:"checksum"`
	Checkpoint ledger.Checkpoint `json:"checkpoint"`
}

// Archive is an exported ledger: a manifest plus data and parity shards.
// Any ParityShards of the shards may be nil on import.
type Archive struct {
	Manifest Manifest
	Shards   [][]byte
}

// Export snapshots l.
//
// The chain is encoded as JSON, LZ4-compressed when that makes it smaller,
// optionally sealed, and split into Reed-Solomon shards.
func Export(l *ledger.Ledger, opts Options) (*Archive, error) {
	opts = opts.withDefaults()
	c, err := newCodec(opts.DataShards, opts.ParityShards)
	if err != nil {
		return nil, err
	}

	cp, err := l.Checkpoint()
	if err != nil {
		return nil, err
	}
	snapshot, err := json.Marshal(l.Blocks())
	if err != nil {
		return nil, err
	}

	m := Manifest{
		Version:      Version,
		DataShards:   opts.DataShards,
		ParityShards: opts.ParityShards,
		SnapshotSize: len(snapshot),
		Checkpoint:   cp,
	}

	payload := snapshot
	if opts.Compression != CompressionNone {
		compressed, err := compress(snapshot, opts.Compression)
		if err != nil {
			return nil, err
		}
		if len(compressed) < len(snapshot) {
			payload = compressed
			m.Compressed = true
		}
	}

	if len(opts.Passphrase) > 0 {
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, err
		}
		key, err := sealKey(opts.Passphrase, salt)
		if err != nil {
			return nil, err
		}
		payload, err = crypto.Seal(key, payload, sealInfo)
		if err != nil {
			return nil, err
		}
		m.Sealed = true
		m.Salt = hex.EncodeToString(salt)
	}

	sum := sha256.Sum256(payload)
	m.Checksum = hex.EncodeToString(sum[:])
	m.PayloadSize = len(payload)

	shards, err := c.encode(payload)
	if err != nil {
		return nil, err
	}
	m.ShardSize = len(shards[0])
	return &Archive{Manifest: m, Shards: shards}, nil
}

// Import reassembles a and restores the ledger under cfg. Lost shards must
// be nil.
func Import(a *Archive, passphrase []byte, cfg ledger.Config, opts ...ledger.Option) (*ledger.Ledger, error) {
	m := a.Manifest
	if m.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, m.Version)
	}
	c, err := newCodec(m.DataShards, m.ParityShards)
	if err != nil {
		return nil, err
	}
	if len(a.Shards) != c.total() {
		return nil, ErrShardCount
	}
	if m.PayloadSize < 0 || m.PayloadSize > m.ShardSize*m.DataShards {
		return nil, ErrBadManifest
	}

	shards := make([][]byte, len(a.Shards))
	for i, s := range a.Shards {
		if s == nil {
			continue
		}
		if len(s) != m.ShardSize {
			return nil, fmt.Errorf("%w: shard %d", ErrShardSize, i)
		}
		shards[i] = append([]byte(nil), s...)
	}
	if err := c.reconstruct(shards); err != nil {
		return nil, err
	}

	payload := c.join(shards, m.PayloadSize)
	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != m.Checksum {
		return nil, ErrChecksum
	}

	if m.Sealed {
		if len(passphrase) == 0 {
			return nil, ErrSealed
		}
		salt, err := hex.DecodeString(m.Salt)
		if err != nil || len(salt) != saltSize {
			return nil, ErrBadManifest
		}
		key, err := sealKey(passphrase, salt)
		if err != nil {
			return nil, err
		}
		payload, err = crypto.Open(key, payload, sealInfo)
		if err != nil {
			return nil, ErrSealed
		}
	}

	if m.Compressed {
		payload, err = decompress(payload)
		if err != nil {
			return nil, err
		}
	}
	if len(payload) != m.SnapshotSize {
		return nil, ErrChecksum
	}

	var blocks []ledger.Block
	if err := json.Unmarshal(payload, &blocks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
	l, err := ledger.Restore(blocks, cfg, opts...)
	if err != nil {
		return nil, err
	}
	cp, err := l.Checkpoint()
	if err != nil {
		return nil, err
	}
	if cp != m.Checkpoint {
		return nil, ErrChecksum
	}
	return l, nil
}

// sealKey stretches the passphrase with PBKDF2 and expands a dedicated
// archive key from it.
func sealKey(passphrase, salt []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	master := crypto.DeriveKey(passphrase, salt)
	return crypto.DeriveSubkey(master, salt, sealInfo, crypto.DerivedKeySize)
}

func shardFile(i int) string { return fmt.Sprintf("shard-%03d.bin", i) }

// Save writes the manifest and one file per shard into dir.
func (a *Archive) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	for i, s := range a.Shards {
		if s == nil {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, shardFile(i)), s, 0o600); err != nil {
			return err
		}
	}
	raw, err := json.MarshalIndent(a.Manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestFile), raw, 0o600)
}

// Load reads an archive written by Save. Missing shard files load as nil.
func Load(dir string) (*Archive, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
	total := m.DataShards + m.ParityShards
	if m.DataShards <= 0 || m.ParityShards <= 0 || total > 256 {
		return nil, ErrBadManifest
	}

	a := &Archive{Manifest: m, Shards: make([][]byte, total)}
	for i := range a.Shards {
		s, err := os.ReadFile(filepath.Join(dir, shardFile(i)))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		a.Shards[i] = s
	}
	return a, nil
}

// Exists reports whether dir holds an archive manifest.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, manifestFile))
	return err == nil
}
