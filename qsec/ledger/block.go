package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// TimestampFormat is ISO-8601 with millisecond precision in UTC.
	TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

	GenesisPreviousHash = "0"
	GenesisType         = "GENESIS_BLOCK"
	SubjectType         = "INCIDENT_REPORT"
)

// GenesisHash is the fixed hash of block 0.
var GenesisHash = strings.Repeat("0", 64)

// Block is one immutable chain entry.
type Block struct {
	Index        uint64
	Timestamp    time.Time
	Data         json.RawMessage
	PreviousHash string
	Nonce        uint64
	Hash         string
}

type blockJSON struct {
	Hash         string          `json:"hash"`
	BlockNumber  uint64          `json:"blockNumber"`
	Timestamp    string          `json:"timestamp"`
	Data         json.RawMessage `json:"data"`
	PreviousHash string          `json:"previousHash"`
	Nonce        uint64          `json:"nonce"`
}

// MarshalJSON encodes the queried form of a block.
func (b Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(blockJSON{
		Hash:         b.Hash,
		BlockNumber:  b.Index,
		Timestamp:    formatTime(b.Timestamp),
		Data:         b.Data,
		PreviousHash: b.PreviousHash,
		Nonce:        b.Nonce,
	})
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var w blockJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := time.Parse(TimestampFormat, w.Timestamp)
	if err != nil {
		return fmt.Errorf("ledger: block %d timestamp: %w", w.BlockNumber, err)
	}
	*b = Block{
		Index:        w.BlockNumber,
		Timestamp:    ts.UTC(),
		Data:         w.Data,
		PreviousHash: w.PreviousHash,
		Nonce:        w.Nonce,
		Hash:         w.Hash,
	}
	return nil
}

// IsGenesis reports whether b is block 0.
func (b Block) IsGenesis() bool { return b.Index == 0 }

// Payload decodes the block data into v.
func (b Block) Payload(v any) error { return json.Unmarshal(b.Data, v) }

// ComputeHash recomputes the proof-of-work hash of b with its current nonce.
// It fails when b.Data is not valid JSON.
func (b Block) ComputeHash() (string, error) {
	header, err := b.header()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(appendNonce(header, b.Nonce))
	return hex.EncodeToString(sum[:]), nil
}

// header returns the hash input up to and including the nonce key:
//
//	{"blockNumber":N,"data":D,"previousHash":"P","timestamp":"T","nonce":
//
// Only the nonce changes while mining, so the prefix is built once.
func (b Block) header() ([]byte, error) {
	prefix, err := json.Marshal(struct {
		BlockNumber  uint64          `json:"blockNumber"`
		Data         json.RawMessage `json:"data"`
		PreviousHash string          `json:"previousHash"`
		Timestamp    string          `json:"timestamp"`
	}{b.Index, b.Data, b.PreviousHash, formatTime(b.Timestamp)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	prefix = prefix[:len(prefix)-1]
	return append(prefix, `,"nonce":`...), nil
}

func appendNonce(buf []byte, nonce uint64) []byte {
	buf = strconv.AppendUint(buf, nonce, 10)
	return append(buf, '}')
}

// meetsDifficulty reports whether the hex form of sum starts with
// difficulty zero digits.
func meetsDifficulty(sum []byte, difficulty int) bool {
	for i := 0; i < difficulty/2; i++ {
		if sum[i] != 0 {
			return false
		}
	}
	if difficulty%2 == 1 && sum[difficulty/2] >= 0x10 {
		return false
	}
	return true
}

// HasDifficulty reports whether hash begins with difficulty hex zeros.
func HasDifficulty(hash string, difficulty int) bool {
	if len(hash) < difficulty {
		return false
	}
	return strings.Count(hash[:difficulty], "0") == difficulty
}

func genesis(now time.Time) Block {
	return Block{
		Index:        0,
		Timestamp:    now,
		Data:         json.RawMessage(`{"type":"` + GenesisType + `"}`),
		PreviousHash: GenesisPreviousHash,
		Hash:         GenesisHash,
	}
}

func formatTime(t time.Time) string { return t.UTC().Format(TimestampFormat) }

// normalizePayload validates payload and returns its compact encoding.
func normalizePayload(payload []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}
	if err := json.Compact(&buf, payload); err != nil {
		return nil, ErrInvalidPayload
	}
	return buf.Bytes(), nil
}

// subjectPayload is the data anchored by SubmitSubject.
type subjectPayload struct {
	Type        string `json:"type"`
	SubjectID   string `json:"subjectId"`
	SubjectHash string `json:"subjectHash"`
	Timestamp   string `json:"timestamp"`
}

func (b Block) subject() (subjectPayload, bool) {
	var p subjectPayload
	if err := json.Unmarshal(b.Data, &p); err != nil {
		return p, false
	}
	return p, p.SubjectID != ""
}
