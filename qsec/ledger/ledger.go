package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/QSec/qsec/logging"
	"github.com/TheusHen/QSec/qsec/metrics"
)

var (
	ErrAttemptsExceeded = errors.New("ledger: mining attempts exceeded")
	ErrInvalidPayload   = errors.New("ledger: payload is not valid JSON")
	ErrChainBroken      = errors.New("ledger: chain integrity violated")
	ErrInvalidConfig    = errors.New("ledger: invalid config")
)

const (
	DefaultDifficulty  = 4
	DefaultMiningDelay = 2 * time.Second
	MaxDifficulty      = 64

	// how often the mining loop polls its context
	ctxCheckInterval = 4096
)

// Config bounds mining. Zero MaxAttempts and MiningTimeout disable the
// respective limit.
type Config struct {
	Difficulty    int
	MiningDelay   time.Duration
	MaxAttempts   uint64
	MiningTimeout time.Duration
}

func (c Config) validate() error {
	if c.Difficulty < 0 || c.Difficulty > MaxDifficulty {
		return fmt.Errorf("%w: difficulty %d", ErrInvalidConfig, c.Difficulty)
	}
	if c.MiningDelay < 0 || c.MiningTimeout < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(lg *Ledger) { lg.log = logging.Component(l, "ledger") }
}

// WithClock overrides the block timestamp source.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// Ledger is an append-only proof-of-work chain held in memory.
//
// Submitters are serialised by a one-slot semaphore held for the whole
// proof-of-work search. The chain itself is guarded by an RWMutex that is
// write-locked only for the append, so readers never wait on mining.
type Ledger struct {
	cfg Config
	log logrus.FieldLogger
	now func() time.Time

	writer chan struct{}

	mu    sync.RWMutex
	chain []Block
}

// New returns a ledger holding only the genesis block.
func New(cfg Config, opts ...Option) (*Ledger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := newLedger(cfg, opts)
	l.chain = []Block{genesis(l.timestamp())}
	metrics.LedgerHeight.Set(0)
	return l, nil
}

func newLedger(cfg Config, opts []Option) *Ledger {
	l := &Ledger{
		cfg:    cfg,
		log:    logging.Component(nil, "ledger"),
		now:    time.Now,
		writer: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Restore rebuilds a ledger from blocks, which must start at genesis and
// pass Verify under cfg.
func Restore(blocks []Block, cfg Config, opts ...Option) (*Ledger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := newLedger(cfg, opts)
	l.chain = append([]Block(nil), blocks...)
	if err := l.Verify(); err != nil {
		return nil, err
	}
	metrics.LedgerHeight.Set(float64(l.Height()))
	l.log.WithField("height", l.Height()).Info("ledger restored")
	return l, nil
}

// Config returns the mining configuration.
func (l *Ledger) Config() Config { return l.cfg }

func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Millisecond)
}

// Submit mines payload into a new block and appends it.
//
// The call first waits MiningDelay, then takes the writer slot and searches
// nonces from zero. It returns ErrAttemptsExceeded once MaxAttempts hashes
// fail, or the context error when ctx ends or MiningTimeout elapses. The
// chain is unchanged on any error.
func (l *Ledger) Submit(ctx context.Context, payload json.RawMessage) (Block, error) {
	data, err := normalizePayload(payload)
	if err != nil {
		return Block{}, err
	}

	if l.cfg.MiningDelay > 0 {
		t := time.NewTimer(l.cfg.MiningDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return Block{}, l.miningFailed(ctx.Err())
		}
	}

	if l.cfg.MiningTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.MiningTimeout)
		defer cancel()
	}

	select {
	case l.writer <- struct{}{}:
	case <-ctx.Done():
		return Block{}, l.miningFailed(ctx.Err())
	}
	defer func() { <-l.writer }()

	tip := l.Latest()
	blk := Block{
		Index:        tip.Index + 1,
		Timestamp:    l.timestamp(),
		Data:         data,
		PreviousHash: tip.Hash,
	}

	start := time.Now()
	attempts, err := l.mine(ctx, &blk)
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"index":    blk.Index,
			"attempts": attempts,
		}).WithError(err).Warn("mining aborted")
		return Block{}, l.miningFailed(err)
	}

	l.mu.Lock()
	l.chain = append(l.chain, blk)
	l.mu.Unlock()

	elapsed := time.Since(start)
	metrics.RecordMined(blk.Index, attempts, elapsed)
	l.log.WithFields(logrus.Fields{
		"index":    blk.Index,
		"nonce":    blk.Nonce,
		"hash":     blk.Hash,
		"attempts": attempts,
		"elapsed":  elapsed,
	}).Debug("block mined")
	return blk, nil
}

// mine sets blk.Nonce and blk.Hash and returns the number of hashes tried.
func (l *Ledger) mine(ctx context.Context, blk *Block) (uint64, error) {
	header, err := blk.header()
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 0, len(header)+21)
	var attempts uint64
	for nonce := uint64(0); ; nonce++ {
		if l.cfg.MaxAttempts > 0 && attempts >= l.cfg.MaxAttempts {
			return attempts, ErrAttemptsExceeded
		}
		if attempts%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return attempts, err
			}
		}
		attempts++

		buf = appendNonce(append(buf[:0], header...), nonce)
		sum := sha256.Sum256(buf)
		if meetsDifficulty(sum[:], l.cfg.Difficulty) {
			blk.Nonce = nonce
			blk.Hash = hex.EncodeToString(sum[:])
			return attempts, nil
		}
	}
}

func (l *Ledger) miningFailed(err error) error {
	reason := "canceled"
	switch {
	case errors.Is(err, ErrAttemptsExceeded):
		reason = "attempts_exceeded"
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	}
	metrics.RecordMiningFailure(reason)
	return err
}

// SubmitSubject anchors the content hash of a subject (a report) in a new
// block.
func (l *Ledger) SubmitSubject(ctx context.Context, subjectID, subjectHash string) (Block, error) {
	payload, err := SubjectPayload(subjectID, subjectHash, l.now())
	if err != nil {
		return Block{}, err
	}
	return l.Submit(ctx, payload)
}

// SubjectPayload builds the JSON payload used by SubmitSubject.
func SubjectPayload(subjectID, subjectHash string, at time.Time) (json.RawMessage, error) {
	return json.Marshal(subjectPayload{
		Type:        SubjectType,
		SubjectID:   subjectID,
		SubjectHash: subjectHash,
		Timestamp:   formatTime(at),
	})
}

// Latest returns the tip of the chain.
func (l *Ledger) Latest() Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[len(l.chain)-1]
}

// Height returns the index of the latest block.
func (l *Ledger) Height() uint64 { return l.Latest().Index }

// Blocks returns a copy of the full chain, genesis first.
func (l *Ledger) Blocks() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Block(nil), l.chain...)
}

// Block returns the block at index.
func (l *Ledger) Block(index uint64) (Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index >= uint64(len(l.chain)) {
		return Block{}, false
	}
	return l.chain[index], true
}

// ByHash returns the block with the given hash.
func (l *Ledger) ByHash(hash string) (Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, b := range l.chain {
		if b.Hash == hash {
			return b, true
		}
	}
	return Block{}, false
}

// BySubject returns every block whose payload names subjectID, in chain
// order.
func (l *Ledger) BySubject(subjectID string) []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Block
	for _, b := range l.chain {
		if p, ok := b.subject(); ok && p.SubjectID == subjectID {
			out = append(out, b)
		}
	}
	return out
}

// List returns all blocks except genesis, newest first.
func (l *Ledger) List() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Block, 0, len(l.chain)-1)
	for i := len(l.chain) - 1; i > 0; i-- {
		out = append(out, l.chain[i])
	}
	return out
}

// VerifyIntegrity reports whether some block anchors expectedHash for
// subjectID.
func (l *Ledger) VerifyIntegrity(subjectID, expectedHash string) bool {
	for _, b := range l.BySubject(subjectID) {
		if p, _ := b.subject(); p.SubjectHash == expectedHash {
			return true
		}
	}
	return false
}

// Verify walks the whole chain checking genesis, links, recomputed hashes
// and the difficulty predicate.
func (l *Ledger) Verify() error {
	blocks := l.Blocks()
	if len(blocks) == 0 {
		return fmt.Errorf("%w: empty chain", ErrChainBroken)
	}
	g := blocks[0]
	if g.Index != 0 || g.PreviousHash != GenesisPreviousHash || g.Hash != GenesisHash {
		return fmt.Errorf("%w: bad genesis block", ErrChainBroken)
	}
	for i := 1; i < len(blocks); i++ {
		b, prev := blocks[i], blocks[i-1]
		switch {
		case b.Index != prev.Index+1:
			return fmt.Errorf("%w: block %d has index %d", ErrChainBroken, i, b.Index)
		case b.PreviousHash != prev.Hash:
			return fmt.Errorf("%w: block %d does not link to block %d", ErrChainBroken, i, i-1)
		case !json.Valid(b.Data):
			return fmt.Errorf("%w: block %d data is not valid JSON", ErrChainBroken, i)
		case !hashMatches(b):
			return fmt.Errorf("%w: block %d hash mismatch", ErrChainBroken, i)
		case !HasDifficulty(b.Hash, l.cfg.Difficulty):
			return fmt.Errorf("%w: block %d below difficulty %d", ErrChainBroken, i, l.cfg.Difficulty)
		}
	}
	return nil
}

func hashMatches(b Block) bool {
	h, err := b.ComputeHash()
	return err == nil && h == b.Hash
}

// Health is the synthetic network health reported by Status.
type Health string

const (
	HealthHealthy Health = "healthy"
	HealthSyncing Health = "syncing"
	HealthError   Health = "error"
)

// Status is a point-in-time summary. Health and GasPrice are cosmetic
// random values and say nothing about the chain.
type Status struct {
	LatestIndex      uint64 `json:"latestBlock"`
	TransactionCount int    `json:"transactionCount"`
	Health           Health `json:"networkHealth"`
	GasPrice         string `json:"gasPrice"`
}

// Status reports the chain height and block count (genesis included).
func (l *Ledger) Status() Status {
	l.mu.RLock()
	n := len(l.chain)
	latest := l.chain[n-1].Index
	l.mu.RUnlock()

	return Status{
		LatestIndex:      latest,
		TransactionCount: n,
		Health:           syntheticHealth(),
		GasPrice:         fmt.Sprintf("%.2f gwei", 20+rand.Float64()*10),
	}
}

func syntheticHealth() Health {
	r := rand.Float64()
	switch {
	case r < 0.80:
		return HealthHealthy
	case r < 0.95:
		return HealthSyncing
	default:
		return HealthError
	}
}
