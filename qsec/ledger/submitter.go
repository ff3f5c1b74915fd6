package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/QSec/qsec/logging"
	"github.com/TheusHen/QSec/qsec/metrics"
)

var (
	ErrQueueFull       = errors.New("ledger: submission queue full")
	ErrSubmitterClosed = errors.New("ledger: submitter closed")
	ErrUnknownReceipt  = errors.New("ledger: unknown receipt")
)

const (
	DefaultQueueSize    = 64
	DefaultRetries      = 3
	DefaultRetryBackoff = time.Second
	DefaultReceiptTTL   = 10 * time.Minute
)

// State is the lifecycle of an asynchronous submission.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// Receipt tracks one asynchronous submission.
type Receipt struct {
	ID          uuid.UUID `json:"id"`
	State       State     `json:"state"`
	Attempts    int       `json:"attempts"`
	SubmittedAt time.Time `json:"submittedAt"`
	Block       *Block    `json:"block,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// SubmitterConfig sizes the queue and retry policy. ReceiptTTL is how long a
// confirmed or failed receipt stays queryable.
type SubmitterConfig struct {
	QueueSize    int
	Retries      int
	RetryBackoff time.Duration
	ReceiptTTL   time.Duration
}

func (c SubmitterConfig) withDefaults() SubmitterConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.ReceiptTTL <= 0 {
		c.ReceiptTTL = DefaultReceiptTTL
	}
	return c
}

type submission struct {
	receipt    Receipt
	done       chan struct{}
	finishedAt time.Time
}

type job struct {
	id      uuid.UUID
	payload json.RawMessage
}

// Submitter is the asynchronous path into a Ledger. A single worker drains
// a bounded queue, so a slow mining search never blocks the enqueuing
// caller. Submissions that run out of mining budget are retried with a fixed
// backoff.
type Submitter struct {
	ledger *Ledger
	cfg    SubmitterConfig
	log    logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	queue    chan job
	receipts map[uuid.UUID]*submission
	now      func() time.Time
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithSubmitterLogger sets the submitter logger.
func WithSubmitterLogger(l logrus.FieldLogger) SubmitterOption {
	return func(s *Submitter) { s.log = logging.Component(l, "submitter") }
}

// NewSubmitter starts a worker feeding l.
func NewSubmitter(l *Ledger, cfg SubmitterConfig, opts ...SubmitterOption) *Submitter {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Submitter{
		ledger:   l,
		cfg:      cfg,
		log:      logging.Component(nil, "submitter"),
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan job, cfg.QueueSize),
		receipts: make(map[uuid.UUID]*submission),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue queues payload and returns its receipt id. It never blocks.
func (s *Submitter) Enqueue(payload json.RawMessage) (uuid.UUID, error) {
	data, err := normalizePayload(payload)
	if err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return uuid.Nil, ErrSubmitterClosed
	}

	s.evictLocked()
	id := uuid.New()
	select {
	case s.queue <- job{id: id, payload: data}:
	default:
		return uuid.Nil, ErrQueueFull
	}
	s.receipts[id] = &submission{
		receipt: Receipt{ID: id, State: StatePending, SubmittedAt: s.now().UTC()},
		done:    make(chan struct{}),
	}
	metrics.SubmitterQueueDepth.Set(float64(len(s.queue)))
	return id, nil
}

// Receipt returns the current state of a submission.
func (s *Submitter) Receipt(id uuid.UUID) (Receipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.receipts[id]
	if !ok {
		return Receipt{}, false
	}
	return sub.receipt, true
}

// Wait blocks until the submission is confirmed or failed, or ctx ends. A
// receipt evicted after ReceiptTTL reports ErrUnknownReceipt.
func (s *Submitter) Wait(ctx context.Context, id uuid.UUID) (Receipt, error) {
	s.mu.Lock()
	sub, ok := s.receipts[id]
	s.mu.Unlock()
	if !ok {
		return Receipt{}, ErrUnknownReceipt
	}

	select {
	case <-sub.done:
		return s.snapshot(sub), nil
	case <-ctx.Done():
		return s.snapshot(sub), ctx.Err()
	}
}

func (s *Submitter) snapshot(sub *submission) Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sub.receipt
}

// Pending returns the number of queued submissions.
func (s *Submitter) Pending() int { return len(s.queue) }

// Close stops accepting submissions, aborts the one being mined and fails
// whatever is still queued. It waits for the worker to exit.
func (s *Submitter) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	metrics.SubmitterQueueDepth.Set(0)
	return nil
}

func (s *Submitter) run() {
	defer s.wg.Done()
	for j := range s.queue {
		metrics.SubmitterQueueDepth.Set(float64(len(s.queue)))
		if s.ctx.Err() != nil {
			s.finish(j.id, nil, 0, ErrSubmitterClosed)
			continue
		}
		s.process(j)
	}
}

func (s *Submitter) process(j job) {
	log := s.log.WithField("receipt", j.id)
	var attempts int
	for {
		attempts++
		s.update(j.id, func(r *Receipt) { r.Attempts = attempts })

		blk, err := s.ledger.Submit(s.ctx, j.payload)
		if err == nil {
			log.WithFields(logrus.Fields{"index": blk.Index, "attempts": attempts}).Info("submission confirmed")
			s.finish(j.id, &blk, attempts, nil)
			return
		}
		if !retryable(err) || s.ctx.Err() != nil || attempts > s.cfg.Retries {
			log.WithError(err).WithField("attempts", attempts).Warn("submission failed")
			s.finish(j.id, nil, attempts, err)
			return
		}

		log.WithError(err).WithField("attempt", attempts).Debug("retrying submission")
		t := time.NewTimer(s.cfg.RetryBackoff)
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
			s.finish(j.id, nil, attempts, ErrSubmitterClosed)
			return
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrAttemptsExceeded) || errors.Is(err, context.DeadlineExceeded)
}

func (s *Submitter) update(id uuid.UUID, fn func(*Receipt)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.receipts[id]; ok {
		fn(&sub.receipt)
	}
}

func (s *Submitter) finish(id uuid.UUID, blk *Block, attempts int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.receipts[id]
	if !ok {
		return
	}
	if attempts > 0 {
		sub.receipt.Attempts = attempts
	}
	if err != nil {
		sub.receipt.State = StateFailed
		sub.receipt.Error = err.Error()
	} else {
		sub.receipt.State = StateConfirmed
		sub.receipt.Block = blk
	}
	sub.finishedAt = s.now()
	close(sub.done)
	s.evictLocked()
}

// evictLocked drops finished receipts older than ReceiptTTL. Pending ones
// are never evicted.
func (s *Submitter) evictLocked() {
	cutoff := s.now().Add(-s.cfg.ReceiptTTL)
	for id, sub := range s.receipts {
		if !sub.finishedAt.IsZero() && sub.finishedAt.Before(cutoff) {
			delete(s.receipts, id)
		}
	}
}
