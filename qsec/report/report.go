// Package report runs the incident-report flow over the core services:
// QKD key agreement, hybrid encryption, content hashing and ledger
// anchoring.
package report

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/QSec/qsec/crypto"
	"github.com/TheusHen/QSec/qsec/ledger"
	"github.com/TheusHen/QSec/qsec/logging"
	"github.com/TheusHen/QSec/qsec/qkd"
)

var (
	ErrInvalidSubject = errors.New("report: empty subject id")
	ErrNotPending     = errors.New("report: receipt is not pending")
)

// QKDSummary is the part of an exchange worth keeping with a report.
type QKDSummary struct {
	Photons    int     `json:"photons"`
	SiftedBits int     `json:"siftedBits"`
	ErrorRate  float64 `json:"errorRate"`
	Accepted   bool    `json:"accepted"`
}

// Status returns "active" when the quantum key was used and "fallback"
// when the default context was.
func (q QKDSummary) Status() string {
	if q.Accepted {
		return "active"
	}
	return "fallback"
}

// Receipt is everything the storage collaborator persists for a report.
type Receipt struct {
	SubjectID   string          `json:"subjectId"`
	Envelope    json.RawMessage `json:"envelope"`
	KeyID       string          `json:"keyId"`
	ContentHash string          `json:"contentHash"`
	QKD         QKDSummary      `json:"qkd"`

	// QuantumKey is the PBKDF2-derived key used as the encryption context
	// when the exchange was accepted. Callers store it with the key
	// collaborator; it is never serialised.
	QuantumKey []byte `json:"-"`

	BlockHash   string `json:"blockHash,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	// PendingID is set when mining ran out of budget and the anchor was
	// handed to the asynchronous submitter.
	PendingID string `json:"pendingId,omitempty"`
}

// Pending reports whether the ledger anchor is still awaiting confirmation.
func (r *Receipt) Pending() bool { return r.PendingID != "" }

// Option configures a Service.
type Option func(*Service)

// WithSubmitter enables the pending-confirmation fallback.
func WithSubmitter(s *ledger.Submitter) Option {
	return func(svc *Service) { svc.submitter = s }
}

// WithLogger sets the service logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(svc *Service) { svc.log = logging.Component(l, "report") }
}

// WithPhotonCount sets the photons sent per exchange. Zero uses the
// simulator default.
func WithPhotonCount(n uint32) Option {
	return func(svc *Service) { svc.photons = n }
}

// Service wires the simulator, cipher and ledger together. It holds no state
// of its own beyond the references it was built with.
type Service struct {
	sim       *qkd.Simulator
	ledger    *ledger.Ledger
	submitter *ledger.Submitter
	log       logrus.FieldLogger
	photons   uint32
}

// NewService returns a Service over sim and l.
func NewService(sim *qkd.Simulator, l *ledger.Ledger, opts ...Option) *Service {
	s := &Service{
		sim:    sim,
		ledger: l,
		log:    logging.Component(nil, "report"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit encrypts body and anchors its hash for subjectID.
//
// A QKD exchange runs first; when its key is accepted the PBKDF2-derived key
// becomes the encryption context, otherwise the default context is used.
// The SHA3 hash of the plaintext is then mined into the ledger. If mining
// exceeds its budget and a submitter is configured, the anchor is queued and
// the receipt comes back pending.
func (s *Service) Submit(ctx context.Context, subjectID string, body []byte) (*Receipt, error) {
	if subjectID == "" {
		return nil, ErrInvalidSubject
	}

	ex := s.sim.GenerateExchange(s.photons)
	r := &Receipt{
		SubjectID: subjectID,
		QKD: QKDSummary{
			Photons:    ex.PhotonCount(),
			SiftedBits: len(ex.SiftedKey),
			ErrorRate:  ex.ErrorRate,
			Accepted:   ex.KeyAccepted,
		},
	}
	if ex.KeyAccepted {
		r.QuantumKey = crypto.DeriveKey(ex.KeyMaterial(), nil)
	}

	env, err := crypto.Encrypt(body, r.QuantumKey)
	if err != nil {
		return nil, fmt.Errorf("report: encrypt: %w", err)
	}
	if r.Envelope, err = env.MarshalWire(); err != nil {
		return nil, fmt.Errorf("report: encode envelope: %w", err)
	}
	r.KeyID = hex.EncodeToString(env.KeyID)
	r.ContentHash = crypto.HashHex(body)

	log := s.log.WithFields(logrus.Fields{
		"subject": subjectID,
		"qkd":     r.QKD.Status(),
	})

	blk, err := s.ledger.SubmitSubject(ctx, subjectID, r.ContentHash)
	switch {
	case err == nil:
		r.BlockHash = blk.Hash
		r.BlockNumber = blk.Index
		log.WithField("block", blk.Index).Info("report anchored")
		return r, nil
	case s.submitter != nil && overBudget(ctx, err):
		payload, perr := ledger.SubjectPayload(subjectID, r.ContentHash, time.Now())
		if perr != nil {
			return nil, perr
		}
		id, qerr := s.submitter.Enqueue(payload)
		if qerr != nil {
			return nil, fmt.Errorf("report: queue anchor: %w", errors.Join(err, qerr))
		}
		r.PendingID = id.String()
		log.WithError(err).WithField("pending", r.PendingID).Warn("anchor pending confirmation")
		return r, nil
	default:
		return nil, fmt.Errorf("report: anchor: %w", err)
	}
}

// overBudget reports whether err means mining ran out of budget rather than
// the caller giving up.
func overBudget(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, ledger.ErrAttemptsExceeded) || errors.Is(err, context.DeadlineExceeded)
}

// Confirm waits for a pending receipt's anchor and fills in the block.
func (s *Service) Confirm(ctx context.Context, r *Receipt) error {
	if !r.Pending() || s.submitter == nil {
		return ErrNotPending
	}
	id, err := uuid.Parse(r.PendingID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotPending, err)
	}
	lr, err := s.submitter.Wait(ctx, id)
	if err != nil {
		return err
	}
	if lr.State != ledger.StateConfirmed {
		return fmt.Errorf("report: anchor %s: %s", lr.State, lr.Error)
	}
	r.BlockHash = lr.Block.Hash
	r.BlockNumber = lr.Block.Index
	r.PendingID = ""
	return nil
}

// Open decrypts a stored receipt. keyContext is the receipt's QuantumKey,
// or nil when the exchange fell back to the default context.
func (s *Service) Open(r *Receipt, keyContext []byte) ([]byte, error) {
	return crypto.DecryptWire(r.Envelope, keyContext)
}

// Verify reports whether body is the content anchored for subjectID.
func (s *Service) Verify(subjectID string, body []byte) bool {
	return s.ledger.VerifyIntegrity(subjectID, crypto.HashHex(body))
}

// SealMessage encrypts a chat message without anchoring it.
func (s *Service) SealMessage(body, keyContext []byte) (json.RawMessage, error) {
	env, err := crypto.Encrypt(body, keyContext)
	if err != nil {
		return nil, err
	}
	return env.MarshalWire()
}

// OpenMessage reverses SealMessage.
func (s *Service) OpenMessage(wire json.RawMessage, keyContext []byte) ([]byte, error) {
	return crypto.DecryptWire(wire, keyContext)
}

// QuantumState is one photon rendered for the status panel.
type QuantumState struct {
	State    string `json:"state"`
	Detected bool   `json:"detected"`
}

// QuantumStatus is the cosmetic QKD status panel.
type QuantumStatus struct {
	PhotonSuccessRate float64        `json:"photonSuccessRate"`
	KeyRate           float64        `json:"keyGenerationRate"`
	ErrorRate         float64        `json:"errorRate"`
	KeyGenerated      bool           `json:"keyGenerated"`
	States            []QuantumState `json:"quantumStates"`
	Channel           qkd.Channel    `json:"channelNoise"`
}

// QuantumStatus runs a fresh exchange and reports its figures together with
// visual photon states and channel readings.
func (s *Service) QuantumStatus() QuantumStatus {
	start := time.Now()
	ex := s.sim.GenerateExchange(s.photons)
	elapsed := time.Since(start)

	st := QuantumStatus{
		PhotonSuccessRate: (1 - ex.ErrorRate) * 100,
		KeyRate:           qkd.KeyRate(len(ex.SiftedKey), elapsed),
		ErrorRate:         ex.ErrorRate * 100,
		KeyGenerated:      ex.KeyAccepted,
		Channel:           qkd.ChannelMetrics(),
	}
	for _, ps := range qkd.QuantumStates(qkd.DefaultVisualStates) {
		st.States = append(st.States, QuantumState{State: ps.Ket(), Detected: ps.Detected})
	}
	return st
}
