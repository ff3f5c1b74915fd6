package protocol

import (
	"encoding/json"

	"github.com/TheusHen/QSec/qsec/crypto"
)

// Parameter and result bodies. Byte slices travel as base64 JSON strings.

type ExchangeParams struct {
	PhotonCount uint32 `json:"photonCount,omitempty"`
}

type KeyPairParams struct {
	// Kind is "kem" or "signature".
	Kind string `json:"kind"`
	// Algorithm selects a real KEM ("ml-kem-1024"); empty means simulated.
	Algorithm string `json:"algorithm,omitempty"`
}

type EncryptParams struct {
	Plaintext []byte `json:"plaintext"`
	PublicKey []byte `json:"publicKey,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
}

type EncryptResult struct {
	Envelope json.RawMessage `json:"envelope"`
}

type DecryptParams struct {
	Envelope   json.RawMessage `json:"envelope"`
	PrivateKey []byte          `json:"privateKey,omitempty"`
}

type DecryptResult struct {
	Plaintext []byte `json:"plaintext"`
}

type HashParams struct {
	Data []byte `json:"data"`
}

type HashResult struct {
	Hash string `json:"hash"`
}

type SubmitParams struct {
	Payload json.RawMessage `json:"payload"`
}

type ListParams struct {
	// SubjectID filters to one subject; empty lists everything.
	SubjectID string `json:"subjectId,omitempty"`
}

type BlockParams struct {
	Hash  string  `json:"hash,omitempty"`
	Index *uint64 `json:"index,omitempty"`
}

type VerifyParams struct {
	// With SubjectID set, checks that Hash is anchored for it. Otherwise
	// verifies the whole chain.
	SubjectID string `json:"subjectId,omitempty"`
	Hash      string `json:"hash,omitempty"`
}

type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type ReportParams struct {
	SubjectID string `json:"subjectId"`
	Body      []byte `json:"body"`
}

// KeyPairResult mirrors crypto.KeyPair with the kind spelled out.
type KeyPairResult struct {
	PublicKey  []byte `json:"publicKey"`
	PrivateKey []byte `json:"privateKey"`
	Kind       string `json:"kind"`
	Algorithm  string `json:"algorithm"`
}

func NewKeyPairResult(kp crypto.KeyPair) KeyPairResult {
	return KeyPairResult{
		PublicKey:  kp.PublicKey,
		PrivateKey: kp.PrivateKey,
		Kind:       kp.Kind.String(),
		Algorithm:  kp.Algorithm,
	}
}
