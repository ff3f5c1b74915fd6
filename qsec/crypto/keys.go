package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/TheusHen/QSec/qsec/metrics"
)

var ErrUnknownKind = errors.New("crypto: unknown key kind")

// Kind distinguishes encapsulation keys from signature keys.
type Kind uint8

const (
	KindKEM Kind = iota + 1
	KindSignature
)

func (k Kind) String() string {
	switch k {
	case KindKEM:
		return "KEM"
	case KindSignature:
		return "SIGNATURE"
	default:
		return "UNKNOWN"
	}
}

// ParseKind accepts "kem" or "signature" in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "kem":
		return KindKEM, nil
	case "signature", "sig":
		return KindSignature, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

const (
	AlgKyber1024  = "kyber-1024"
	AlgDilithium3 = "dilithium-3"
	AlgMLKEM1024  = "ml-kem-1024"

	// Kyber-1024 / ML-KEM-1024 sizes.
	KEMPublicKeySize  = 1568
	KEMPrivateKeySize = 3168
	// Dilithium-3 sizes as documented by the original round-3 submission.
	SignaturePublicKeySize  = 1952
	SignaturePrivateKeySize = 4016
)

// KeyPair is simulated (or, for ML-KEM, real) asymmetric key material.
// Callers own persistence.
type KeyPair struct {
	PublicKey  []byte `json:"publicKey"`
	PrivateKey []byte `json:"privateKey"`
	Kind       Kind   `json:"kind"`
	Algorithm  string `json:"algorithm"`
}

// GenerateKeyPair returns randomly filled buffers of the standard size for
// kind. The bytes have no algebraic structure.
func GenerateKeyPair(kind Kind) (KeyPair, error) {
	var kp KeyPair
	var err error
	switch kind {
	case KindKEM:
		kp, err = randomKeyPair(kind, AlgKyber1024, KEMPublicKeySize, KEMPrivateKeySize)
	case KindSignature:
		kp, err = randomKeyPair(kind, AlgDilithium3, SignaturePublicKeySize, SignaturePrivateKeySize)
	default:
		err = fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	metrics.RecordCrypto(metrics.OpKeygen, err)
	return kp, err
}

func randomKeyPair(kind Kind, alg string, pubSize, privSize int) (KeyPair, error) {
	pub := make([]byte, pubSize)
	if _, err := io.ReadFull(rand.Reader, pub); err != nil {
		return KeyPair{}, err
	}
	priv := make([]byte, privSize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return KeyPair{}, err
	}
	return KeyPair{PublicKey: pub, PrivateKey: priv, Kind: kind, Algorithm: alg}, nil
}
