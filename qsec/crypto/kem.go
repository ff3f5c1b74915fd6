package crypto

import (
	"crypto/mlkem"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
)

var (
	ErrInvalidEncapsulation = errors.New("crypto: invalid encapsulated key")
	ErrInvalidKey           = errors.New("crypto: invalid key")
)

const (
	// SessionKeySize is the AES-256 session key length.
	SessionKeySize = 32

	defaultPublicKey  = "default-public-key"
	defaultKeyContext = "default-key-context"
)

// KEM transports a fresh session key to the holder of a key.
type KEM interface {
	// Name is the algorithm tag written into envelopes.
	Name() string
	GenerateKeyPair() (KeyPair, error)
	// Encapsulate returns a new session key and its encapsulation.
	Encapsulate(publicKey []byte) (sessionKey, encapsulated []byte, err error)
	// Decapsulate recovers the session key from its encapsulation.
	Decapsulate(encapsulated, privateKey []byte) ([]byte, error)
}

// KEMByName returns the KEM for an envelope algorithm tag.
func KEMByName(name string) (KEM, bool) {
	switch name {
	case AlgKyber1024:
		return Simulated{}, true
	case AlgMLKEM1024:
		return MLKEM1024{}, true
	default:
		return nil, false
	}
}

// Simulated mimics Kyber-1024 with SHA-256.
//
// The encapsulation is SHA-256(seed || publicKey) for a random seed, and the
// session key is SHA-256(encapsulation || context), where the context is the
// public key when sending and the private key when receiving. Both default to
// the same sentinel, so an envelope opens only when both sides use the default
// context or share the same secret (for example a QKD-derived key). Real
// asymmetric key pairs never decrypt.
type Simulated struct{}

func (Simulated) Name() string { return AlgKyber1024 }

func (Simulated) GenerateKeyPair() (KeyPair, error) { return GenerateKeyPair(KindKEM) }

func (Simulated) Encapsulate(publicKey []byte) ([]byte, []byte, error) {
	seed := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, nil, err
	}
	defer zero(seed)

	h := sha256.New()
	h.Write(seed)
	h.Write(orDefault(publicKey, defaultPublicKey))
	encapsulated := h.Sum(nil)

	return simulatedSessionKey(encapsulated, publicKey), encapsulated, nil
}

func (Simulated) Decapsulate(encapsulated, privateKey []byte) ([]byte, error) {
	if len(encapsulated) != sha256.Size {
		return nil, ErrInvalidEncapsulation
	}
	return simulatedSessionKey(encapsulated, privateKey), nil
}

func simulatedSessionKey(encapsulated, context []byte) []byte {
	h := sha256.New()
	h.Write(encapsulated)
	h.Write(orDefault(context, defaultKeyContext))
	return h.Sum(nil)
}

// MLKEM1024 is real ML-KEM-1024 (FIPS 203). Public keys are 1568 bytes;
// private keys use the standard library's 64-byte seed encoding.
type MLKEM1024 struct{}

func (MLKEM1024) Name() string { return AlgMLKEM1024 }

func (MLKEM1024) GenerateKeyPair() (KeyPair, error) {
	dk, err := mlkem.GenerateKey1024()
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{
		PublicKey:  dk.EncapsulationKey().Bytes(),
		PrivateKey: dk.Bytes(),
		Kind:       KindKEM,
		Algorithm:  AlgMLKEM1024,
	}, nil
}

func (MLKEM1024) Encapsulate(publicKey []byte) ([]byte, []byte, error) {
	ek, err := mlkem.NewEncapsulationKey1024(publicKey)
	if err != nil {
		return nil, nil, ErrInvalidKey
	}
	shared, ciphertext := ek.Encapsulate()
	return shared, ciphertext, nil
}

func (MLKEM1024) Decapsulate(encapsulated, privateKey []byte) ([]byte, error) {
	dk, err := mlkem.NewDecapsulationKey1024(privateKey)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if len(encapsulated) != mlkem.CiphertextSize1024 {
		return nil, ErrInvalidEncapsulation
	}
	shared, err := dk.Decapsulate(encapsulated)
	if err != nil {
		return nil, ErrInvalidEncapsulation
	}
	return shared, nil
}

func orDefault(b []byte, sentinel string) []byte {
	if len(b) == 0 {
		return []byte(sentinel)
	}
	return b
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
