package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/TheusHen/QSec/qsec/metrics"
)

// Encrypt encrypts plaintext for publicKey with the simulated KEM.
// An empty publicKey selects the default context.
func Encrypt(plaintext, publicKey []byte) (*Envelope, error) {
	return EncryptWith(Simulated{}, plaintext, publicKey)
}

// EncryptWith encrypts plaintext using kem to transport the session key.
func EncryptWith(kem KEM, plaintext, publicKey []byte) (*Envelope, error) {
	env, err := encrypt(kem, plaintext, publicKey)
	metrics.RecordCrypto(metrics.OpEncrypt, err)
	return env, err
}

func encrypt(kem KEM, plaintext, publicKey []byte) (*Envelope, error) {
	sessionKey, encapsulated, err := kem.Encapsulate(publicKey)
	if err != nil {
		return nil, err
	}
	defer zero(sessionKey)

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	ciphertext, tag, err := sealGCM(sessionKey, iv, plaintext)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Ciphertext:      ciphertext,
		EncapsulatedKey: encapsulated,
		AuthTag:         tag,
		IV:              iv,
		Algorithm:       kem.Name(),
		Cipher:          CipherAES256GCM,
		KeyID:           KeyID(publicKey),
	}, nil
}

// Decrypt opens env with privateKey (empty selects the default context).
// Every failure matches ErrDecryptionFailed and returns no plaintext.
func Decrypt(env *Envelope, privateKey []byte) ([]byte, error) {
	plaintext, err := decrypt(env, privateKey)
	metrics.RecordCrypto(metrics.OpDecrypt, err)
	return plaintext, err
}

func decrypt(env *Envelope, privateKey []byte) ([]byte, error) {
	if env == nil {
		return nil, ErrDecryptionFailed
	}
	kem, ok := KEMByName(env.Algorithm)
	if !ok {
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrDecryptionFailed, env.Algorithm)
	}
	if env.Cipher != CipherAES256GCM {
		return nil, fmt.Errorf("%w: unknown cipher %q", ErrDecryptionFailed, env.Cipher)
	}
	if len(env.IV) != IVSize || len(env.AuthTag) != TagSize {
		return nil, fmt.Errorf("%w: bad iv or tag length", ErrDecryptionFailed)
	}

	sessionKey, err := kem.Decapsulate(env.EncapsulatedKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	defer zero(sessionKey)

	return openGCM(sessionKey, env.IV, env.Ciphertext, env.AuthTag)
}

// DecryptWire parses a wire envelope and decrypts it.
func DecryptWire(wire, privateKey []byte) ([]byte, error) {
	env, err := ParseWire(wire)
	if err != nil {
		metrics.RecordCrypto(metrics.OpDecrypt, err)
		return nil, err
	}
	return Decrypt(env, privateKey)
}
