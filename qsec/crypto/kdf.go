package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/TheusHen/QSec/qsec/metrics"
)

const (
	// PBKDF2Iterations is the work factor applied to QKD key material.
	PBKDF2Iterations = 100_000
	DerivedKeySize   = 32

	defaultSalt = "quantum-salt"
)

// DeriveKey turns key material (typically a QKD sifted key) into a 32-byte
// symmetric key with PBKDF2-HMAC-SHA512. A nil or empty salt uses the fixed
// default salt.
func DeriveKey(material, salt []byte) []byte {
	key := pbkdf2.Key(material, orDefault(salt, defaultSalt), PBKDF2Iterations, DerivedKeySize, sha512.New)
	metrics.RecordCrypto(metrics.OpDerive, nil)
	return key
}

// DeriveSubkey expands secret into length bytes with HKDF-SHA256.
// info binds the output to its use.
func DeriveSubkey(secret, salt, info []byte, length int) ([]byte, error) {
	hk := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}
