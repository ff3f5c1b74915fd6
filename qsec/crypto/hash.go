package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	"github.com/TheusHen/QSec/qsec/metrics"
)

// HashSize is the length of a content hash.
const HashSize = 32

// Hash returns the SHA3-256 digest of data.
func Hash(data []byte) [HashSize]byte {
	return sha3.Sum256(data)
}

// HashHex returns Hash as lowercase hex, the form anchored in the ledger.
func HashHex(data []byte) string {
	h := Hash(data)
	return hex.EncodeToString(h[:])
}

// Sign returns SHA-256(SHA3-256(data) || privateKey).
func Sign(data, privateKey []byte) []byte {
	sig := signature(data, privateKey)
	metrics.RecordCrypto(metrics.OpSign, nil)
	return sig
}

// Verify recomputes the signature with publicKey and compares in constant
// time. Because the scheme is hash-based, it only succeeds when publicKey is
// the key that produced the signature.
func Verify(data, sig, publicKey []byte) bool {
	ok := subtle.ConstantTimeCompare(signature(data, publicKey), sig) == 1
	metrics.RecordCrypto(metrics.OpVerify, nil)
	return ok
}

func signature(data, key []byte) []byte {
	digest := Hash(data)
	h := sha256.New()
	h.Write(digest[:])
	h.Write(key)
	return h.Sum(nil)
}

// KeyID returns the 16-byte identifier of publicKey (or of the default
// context when publicKey is empty).
func KeyID(publicKey []byte) []byte {
	sum := sha256.Sum256(orDefault(publicKey, "default"))
	return sum[:16]
}
