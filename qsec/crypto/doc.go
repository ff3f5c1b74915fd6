// Package crypto provides the hybrid cipher used for incident reports.
//
// Layout:
//   - Key pairs sized like Kyber-1024 (KEM) and Dilithium-3 (signature)
//   - Key encapsulation through the KEM interface: a hash-based simulation
//     (default) or real ML-KEM-1024 from the standard library
//   - AES-256-GCM payload encryption with a 16-byte IV
//   - SHA3-256 content hashes and hash-based signatures
//   - PBKDF2-SHA512 and HKDF-SHA256 key derivation
//   - XChaCha20-Poly1305 sealing for archives
//
// The simulated KEM and the signatures are built from one-way hashes with a
// shared default context. They reproduce the shape of post-quantum primitives
// but not their security: decapsulation succeeds only when both sides hold the
// same context, and Verify succeeds only when it is given the signing key.
package crypto
