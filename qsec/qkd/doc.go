// Package qkd simulates BB84 quantum key distribution.
//
// An exchange draws random bits and bases for Alice, random bases for Bob,
// measures each photon (faithfully with detector noise when bases match,
// uniformly at random otherwise), sifts the matching positions and accepts the
// key when the quantum bit error rate is below the threshold and enough bits
// survive sifting.
//
// Photon draws feed key material and come from a ChaCha8 generator seeded by
// crypto/rand. Channel metrics and visual photon states are cosmetic and use
// the ordinary math/rand/v2 source.
package qkd
