// Package archive exports a ledger as erasure-coded, optionally sealed
// snapshots and restores it from them.
//
// Pipeline: JSON blocks -> LZ4 -> XChaCha20-Poly1305 (with a passphrase) ->
// Reed-Solomon data + parity shards. The manifest carries the checksum of the
// sharded payload and the Merkle checkpoint of the exported chain, both
// checked again on import.
package archive
