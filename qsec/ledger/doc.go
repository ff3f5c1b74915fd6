// Package ledger implements an in-memory, append-only proof-of-work chain
// used to timestamp content hashes.
//
// Block hashes are SHA-256 over the JSON encoding of
// {blockNumber, data, previousHash, timestamp, nonce}; a block is valid when
// its hex hash starts with Difficulty zeros. Block 0 is a fixed genesis
// block with previousHash "0".
//
// Mining is bounded by an attempt cap and a wall-clock budget. Callers that
// must not wait on mining use a Submitter, which queues payloads and retries
// submissions that ran out of budget.
package ledger
