// Package protocol defines the QSec RPC wire format: length-prefixed frames
// carrying JSON requests, responses and errors.
package protocol
