package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

var ErrUnexpectedType = errors.New("protocol: unexpected message type")

// RPC method names.
const (
	MethodQKDExchange   = "qkd.exchange"
	MethodQKDChannel    = "qkd.channel"
	MethodQKDStatus     = "qkd.status"
	MethodCryptoKeyPair = "crypto.keypair"
	MethodCryptoEncrypt = "crypto.encrypt"
	MethodCryptoDecrypt = "crypto.decrypt"
	MethodCryptoHash    = "crypto.hash"
	MethodLedgerSubmit  = "ledger.submit"
	MethodLedgerStatus  = "ledger.status"
	MethodLedgerList    = "ledger.list"
	MethodLedgerBlock   = "ledger.block"
	MethodLedgerVerify  = "ledger.verify"
	MethodReportSubmit  = "report.submit"
)

// Error codes carried in ERROR frames.
const (
	CodeBadRequest    = 400
	CodeNotFound      = 404
	CodeUnprocessable = 422
	CodeRateLimited   = 429
	CodeInternal      = 500
	CodeUnknownMethod = 501
	CodeUnavailable   = 503
)

type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// Error is the body of an ERROR frame. It also implements error so clients
// can return it directly.
type Error struct {
	ID      string `json:"id"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request with a fresh id.
func NewRequest(method string, params any) (Request, error) {
	req := Request{ID: uuid.NewString(), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Request{}, err
		}
		req.Params = raw
	}
	return req, nil
}

func writeJSON(w io.Writer, t MessageType, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return WriteFrame(w, Frame{Type: t, Payload: raw})
}

func WriteRequest(w io.Writer, req Request) error {
	return writeJSON(w, MessageTypeRequest, req)
}

// WriteResult encodes result as the reply to id.
func WriteResult(w io.Writer, id string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return writeJSON(w, MessageTypeResponse, Response{ID: id, Result: raw})
}

func WriteError(w io.Writer, e *Error) error {
	return writeJSON(w, MessageTypeError, e)
}

// ReadRequest reads one REQUEST frame.
func ReadRequest(r io.Reader) (Request, error) {
	f, err := ReadFrame(r)
	if err != nil {
		return Request{}, err
	}
	if f.Type != MessageTypeRequest {
		return Request{}, fmt.Errorf("%w: %s", ErrUnexpectedType, f.Type)
	}
	var req Request
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// ReadReply reads a RESPONSE or ERROR frame. An ERROR frame is returned as
// a *Error.
func ReadReply(r io.Reader) (Response, error) {
	f, err := ReadFrame(r)
	if err != nil {
		return Response{}, err
	}
	switch f.Type {
	case MessageTypeResponse:
		var resp Response
		if err := json.Unmarshal(f.Payload, &resp); err != nil {
			return Response{}, err
		}
		return resp, nil
	case MessageTypeError:
		var e Error
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			return Response{}, err
		}
		return Response{ID: e.ID}, &e
	default:
		return Response{}, fmt.Errorf("%w: %s", ErrUnexpectedType, f.Type)
	}
}
