package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Type: MessageTypeResponse, Payload: []byte("ok")}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if out.Type != in.Type {
		t.Fatalf("type mismatch")
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadFrameStopsAtBoundary(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteFrame(&buf, Frame{Type: MessageTypeRequest, Payload: []byte("one")})
	_ = WriteFrame(&buf, Frame{Type: MessageTypeRequest})
	first, err := ReadFrame(&buf)
	if err != nil || string(first.Payload) != "one" {
		t.Fatalf("first frame: %q, %v", first.Payload, err)
	}
	second, err := ReadFrame(&buf)
	if err != nil || len(second.Payload) != 0 {
		t.Fatalf("second frame: %v", err)
	}
}

func TestFrameLimits(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Type: 0}); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
	if err := WriteFrame(&buf, Frame{Type: MessageTypeRequest, Payload: make([]byte, MaxFramePayload+1)}); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}

	hdr := make([]byte, 5)
	hdr[0] = byte(MessageTypeRequest)
	binary.BigEndian.PutUint32(hdr[1:], MaxFramePayload+1)
	if _, err := ReadFrame(bytes.NewReader(hdr)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	hdr[0] = 9
	if _, err := ReadFrame(bytes.NewReader(hdr)); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestRequestReply(t *testing.T) {
	req, err := NewRequest(MethodCryptoHash, HashParams{Data: []byte("x")})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if req.ID == "" {
		t.Fatalf("request id missing")
	}

	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	got, err := ReadRequest(&buf)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	var params HashParams
	if err := json.Unmarshal(got.Params, &params); err != nil || string(params.Data) != "x" {
		t.Fatalf("params %+v, %v", params, err)
	}

	buf.Reset()
	_ = WriteResult(&buf, req.ID, HashResult{Hash: "abc"})
	resp, err := ReadReply(&buf)
	if err != nil || resp.ID != req.ID {
		t.Fatalf("ReadReply: %+v, %v", resp, err)
	}

	buf.Reset()
	_ = WriteError(&buf, &Error{ID: req.ID, Code: CodeNotFound, Message: "missing"})
	_, err = ReadReply(&buf)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeNotFound {
		t.Fatalf("expected *Error, got %v", err)
	}

	buf.Reset()
	_ = WriteResult(&buf, req.ID, nil)
	if _, err := ReadRequest(&buf); !errors.Is(err, ErrUnexpectedType) {
		t.Fatalf("expected ErrUnexpectedType, got %v", err)
	}
}
