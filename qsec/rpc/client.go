package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	q "github.com/quic-go/quic-go"

	"github.com/TheusHen/QSec/qsec/crypto"
	"github.com/TheusHen/QSec/qsec/ledger"
	"github.com/TheusHen/QSec/qsec/protocol"
	"github.com/TheusHen/QSec/qsec/qkd"
	"github.com/TheusHen/QSec/qsec/report"
	"github.com/TheusHen/QSec/qsec/transport/quic"
)

// Client issues requests over a single QUIC connection. It is safe for
// concurrent use; every call opens its own stream.
type Client struct {
	conn *q.Conn
}

// Dial connects to a qsecd server.
func Dial(ctx context.Context, addr string) (*Client, error) {
	conn, err := quic.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.CloseWithError(0, "bye")
}

// Call sends method with params and decodes the result into result, which
// may be nil. Server errors are returned as *protocol.Error.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	req, err := protocol.NewRequest(method, params)
	if err != nil {
		return err
	}
	st, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		st.CancelRead(0)
		st.CancelWrite(0)
	})
	defer stop()

	if err := protocol.WriteRequest(st, req); err != nil {
		return err
	}
	// closing the send side tells the server the request is complete
	if err := st.Close(); err != nil {
		return err
	}

	resp, err := protocol.ReadReply(st)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if resp.ID != req.ID {
		return fmt.Errorf("rpc: reply id %q does not match request %q", resp.ID, req.ID)
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, result)
}

func (c *Client) Exchange(ctx context.Context, photonCount uint32) (qkd.Exchange, error) {
	var ex qkd.Exchange
	err := c.Call(ctx, protocol.MethodQKDExchange, protocol.ExchangeParams{PhotonCount: photonCount}, &ex)
	return ex, err
}

func (c *Client) Channel(ctx context.Context) (qkd.Channel, error) {
	var m qkd.Channel
	err := c.Call(ctx, protocol.MethodQKDChannel, nil, &m)
	return m, err
}

func (c *Client) QuantumStatus(ctx context.Context) (report.QuantumStatus, error) {
	var st report.QuantumStatus
	err := c.Call(ctx, protocol.MethodQKDStatus, nil, &st)
	return st, err
}

func (c *Client) KeyPair(ctx context.Context, kind, algorithm string) (protocol.KeyPairResult, error) {
	var kp protocol.KeyPairResult
	err := c.Call(ctx, protocol.MethodCryptoKeyPair, protocol.KeyPairParams{Kind: kind, Algorithm: algorithm}, &kp)
	return kp, err
}

// Encrypt returns the wire envelope.
func (c *Client) Encrypt(ctx context.Context, plaintext, publicKey []byte, algorithm string) (json.RawMessage, error) {
	var res protocol.EncryptResult
	err := c.Call(ctx, protocol.MethodCryptoEncrypt, protocol.EncryptParams{
		Plaintext: plaintext,
		PublicKey: publicKey,
		Algorithm: algorithm,
	}, &res)
	return res.Envelope, err
}

func (c *Client) Decrypt(ctx context.Context, envelope json.RawMessage, privateKey []byte) ([]byte, error) {
	var res protocol.DecryptResult
	err := c.Call(ctx, protocol.MethodCryptoDecrypt, protocol.DecryptParams{Envelope: envelope, PrivateKey: privateKey}, &res)
	return res.Plaintext, err
}

func (c *Client) Hash(ctx context.Context, data []byte) (string, error) {
	var res protocol.HashResult
	err := c.Call(ctx, protocol.MethodCryptoHash, protocol.HashParams{Data: data}, &res)
	return res.Hash, err
}

func (c *Client) Submit(ctx context.Context, payload json.RawMessage) (ledger.Block, error) {
	var b ledger.Block
	err := c.Call(ctx, protocol.MethodLedgerSubmit, protocol.SubmitParams{Payload: payload}, &b)
	return b, err
}

func (c *Client) Status(ctx context.Context) (ledger.Status, error) {
	var st ledger.Status
	err := c.Call(ctx, protocol.MethodLedgerStatus, nil, &st)
	return st, err
}

// List returns the newest-first block list, or the blocks anchoring
// subjectID when it is set.
func (c *Client) List(ctx context.Context, subjectID string) ([]ledger.Block, error) {
	var blocks []ledger.Block
	err := c.Call(ctx, protocol.MethodLedgerList, protocol.ListParams{SubjectID: subjectID}, &blocks)
	return blocks, err
}

func (c *Client) BlockByHash(ctx context.Context, hash string) (ledger.Block, error) {
	var b ledger.Block
	err := c.Call(ctx, protocol.MethodLedgerBlock, protocol.BlockParams{Hash: hash}, &b)
	return b, err
}

func (c *Client) BlockAt(ctx context.Context, index uint64) (ledger.Block, error) {
	var b ledger.Block
	err := c.Call(ctx, protocol.MethodLedgerBlock, protocol.BlockParams{Index: &index}, &b)
	return b, err
}

func (c *Client) VerifyIntegrity(ctx context.Context, subjectID, hash string) (bool, error) {
	var res protocol.VerifyResult
	err := c.Call(ctx, protocol.MethodLedgerVerify, protocol.VerifyParams{SubjectID: subjectID, Hash: hash}, &res)
	return res.Valid, err
}

// VerifyChain checks the whole chain server side.
func (c *Client) VerifyChain(ctx context.Context) (protocol.VerifyResult, error) {
	var res protocol.VerifyResult
	err := c.Call(ctx, protocol.MethodLedgerVerify, nil, &res)
	return res, err
}

// SubmitReport files an encrypted report. The returned receipt carries the
// QKD key when one was accepted.
func (c *Client) SubmitReport(ctx context.Context, subjectID string, body []byte) (*report.Receipt, error) {
	var res ReportResult
	if err := c.Call(ctx, protocol.MethodReportSubmit, protocol.ReportParams{SubjectID: subjectID, Body: body}, &res); err != nil {
		return nil, err
	}
	r := res.Receipt
	r.QuantumKey = res.QuantumKey
	return &r, nil
}

// OpenReport decrypts a receipt's envelope locally.
func OpenReport(r *report.Receipt) ([]byte, error) {
	return crypto.DecryptWire(r.Envelope, r.QuantumKey)
}
