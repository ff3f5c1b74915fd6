package crypto

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedEnvelope = errors.New("crypto: malformed envelope")

// Envelope is the output of Encrypt and the input of Decrypt.
//
// On the wire it is encoded as
//
//	{"encryptedData": "<json {data, sessionKey, authTag, algorithm}>",
//	 "keyId": hex, "algorithm": kem tag, "iv": hex}
//
// with every binary field hex-encoded. Parsing is strict: unknown fields,
// missing fields, non-string values and bad hex are all failures.
type Envelope struct {
	Ciphertext      []byte
	EncapsulatedKey []byte
	AuthTag         []byte
	IV              []byte
	Algorithm       string // KEM tag
	Cipher          string // payload AEAD tag
	KeyID           []byte
}

var (
	outerFields = []string{"encryptedData", "keyId", "algorithm", "iv"}
	innerFields = []string{"data", "sessionKey", "authTag", "algorithm"}
)

type wirePayload struct {
	Data       string `json:"data"`
	SessionKey string `json:"sessionKey"`
	AuthTag    string `json:"authTag"`
	Algorithm  string `json:"algorithm"`
}

type wireEnvelope struct {
	EncryptedData string `json:"encryptedData"`
	KeyID         string `json:"keyId"`
	Algorithm     string `json:"algorithm"`
	IV            string `json:"iv"`
}

// MarshalJSON encodes the wire form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	inner, err := json.Marshal(wirePayload{
		Data:       hex.EncodeToString(e.Ciphertext),
		SessionKey: hex.EncodeToString(e.EncapsulatedKey),
		AuthTag:    hex.EncodeToString(e.AuthTag),
		Algorithm:  e.Cipher,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{
		EncryptedData: string(inner),
		KeyID:         hex.EncodeToString(e.KeyID),
		Algorithm:     e.Algorithm,
		IV:            hex.EncodeToString(e.IV),
	})
}

// UnmarshalJSON parses the wire form strictly.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	outer, err := strictStrings(b, outerFields)
	if err != nil {
		return err
	}
	inner, err := strictStrings([]byte(outer["encryptedData"]), innerFields)
	if err != nil {
		return err
	}

	var env Envelope
	fields := []struct {
		name string
		src  string
		dst  *[]byte
	}{
		{"data", inner["data"], &env.Ciphertext},
		{"sessionKey", inner["sessionKey"], &env.EncapsulatedKey},
		{"authTag", inner["authTag"], &env.AuthTag},
		{"keyId", outer["keyId"], &env.KeyID},
		{"iv", outer["iv"], &env.IV},
	}
	for _, f := range fields {
		v, err := hex.DecodeString(f.src)
		if err != nil {
			return fmt.Errorf("%w: %s is not hex", ErrMalformedEnvelope, f.name)
		}
		*f.dst = v
	}
	env.Algorithm = outer["algorithm"]
	env.Cipher = inner["algorithm"]
	if env.Algorithm == "" || env.Cipher == "" {
		return fmt.Errorf("%w: empty algorithm", ErrMalformedEnvelope)
	}
	*e = env
	return nil
}

// MarshalWire returns the wire encoding.
func (e *Envelope) MarshalWire() ([]byte, error) {
	return json.Marshal(e)
}

// ParseWire parses a wire envelope. Failures match both ErrDecryptionFailed
// and ErrMalformedEnvelope.
func ParseWire(b []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		if !errors.Is(err, ErrMalformedEnvelope) {
			err = fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	return &env, nil
}

// strictStrings decodes a JSON object that must contain exactly keys, each
// with a string value.
func strictStrings(b []byte, keys []string) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if raw == nil || len(raw) != len(keys) {
		return nil, fmt.Errorf("%w: expected fields %v", ErrMalformedEnvelope, keys)
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedEnvelope, k)
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("%w: %s is not a string", ErrMalformedEnvelope, k)
		}
		out[k] = s
	}
	return out, nil
}
