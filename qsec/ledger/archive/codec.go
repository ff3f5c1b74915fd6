package archive

import (
	"errors"

	"github.com/klauspost/reedsolomon"
)

var (
	ErrTooManyLost   = errors.New("archive: too many shards lost, cannot recover")
	ErrInvalidShards = errors.New("archive: invalid data/parity configuration")
)

// codec wraps a Reed-Solomon encoder for one data/parity layout.
type codec struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

func newCodec(dataShards, parityShards int) (*codec, error) {
	if dataShards <= 0 || parityShards <= 0 {
		return nil, ErrInvalidShards
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, ErrInvalidShards
	}
	return &codec{enc: enc, dataShards: dataShards, parityShards: parityShards}, nil
}

func (c *codec) total() int { return c.dataShards + c.parityShards }

// encode splits data into data shards and appends parity.
func (c *codec) encode(data []byte) ([][]byte, error) {
	shards, err := c.enc.Split(data)
	if err != nil {
		return nil, err
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, err
	}
	return shards, nil
}

// reconstruct fills nil data shards in place.
func (c *codec) reconstruct(shards [][]byte) error {
	if err := c.enc.ReconstructData(shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return ErrTooManyLost
		}
		return err
	}
	return nil
}

// join concatenates the data shards and drops the padding.
func (c *codec) join(shards [][]byte, size int) []byte {
	data := make([]byte, 0, size)
	for i := 0; i < c.dataShards && len(data) < size; i++ {
		remaining := size - len(data)
		if remaining >= len(shards[i]) {
			data = append(data, shards[i]...)
		} else {
			data = append(data, shards[i][:remaining]...)
		}
	}
	return data
}
