package qkd

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownBasis = errors.New("qkd: unknown basis")

// Basis is the polarization basis a photon is prepared or measured in.
type Basis uint8

const (
	Rectilinear Basis = iota
	Diagonal
)

func (b Basis) String() string {
	switch b {
	case Rectilinear:
		return "rectilinear"
	case Diagonal:
		return "diagonal"
	default:
		return "unknown"
	}
}

func (b Basis) MarshalText() ([]byte, error) {
	if b > Diagonal {
		return nil, ErrUnknownBasis
	}
	return []byte(b.String()), nil
}

func (b *Basis) UnmarshalText(text []byte) error {
	switch string(text) {
	case "rectilinear":
		*b = Rectilinear
	case "diagonal":
		*b = Diagonal
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBasis, text)
	}
	return nil
}

// Bits is a bit string stored one bit per byte. It encodes to JSON as an
// array of 0/1 numbers rather than base64.
type Bits []uint8

func (b Bits) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2*len(b)+2)
	out = append(out, '[')
	for i, bit := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '0'+bit&1)
	}
	return append(out, ']'), nil
}

func (b *Bits) UnmarshalJSON(data []byte) error {
	var ints []uint
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make(Bits, len(ints))
	for i, v := range ints {
		if v > 1 {
			return fmt.Errorf("qkd: bit %d out of range: %d", i, v)
		}
		out[i] = uint8(v)
	}
	*b = out
	return nil
}

// Photon is one simulated qubit carrier.
type Photon struct {
	Basis Basis `json:"basis"`
	Bit   uint8 `json:"bit"`
}

// Ket returns the Dirac notation of the prepared state: |0⟩, |1⟩ in the
// rectilinear basis and |+⟩, |-⟩ in the diagonal one.
func (p Photon) Ket() string {
	switch {
	case p.Basis == Rectilinear && p.Bit == 0:
		return "|0⟩"
	case p.Basis == Rectilinear:
		return "|1⟩"
	case p.Bit == 0:
		return "|+⟩"
	default:
		return "|-⟩"
	}
}

// PhotonState is a photon annotated with whether the detector registered it.
// Only used for visualisation.
type PhotonState struct {
	Photon
	Detected bool `json:"detected"`
}

// Exchange is the outcome of one BB84 run.
type Exchange struct {
	AliceBits   Bits    `json:"aliceBits"`
	AliceBases  []Basis `json:"aliceBases"`
	BobBases    []Basis `json:"bobBases"`
	BobBits     Bits    `json:"bobBits"`
	SiftedKey   Bits    `json:"siftedKey"`
	ErrorRate   float64 `json:"errorRate"`
	KeyAccepted bool    `json:"keyAccepted"`
}

// PhotonCount returns the number of photons sent.
func (e Exchange) PhotonCount() int { return len(e.AliceBits) }

// SiftedIndices returns the positions where Alice's and Bob's bases matched.
func (e Exchange) SiftedIndices() []int {
	out := make([]int, 0, len(e.SiftedKey))
	for i := range e.AliceBases {
		if e.AliceBases[i] == e.BobBases[i] {
			out = append(out, i)
		}
	}
	return out
}

// KeyMaterial returns the sifted key as one byte per bit (0x00 or 0x01),
// the layout the key derivation function consumes.
func (e Exchange) KeyMaterial() []byte {
	out := make([]byte, len(e.SiftedKey))
	copy(out, e.SiftedKey)
	return out
}

// Channel holds cosmetic quantum channel readings.
type Channel struct {
	DistanceKM         float64 `json:"distanceKm"`
	PhotonLoss         float64 `json:"photonLoss"`
	DarkCounts         float64 `json:"darkCounts"`
	DetectorEfficiency float64 `json:"detectorEfficiency"`
}
