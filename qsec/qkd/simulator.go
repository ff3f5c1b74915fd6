package qkd

import (
	crand "crypto/rand"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/QSec/qsec/logging"
	"github.com/TheusHen/QSec/qsec/metrics"
)

const (
	DefaultPhotonCount      = 1000
	DefaultErrorProbability = 0.02
	// QBERThreshold is the highest error rate at which BB84 can still
	// distil a secure key.
	QBERThreshold       = 0.11
	MinKeyLength        = 100
	DefaultVisualStates = 8

	// fibre attenuation used for the cosmetic photon-loss figure
	lossPerKM     = 0.02
	maxDistanceKM = 100
	maxDarkCounts = 1000
	detectionRate = 0.95
)

// Config tunes the simulator. Zero PhotonCount, QBERThreshold and
// MinKeyLength take the defaults above. A zero ErrorProbability is a
// noiseless channel; start from DefaultConfig for the reference noise.
type Config struct {
	PhotonCount      uint32
	ErrorProbability float64
	QBERThreshold    float64
	MinKeyLength     int
}

// DefaultConfig returns the reference configuration: 1000 photons, 2%
// detector noise, 11% QBER threshold and a 100-bit minimum key.
func DefaultConfig() Config {
	return Config{
		PhotonCount:      DefaultPhotonCount,
		ErrorProbability: DefaultErrorProbability,
		QBERThreshold:    QBERThreshold,
		MinKeyLength:     MinKeyLength,
	}
}

func (c Config) withDefaults() Config {
	if c.PhotonCount == 0 {
		c.PhotonCount = DefaultPhotonCount
	}
	if c.QBERThreshold == 0 {
		c.QBERThreshold = QBERThreshold
	}
	if c.MinKeyLength == 0 {
		c.MinKeyLength = MinKeyLength
	}
	return c
}

// Source returns a fresh generator for one exchange. It is called once per
// GenerateExchange so concurrent exchanges never share generator state.
type Source func() *rand.Rand

// Option configures a Simulator.
type Option func(*Simulator)

// WithSource overrides the photon randomness. Intended for deterministic tests.
func WithSource(src Source) Option {
	return func(s *Simulator) { s.source = src }
}

// WithLogger sets the logger used for per-exchange debug records.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Simulator) { s.log = logging.Component(l, "qkd") }
}

// Simulator runs BB84 exchanges. It holds only immutable configuration and is
// safe for concurrent use.
type Simulator struct {
	cfg    Config
	source Source
	log    logrus.FieldLogger
}

// NewSimulator returns a simulator for cfg.
func NewSimulator(cfg Config, opts ...Option) *Simulator {
	s := &Simulator{
		cfg:    cfg.withDefaults(),
		source: secureSource,
		log:    logging.Component(nil, "qkd"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Simulator) Config() Config { return s.cfg }

// secureSource seeds ChaCha8 from the operating system CSPRNG.
func secureSource() *rand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand.Read does not fail on supported platforms.
		panic("qkd: crypto/rand unavailable: " + err.Error())
	}
	return rand.New(rand.NewChaCha8(seed))
}

// SeededSource returns a deterministic Source. Each call to the returned
// Source restarts from seed.
func SeededSource(seed [32]byte) Source {
	return func() *rand.Rand { return rand.New(rand.NewChaCha8(seed)) }
}

// GenerateExchange runs BB84 over photonCount photons; zero selects the
// configured default. It never fails: a noisy or short exchange is reported
// through KeyAccepted=false and the caller chooses a fallback.
func (s *Simulator) GenerateExchange(photonCount uint32) Exchange {
	n := int(photonCount)
	if n == 0 {
		n = int(s.cfg.PhotonCount)
	}
	rng := s.source()

	ex := Exchange{
		AliceBits:  make([]uint8, n),
		AliceBases: make([]Basis, n),
		BobBases:   make([]Basis, n),
		BobBits:    make([]uint8, n),
		SiftedKey:  make([]uint8, 0, n/2),
	}

	for i := 0; i < n; i++ {
		ex.AliceBits[i] = drawBit(rng)
		ex.AliceBases[i] = drawBasis(rng)
	}
	for i := 0; i < n; i++ {
		ex.BobBases[i] = drawBasis(rng)
	}

	mismatches := 0
	for i := 0; i < n; i++ {
		if ex.AliceBases[i] == ex.BobBases[i] {
			bit := ex.AliceBits[i]
			if rng.Float64() < s.cfg.ErrorProbability {
				bit ^= 1
			}
			ex.BobBits[i] = bit
			ex.SiftedKey = append(ex.SiftedKey, bit)
			if bit != ex.AliceBits[i] {
				mismatches++
			}
		} else {
			// mismatched basis: the outcome carries no information
			ex.BobBits[i] = drawBit(rng)
		}
	}

	if len(ex.SiftedKey) > 0 {
		ex.ErrorRate = float64(mismatches) / float64(len(ex.SiftedKey))
	}
	ex.KeyAccepted = ex.ErrorRate < s.cfg.QBERThreshold && len(ex.SiftedKey) > s.cfg.MinKeyLength

	metrics.RecordExchange(ex.KeyAccepted, ex.ErrorRate, len(ex.SiftedKey))
	s.log.WithFields(logrus.Fields{
		"photons":  n,
		"sifted":   len(ex.SiftedKey),
		"qber":     ex.ErrorRate,
		"accepted": ex.KeyAccepted,
	}).Debug("bb84 exchange complete")

	return ex
}

func drawBit(rng *rand.Rand) uint8 { return uint8(rng.Uint32() & 1) }

func drawBasis(rng *rand.Rand) Basis { return Basis(rng.Uint32() & 1) }

// ChannelMetrics returns cosmetic channel readings. They carry no security
// meaning and use the ordinary random source.
func ChannelMetrics() Channel {
	distance := rand.Float64() * maxDistanceKM
	return Channel{
		DistanceKM:         distance,
		PhotonLoss:         1 - math.Exp(-distance*lossPerKM),
		DarkCounts:         rand.Float64() * maxDarkCounts,
		DetectorEfficiency: 0.9 - rand.Float64()*0.1,
	}
}

// QuantumStates returns count random photon states for visualisation.
// Non-positive counts select DefaultVisualStates.
func QuantumStates(count int) []PhotonState {
	if count <= 0 {
		count = DefaultVisualStates
	}
	out := make([]PhotonState, count)
	for i := range out {
		out[i] = PhotonState{
			Photon: Photon{
				Basis: Basis(rand.IntN(2)),
				Bit:   uint8(rand.IntN(2)),
			},
			Detected: rand.Float64() < detectionRate,
		}
	}
	return out
}

// KeyRate returns the key generation rate in bits per second.
func KeyRate(keyLength int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(keyLength) / elapsed.Seconds()
}
