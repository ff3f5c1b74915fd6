// Package metrics provides Prometheus instrumentation for the QSec core.
// Collectors are registered on the default registry; `qsecd serve` exposes
// them over HTTP.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "qsec"

	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelMethod    = "method"
	LabelAccepted  = "accepted"
	LabelHealth    = "health"

	StatusSuccess = "success"
	StatusError   = "error"

	OpEncrypt = "encrypt"
	OpDecrypt = "decrypt"
	OpKeygen  = "keygen"
	OpSign    = "sign"
	OpVerify  = "verify"
	OpDerive  = "derive"
)

var (
	// QKDExchangesTotal counts BB84 exchanges by whether the sifted key was accepted.
	QKDExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "qkd",
			Name:      "exchanges_total",
			Help:      "Total number of simulated BB84 exchanges by acceptance",
		},
		[]string{LabelAccepted},
	)

	// QKDErrorRate observes the quantum bit error rate of each exchange.
	QKDErrorRate = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "qkd",
			Name:      "error_rate",
			Help:      "Quantum bit error rate of simulated exchanges",
			Buckets:   []float64{.01, .02, .03, .05, .08, .11, .15, .25, .5},
		},
	)

	// QKDSiftedKeyLength observes sifted key lengths in bits.
	QKDSiftedKeyLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "qkd",
			Name:      "sifted_key_bits",
			Help:      "Length of sifted keys in bits",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
		},
	)

	// CryptoOperationsTotal counts cipher operations by type and status.
	CryptoOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "crypto",
			Name:      "operations_total",
			Help:      "Total number of hybrid cipher operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// BlocksMinedTotal counts blocks appended to the ledger.
	BlocksMinedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "blocks_mined_total",
			Help:      "Total number of blocks appended to the ledger",
		},
	)

	// MiningFailuresTotal counts mining runs that gave up, by reason.
	MiningFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "mining_failures_total",
			Help:      "Total number of abandoned proof-of-work searches by reason",
		},
		[]string{LabelStatus},
	)

	// MiningAttempts observes the number of hashes computed per mined block.
	MiningAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "mining_attempts",
			Help:      "Number of nonces tried per mined block",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		},
	)

	// MiningDuration observes wall-clock time of the proof-of-work search.
	MiningDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "mining_duration_seconds",
			Help:      "Duration of proof-of-work searches in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// LedgerHeight tracks the index of the latest block.
	LedgerHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "height",
			Help:      "Index of the latest block in the ledger",
		},
	)

	// SubmitterQueueDepth tracks submissions waiting for the async submitter.
	SubmitterQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "submitter_queue_depth",
			Help:      "Number of submissions pending in the asynchronous submitter",
		},
	)

	// RPCRequestsTotal counts RPC requests by method and status.
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total number of RPC requests by method and status",
		},
		[]string{LabelMethod, LabelStatus},
	)

	// RPCRequestDuration observes RPC handler latency.
	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Duration of RPC requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)
)

// RecordExchange records the outcome of one BB84 exchange.
func RecordExchange(accepted bool, errorRate float64, siftedBits int) {
	label := "false"
	if accepted {
		label = "true"
	}
	QKDExchangesTotal.WithLabelValues(label).Inc()
	QKDErrorRate.Observe(errorRate)
	QKDSiftedKeyLength.Observe(float64(siftedBits))
}

// RecordCrypto records a cipher operation.
func RecordCrypto(op string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	CryptoOperationsTotal.WithLabelValues(op, status).Inc()
}

// RecordMined records a successfully mined block.
func RecordMined(index uint64, attempts uint64, elapsed time.Duration) {
	BlocksMinedTotal.Inc()
	MiningAttempts.Observe(float64(attempts))
	MiningDuration.Observe(elapsed.Seconds())
	LedgerHeight.Set(float64(index))
}

// RecordMiningFailure records an abandoned proof-of-work search.
func RecordMiningFailure(reason string) {
	MiningFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordRPC records one RPC request.
func RecordRPC(method string, err error, elapsed time.Duration) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	RPCRequestsTotal.WithLabelValues(method, status).Inc()
	RPCRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
