package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/QSec/qsec/config"
	"github.com/TheusHen/QSec/qsec/ledger"
	"github.com/TheusHen/QSec/qsec/ledger/archive"
	"github.com/TheusHen/QSec/qsec/qkd"
	"github.com/TheusHen/QSec/qsec/report"
	"github.com/TheusHen/QSec/qsec/rpc"
	"github.com/TheusHen/QSec/qsec/transport/quic"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the QUIC RPC server",
	Long: `Run the QUIC RPC server and the Prometheus /metrics endpoint.

When archive.dir is set the ledger is restored from it on start and
exported to it on shutdown. Set QSEC_ARCHIVE_PASSPHRASE to seal the
snapshot.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := openLedger(cfg, log)
	if err != nil {
		return err
	}
	sub := ledger.NewSubmitter(l, ledger.SubmitterConfig{
		QueueSize:    cfg.Ledger.QueueSize,
		Retries:      cfg.Ledger.Retries,
		RetryBackoff: cfg.Ledger.RetryBackoff,
		ReceiptTTL:   cfg.Ledger.ReceiptTTL,
	}, ledger.WithSubmitterLogger(log))
	defer sub.Close()

	sim := qkd.NewSimulator(qkdConfig(cfg), qkd.WithLogger(log))
	reports := report.NewService(sim, l,
		report.WithSubmitter(sub),
		report.WithLogger(log),
		report.WithPhotonCount(cfg.QKD.PhotonCount),
	)
	srv := rpc.NewServer(sim, l, reports, rpc.Config{
		RPS:     cfg.RateLimit.RPS,
		Burst:   cfg.RateLimit.Burst,
		IdleTTL: cfg.RateLimit.IdleTTL,
	}, rpc.WithLogger(log))

	ln, err := quic.Listen(cfg.Server.Addr, quic.WithCertLifetime(cfg.Server.CertLifetime))
	if err != nil {
		return err
	}
	defer ln.Close()

	metricsSrv := startMetrics(cfg.Server.MetricsAddr, log)

	serveErr := srv.Serve(ctx, ln)
	log.Info("shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	sub.Close()
	if err := saveArchive(cfg, l, log); err != nil {
		log.WithError(err).Error("archive export failed")
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

func qkdConfig(cfg config.Config) qkd.Config {
	return qkd.Config{
		PhotonCount:      cfg.QKD.PhotonCount,
		ErrorProbability: cfg.QKD.ErrorProbability,
		QBERThreshold:    cfg.QKD.QBERThreshold,
		MinKeyLength:     cfg.QKD.MinKeyLength,
	}
}

func ledgerConfig(cfg config.Config) ledger.Config {
	return ledger.Config{
		Difficulty:    cfg.Ledger.Difficulty,
		MiningDelay:   cfg.Ledger.MiningDelay,
		MaxAttempts:   cfg.Ledger.MaxAttempts,
		MiningTimeout: cfg.Ledger.MiningTimeout,
	}
}

// openLedger restores the chain from the archive directory when one exists
// and starts from genesis otherwise.
func openLedger(cfg config.Config, log *logrus.Logger) (*ledger.Ledger, error) {
	lcfg := ledgerConfig(cfg)
	dir := cfg.Archive.Dir
	if dir == "" || !archive.Exists(dir) {
		return ledger.New(lcfg, ledger.WithLogger(log))
	}
	a, err := archive.Load(dir)
	if err != nil {
		return nil, err
	}
	l, err := archive.Import(a, []byte(cfg.Archive.Passphrase), lcfg, ledger.WithLogger(log))
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"dir":    dir,
		"height": l.Height(),
	}).Info("ledger restored from archive")
	return l, nil
}

func saveArchive(cfg config.Config, l *ledger.Ledger, log *logrus.Logger) error {
	if cfg.Archive.Dir == "" {
		return nil
	}
	a, err := archive.Export(l, archive.Options{
		DataShards:   cfg.Archive.DataShards,
		ParityShards: cfg.Archive.ParityShards,
		Compression:  archive.CompressionDefault,
		Passphrase:   []byte(cfg.Archive.Passphrase),
	})
	if err != nil {
		return err
	}
	if err := a.Save(cfg.Archive.Dir); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"dir":    cfg.Archive.Dir,
		"height": a.Manifest.Checkpoint.Height,
		"sealed": a.Manifest.Sealed,
	}).Info("ledger archived")
	return nil
}

func startMetrics(addr string, log *logrus.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	log.WithField("addr", addr).Info("metrics listening")
	return srv
}
