package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheusHen/QSec/qsec/crypto"
	"github.com/TheusHen/QSec/qsec/protocol"
	"github.com/TheusHen/QSec/qsec/qkd"
	"github.com/TheusHen/QSec/qsec/rpc"
)

const callTimeout = 2 * time.Minute

var (
	exchangePhotons uint32

	keygenKind      string
	keygenAlgorithm string

	reportSubject string
	reportFile    string
)

var exchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Run one BB84 exchange and print it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if remoteAddr == "" {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			sim := qkd.NewSimulator(qkdConfig(cfg), qkd.WithLogger(log))
			return printJSON(sim.GenerateExchange(exchangePhotons))
		}
		return withClient(cmd.Context(), func(ctx context.Context, c *rpc.Client) error {
			ex, err := c.Exchange(ctx, exchangePhotons)
			if err != nil {
				return err
			}
			return printJSON(ex)
		})
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a key pair",
	Long: `Generate a key pair. Kind is "kem" or "signature". With
--algorithm ml-kem-1024 the KEM pair is a real ML-KEM-1024 key; otherwise
the bytes are random placeholders of the standard sizes.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if remoteAddr == "" {
			kp, err := localKeyPair(keygenKind, keygenAlgorithm)
			if err != nil {
				return err
			}
			return printJSON(protocol.NewKeyPairResult(kp))
		}
		return withClient(cmd.Context(), func(ctx context.Context, c *rpc.Client) error {
			kp, err := c.KeyPair(ctx, keygenKind, keygenAlgorithm)
			if err != nil {
				return err
			}
			return printJSON(kp)
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report [body]",
	Short: "Encrypt a report and anchor its hash on a remote node",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := reportBody(args)
		if err != nil {
			return err
		}
		return withClient(cmd.Context(), func(ctx context.Context, c *rpc.Client) error {
			r, err := c.SubmitReport(ctx, reportSubject, body)
			if err != nil {
				return err
			}
			return printJSON(rpc.ReportResult{Receipt: *r, QuantumKey: r.QuantumKey})
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print ledger and quantum channel status of a remote node",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *rpc.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			q, err := c.QuantumStatus(ctx)
			if err != nil {
				return err
			}
			chain, err := c.VerifyChain(ctx)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"ledger":  st,
				"quantum": q,
				"chain":   chain,
			})
		})
	},
}

func init() {
	exchangeCmd.Flags().Uint32Var(&exchangePhotons, "photons", 0, "photons to send (0 uses the configured default)")

	keygenCmd.Flags().StringVar(&keygenKind, "kind", "kem", "key kind: kem or signature")
	keygenCmd.Flags().StringVar(&keygenAlgorithm, "algorithm", "", "kem algorithm: kyber-1024 (simulated) or ml-kem-1024")

	reportCmd.Flags().StringVar(&reportSubject, "subject", "", "subject id the report is filed under")
	reportCmd.Flags().StringVar(&reportFile, "file", "", "read the body from a file (- for stdin)")
	_ = reportCmd.MarkFlagRequired("subject")
}

// withClient dials the remote node, defaulting to the configured server
// address.
func withClient(parent context.Context, fn func(context.Context, *rpc.Client) error) error {
	addr := remoteAddr
	if addr == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		addr = cfg.Server.Addr
	}
	ctx, cancel := context.WithTimeout(parent, callTimeout)
	defer cancel()

	c, err := rpc.Dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer c.Close()
	return fn(ctx, c)
}

func localKeyPair(kind, algorithm string) (crypto.KeyPair, error) {
	k, err := crypto.ParseKind(kind)
	if err != nil {
		return crypto.KeyPair{}, err
	}
	if algorithm == "" || (k == crypto.KindSignature && algorithm == crypto.AlgDilithium3) {
		return crypto.GenerateKeyPair(k)
	}
	kem, ok := crypto.KEMByName(algorithm)
	if !ok || k != crypto.KindKEM {
		return crypto.KeyPair{}, fmt.Errorf("unknown algorithm %q", algorithm)
	}
	return kem.GenerateKeyPair()
}

func reportBody(args []string) ([]byte, error) {
	switch {
	case reportFile == "-":
		return io.ReadAll(os.Stdin)
	case reportFile != "":
		return os.ReadFile(reportFile)
	case len(args) == 1:
		return []byte(args[0]), nil
	default:
		return nil, errors.New("report body required: pass it as an argument or use --file")
	}
}
