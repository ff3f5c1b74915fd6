// Command qsecd runs the QSec node and talks to it.
//
//	qsecd serve --config qsec.yaml
//	qsecd exchange --photons 2000
//	qsecd report --subject case-1 --file report.txt
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/QSec/qsec/config"
	"github.com/TheusHen/QSec/qsec/logging"
)

var (
	configPath string
	remoteAddr string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "qsecd",
	Short: "QSec node: simulated QKD, hybrid encryption and a PoW audit ledger",
	Long: `qsecd serves the QSec core over QUIC and offers client commands
for the same operations.

All cryptography here is simulated or demonstrative. It is not a
substitute for audited post-quantum primitives.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&remoteAddr, "remote", "", "qsecd address; client commands run locally when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level")

	rootCmd.AddCommand(serveCmd, exchangeCmd, keygenCmd, reportCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, log, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
