// Package cmd provides the CLI commands for lightning-enable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lightning-enable/lightning-enable/internal/config"
)

var (
	cfgFile     string
	logLevel    string
	metricsAddr string
	traceFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "lightning-enable",
	Short: "lightning-enable - Lightning payments for AI agents, with guardrails",
	Long: `lightning-enable is an MCP server that lets AI agents pay Lightning
invoices through a budget authorization engine.

Every payment passes a tiered approval check: small amounts go through
silently, larger ones are logged or require explicit confirmation, and
anything over the hard caps is denied. Session spend, cooldowns, and
custom deny rules are enforced before a wallet backend is ever touched.

Quick start:
  1. Run once to create ~/.lightning-enable/config.json
  2. Add a wallet (NWC pairing URI, Strike/OpenNode API key, or LND REST)
  3. Point your MCP client at: lightning-enable serve

Configuration:
  Config is loaded from ./lightning-enable.json or ~/.lightning-enable/config.json.
  Environment variables override config values with the LIGHTNING_ENABLE_ prefix.
  Example: LIGHTNING_ENABLE_BUDGET_MAXPERSESSIONUSD=50

Commands:
  serve            Run the MCP server over stdio
  hash-passphrase  Generate the argon2id hash for the session reset passphrase
  version          Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.lightning-enable/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&traceFlag, "trace", false, "export OpenTelemetry traces to stderr")
}

func initConfig() {
	config.InitViper(cfgFile)
}
