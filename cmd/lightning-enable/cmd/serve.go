package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpx "github.com/lightning-enable/lightning-enable/internal/adapter/inbound/http"
	mcpx "github.com/lightning-enable/lightning-enable/internal/adapter/inbound/mcp"
	"github.com/lightning-enable/lightning-enable/internal/adapter/outbound/price"
	"github.com/lightning-enable/lightning-enable/internal/adapter/outbound/sqlite"
	"github.com/lightning-enable/lightning-enable/internal/adapter/outbound/wallet/lnd"
	"github.com/lightning-enable/lightning-enable/internal/adapter/outbound/wallet/nwc"
	"github.com/lightning-enable/lightning-enable/internal/adapter/outbound/wallet/opennode"
	"github.com/lightning-enable/lightning-enable/internal/adapter/outbound/wallet/strike"
	"github.com/lightning-enable/lightning-enable/internal/config"
	"github.com/lightning-enable/lightning-enable/internal/domain/wallet"
	"github.com/lightning-enable/lightning-enable/internal/l402"
	"github.com/lightning-enable/lightning-enable/internal/observability"
	"github.com/lightning-enable/lightning-enable/internal/port/outbound"
	"github.com/lightning-enable/lightning-enable/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server over stdio",
	Long: `Run the MCP server over stdio.

Stdout carries the MCP protocol; all logs go to stderr. Point an MCP
client (Claude Desktop, Cursor, ...) at this command:

  {
    "mcpServers": {
      "lightning": {
        "command": "lightning-enable",
        "args": ["serve"]
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	// Bootstrap logger for config loading. Stdout is the MCP transport,
	// so everything human-readable goes to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if cfgFile == "" {
		if path, err := config.EnsureDefaultFile(); err != nil {
			logger.Warn("could not write default config file", "error", err)
		} else {
			logger.Debug("default config ensured", "path", path)
		}
	}

	cfg, err := config.LoadConfig(logger)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg)

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	if used := config.ConfigFileUsed(); used != "" {
		logger.Info("loaded configuration", "path", used)
	} else {
		logger.Info("no config file found, using defaults and environment")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing, err := observability.New("lightning-enable", Version, cfg.Server.Trace, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}()

	var metricsSrv *httpx.MetricsServer
	if cfg.Server.MetricsAddr != "" {
		metricsSrv = httpx.NewMetricsServer(cfg.Server.MetricsAddr, logger)
		go func() {
			if err := metricsSrv.Start(ctx); err != nil {
				logger.Error("metrics server", "error", err)
			}
		}()
	}

	backends, strikeClient := buildBackends(cfg, logger)
	registry := service.NewWalletRegistry(backends, cfg.Wallets.Priority, logger)

	oracle := buildOracle(cfg, strikeClient, metricsSrv, logger)

	budget, err := service.NewBudgetService(cfg.Budget, cfg.Rules, oracle, logger)
	if err != nil {
		return fmt.Errorf("init budget engine: %w", err)
	}

	var store outbound.HistoryStore
	if cfg.History.Enabled {
		hs, err := sqlite.NewHistoryStore(cfg.History.Path)
		if err != nil {
			logger.Warn("payment history disabled", "path", cfg.History.Path, "error", err)
		} else {
			defer hs.Close()
			store = hs
		}
	}
	history := service.NewHistoryService(store, logger)

	payer := mcpx.NewGuardedPayer(registry, budget, history)
	l402Client := l402.NewClient(nil, payer, logger)

	opts := []mcpx.ServerOption{mcpx.WithTracer(tracing.Tracer())}
	if metricsSrv != nil {
		opts = append(opts, mcpx.WithMetrics(metricsSrv.Metrics()))
	}
	srv := mcpx.NewServer("lightning-enable", Version, registry, budget, history,
		oracle, l402Client, cfg.Budget, logger, opts...)

	logger.Info("starting MCP server on stdio",
		"version", Version,
		"wallets", registry.Configured(),
		"historyEnabled", store != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ServeStdio()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "signal")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	}
}

// buildBackends constructs every configured wallet backend. The strike
// client is returned separately so the price oracle can reuse its ticker.
func buildBackends(cfg *config.Config, logger *slog.Logger) ([]wallet.Backend, *strike.Client) {
	var backends []wallet.Backend
	var strikeClient *strike.Client

	if cfg.Wallets.LND.RESTURL != "" {
		backends = append(backends, lnd.NewClient(
			cfg.Wallets.LND.RESTURL,
			cfg.Wallets.LND.MacaroonHex,
			cfg.Wallets.LND.TLSInsecure,
			logger,
		))
	}
	if cfg.Wallets.NWC.ConnectionURI != "" {
		client, err := nwc.NewClient(cfg.Wallets.NWC.ConnectionURI, logger)
		if err != nil {
			logger.Warn("skipping nwc backend", "error", err)
		} else {
			backends = append(backends, client)
		}
	}
	if cfg.Wallets.Strike.APIKey != "" {
		strikeClient = strike.NewClient(cfg.Wallets.Strike.APIKey, cfg.Wallets.Strike.BaseURL, nil, logger)
		backends = append(backends, strikeClient)
	}
	if cfg.Wallets.OpenNode.APIKey != "" {
		backends = append(backends, opennode.NewClient(
			cfg.Wallets.OpenNode.APIKey,
			cfg.Wallets.OpenNode.BaseURL,
			nil,
			logger,
		))
	}
	return backends, strikeClient
}

// buildOracle wires the BTC/USD price sources. The wallet's own ticker is
// preferred when available since it reflects the rate payments settle at.
func buildOracle(cfg *config.Config, strikeClient *strike.Client, metricsSrv *httpx.MetricsServer, logger *slog.Logger) *price.Oracle {
	var sources []price.Source
	if strikeClient != nil {
		sources = append(sources, price.NewWalletTicker("strike", strikeClient))
	}
	sources = append(sources,
		price.NewCoinGecko(nil, ""),
		price.NewCoinbase(nil, ""),
	)

	ttl, err := time.ParseDuration(cfg.Price.CacheTTL)
	if err != nil {
		ttl = 5 * time.Minute
	}

	var opts []price.Option
	if metricsSrv != nil {
		opts = append(opts, price.WithFetchObserver(metricsSrv.Metrics().PriceFetchObserver()))
	}
	return price.NewOracle(sources, cfg.Price.FallbackUSD, ttl, logger, opts...)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyFlagOverrides(cfg *config.Config) {
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if metricsAddr != "" {
		cfg.Server.MetricsAddr = metricsAddr
	}
	if traceFlag {
		cfg.Server.Trace = true
	}
}
