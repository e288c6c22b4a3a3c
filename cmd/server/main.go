package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/kotomo/service/config"
	"github.com/brojonat/kotomo/service/ledger"
	"github.com/brojonat/kotomo/service/ledgertest"
	"github.com/brojonat/kotomo/service/metrics"
	natspkg "github.com/brojonat/kotomo/service/nats"
	"github.com/brojonat/kotomo/service/server"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load and validate configuration; this fails fast if anything required
	// is missing or invalid.
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"ledger_url", cfg.LedgerURL,
		"canister", cfg.LedgerCanisterID,
		"wallet", cfg.WalletPrincipal,
	)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.NewMetrics(prometheus.DefaultRegisterer)
	}

	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithMetrics(m, cfg.LedgerCanisterID),
		ledger.WithHistoryPageSize(uint64(cfg.HistoryPageSize)),
	}

	// Event publishing and streaming are optional
	var streamer *server.EventStreamer
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Error("failed to connect publisher to NATS", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		opts = append(opts, ledger.WithObserver(natspkg.NewObserver(publisher, logger)))

		streamer, err = server.NewEventStreamer(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect event streamer to NATS", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	wallet := ledger.NewClient(newLedgerService(cfg, logger), cfg.Wallet(), opts...)

	// Warm the token info cache; a failure here is not fatal since the
	// ledger may come up after us.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.LedgerRequestTimeout)
	if info, err := wallet.TokenInfo(warmCtx); err != nil {
		logger.Warn("failed to load token info", "error", err)
	} else {
		logger.Info("loaded token info", "symbol", info.Symbol, "decimals", info.Decimals, "fee", info.Format(info.Fee))
	}
	warmCancel()

	httpServer := server.New(cfg.ServerAddr, wallet, streamer, m, logger)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// loadConfig reads CONFIG_FILE when set, the demo defaults when KOTOMO_DEMO
// is true, and the environment otherwise.
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return config.LoadFile(path)
	}
	if demo, _ := strconv.ParseBool(os.Getenv("KOTOMO_DEMO")); demo {
		return config.LoadDemo()
	}
	return config.Load()
}

// newLedgerService returns the gateway-backed ledger, or a seeded in-memory
// ledger when the config points at memory://.
func newLedgerService(cfg *config.Config, logger *slog.Logger) ledger.Service {
	if cfg.IsDemo() {
		logger.Warn("using in-memory demo ledger; balances are not persisted")
		l := ledgertest.New()
		l.Mint(ledger.FromIdentity(cfg.Wallet()), ledger.NewAmount(100_000_000_000), []byte("demo airdrop"))
		return l.As(cfg.Wallet())
	}

	rpcOpts := []ledger.RPCOption{
		ledger.WithHTTPClient(&http.Client{Timeout: cfg.LedgerRequestTimeout}),
	}
	if cfg.LedgerAPIKey != "" {
		rpcOpts = append(rpcOpts, ledger.WithBearerToken(cfg.LedgerAPIKey))
	}
	return ledger.NewRPCService(cfg.LedgerURL, cfg.CanisterID(), rpcOpts...)
}

// setupLogger creates a structured logger. Text output is colorized for
// terminals; JSON is the default for production.
func setupLogger(w io.Writer, levelStr, format string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if strings.ToLower(format) == "text" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
