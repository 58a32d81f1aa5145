package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futures-quotefeed/internal/api"
	"futures-quotefeed/internal/app"
	"futures-quotefeed/internal/config"
	"futures-quotefeed/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagInput           string
	flagListen          string
	flagMetricsAddr     string
	flagRedisAddr       string
	flagLegacy          bool
	flagVerbose         bool
	flagSummaryInterval time.Duration
	flagThresholdPct    float64
	flagCooldown        time.Duration
	flagReapInterval    time.Duration
	flagMaxQuoteAge     time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "quotefeed",
		Short: "Real-time crypto futures price aggregator",
		Long: "quotefeed connects to eleven futures venues, normalizes their price\n" +
			"streams into one book, and surfaces cross-venue arbitrage spreads over\n" +
			"HTTP, websocket, Prometheus, and optionally Redis.",
		RunE: run,
	}

	root.Flags().StringVarP(&flagInput, "input", "i", config.Getenv("QUOTEFEED_INPUT", ""),
		"instrument file (CSV with exchange,symbol or JSON)")
	root.Flags().StringVar(&flagListen, "listen", config.Getenv("QUOTEFEED_LISTEN", ":8000"),
		"API listen address")
	root.Flags().StringVar(&flagMetricsAddr, "metrics-addr", config.Getenv("QUOTEFEED_METRICS", ":9090"),
		"Prometheus listen address")
	root.Flags().StringVar(&flagRedisAddr, "redis", config.Getenv("REDIS_ADDR", ""),
		"Redis address for the quote mirror (empty disables)")
	root.Flags().BoolVar(&flagLegacy, "legacy", false,
		"key book entries by native ticker instead of display symbol")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	root.Flags().DurationVar(&flagSummaryInterval, "summary-interval", time.Minute,
		"interval between book summary log lines (0 disables)")
	root.Flags().Float64Var(&flagThresholdPct, "threshold", 0.1,
		"minimum spread percentage for arbitrage alerts")
	root.Flags().DurationVar(&flagCooldown, "cooldown", 5*time.Minute,
		"minimum gap between arbitrage alerts per symbol")
	root.Flags().DurationVar(&flagReapInterval, "reap-interval", time.Minute,
		"staleness reaper interval")
	root.Flags().DurationVar(&flagMaxQuoteAge, "max-quote-age", 5*time.Minute,
		"quote age beyond which entries are evicted")
	root.MarkFlagRequired("input")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if flagVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("input", flagInput).
		Str("listen", flagListen).
		Str("metrics", flagMetricsAddr).
		Bool("legacy", flagLegacy).
		Msg("Starting quote feed")

	metricsServer := metrics.NewServer(flagMetricsAddr)
	go func() {
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()
	defer metricsServer.Stop()

	core := app.New(app.Options{
		ConfigPath:      flagInput,
		LegacyMode:      flagLegacy,
		RedisAddr:       flagRedisAddr,
		ThresholdPct:    flagThresholdPct,
		Cooldown:        flagCooldown,
		ReapInterval:    flagReapInterval,
		MaxQuoteAge:     flagMaxQuoteAge,
		SummaryInterval: flagSummaryInterval,
	})
	if err := core.Start(cmd.Context()); err != nil {
		return err
	}
	defer core.Stop()

	apiServer := api.NewServer(flagListen, core)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("API server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API server shutdown error")
	}
	return nil
}
