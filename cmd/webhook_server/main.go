package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal_bridge/internal/alert"
	"signal_bridge/internal/config"
	"signal_bridge/internal/dedup"
	"signal_bridge/internal/engine"
	"signal_bridge/internal/exchange"
	"signal_bridge/internal/exchange/binance"
	"signal_bridge/internal/health"
	"signal_bridge/internal/logging"
	"signal_bridge/internal/server"

	"golang.org/x/sync/errgroup"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/webhook_server.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("webhook_server version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting webhook_server",
		"version", version,
		"port", cfg.Server.Port,
		"testnet", cfg.Exchange.Testnet,
	)

	snapshots := exchange.NewSnapshotStore(cfg.PositionCacheTTLDuration())
	gateway := binance.NewGateway(&cfg.Exchange, snapshots, logger)

	// Startup probe: confirm the credentials work and log the quote
	// balance. Failure is worth knowing about but not fatal.
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 10*time.Second)
	if bal, err := gateway.GetBalance(probeCtx, "USDT"); err != nil {
		logger.Warn("Exchange balance probe failed", "error", err)
	} else {
		logger.Info("Exchange client initialized", "usdt_balance", bal)
	}
	cancelProbe()

	healthMgr := health.NewManager(logger)
	healthMgr.Register("exchange", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return gateway.Ping(ctx)
	})

	notifier := alert.NewManager(logger)
	if cfg.Telegram.Enabled() {
		telegram := alert.NewTelegramChannel(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		notifier.AddChannel(telegram)
		healthMgr.Register("notifier", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return telegram.Ping(ctx)
		})
	} else {
		logger.Warn("Telegram not configured, notifications disabled")
	}
	defer notifier.Close()

	deduplicator := dedup.New(cfg.DedupRetentionDuration(), cfg.RapidDuplicateWindowDuration())
	eng := engine.New(gateway, notifier, logger, cfg.CloseWaitTimeoutDuration(), cfg.PollIntervalDuration())

	srv := server.NewServer(cfg.Server, eng, deduplicator, gateway, snapshots, healthMgr, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Shut down gracefully")
}
