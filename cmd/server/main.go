package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/fractal-balances/internal/application"
	"github.com/eugenenazirov/fractal-balances/internal/config"
	"github.com/eugenenazirov/fractal-balances/internal/logging"
	"github.com/eugenenazirov/fractal-balances/internal/tracker"
)

var signalNotify = signal.Notify

// stopper is the part of the application the shutdown path depends on.
type stopper interface {
	Stop(ctx context.Context) error
}

func main() {
	kingpinApp := kingpin.New("fractal-balances", "Fractal Bitcoin balance tracker - dashboard for a list of addresses")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	addressesFile := kingpinApp.Flag("addresses-file", "JSON file holding the tracked addresses").String()
	refreshInterval := kingpinApp.Flag("refresh-interval", "Interval between balance refreshes").Duration()
	historyDB := kingpinApp.Flag("history-db", "SQLite database for balance history (empty keeps history in memory)").String()
	publicDir := kingpinApp.Flag("public-dir", "Directory the snapshot command writes into").String()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	serveCmd := kingpinApp.Command("serve", "Run the dashboard server").Default()
	snapshotCmd := kingpinApp.Command("snapshot", "Fetch balances once and write a static dashboard")
	snapshotOut := snapshotCmd.Flag("out", "Output directory (defaults to the configured public dir)").String()

	command := kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
	}
	if *port != "" {
		overrides.Port = port
	}
	if *addressesFile != "" {
		overrides.AddressesFile = addressesFile
	}
	if *refreshInterval > 0 {
		overrides.RefreshInterval = refreshInterval
	}
	if *historyDB != "" {
		overrides.HistoryDB = historyDB
	}
	if *publicDir != "" {
		overrides.PublicDir = publicDir
	}
	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}
	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}
	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.Background()
	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	switch command {
	case snapshotCmd.FullCommand():
		if err := runSnapshot(ctx, app, *snapshotOut, logger); err != nil {
			logger.Error("snapshot failed", zap.Error(err))
			_ = logger.Sync()
			os.Exit(1)
		}
	case serveCmd.FullCommand():
		if err := app.Start(ctx); err != nil {
			logger.Fatal("failed to start server", zap.Error(err))
		}
		shutdown(app, cfg.ShutdownGracePeriod, logger)
	}
}

// snapshotter is the part of the application the snapshot command depends on.
type snapshotter interface {
	ExportSnapshot(ctx context.Context, dir string) (tracker.Snapshot, error)
	Close() error
}

// runSnapshot exports one snapshot and always releases the application,
// so the history database is closed before the process exits.
func runSnapshot(ctx context.Context, app snapshotter, out string, logger *zap.Logger) error {
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("close application", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err := app.ExportSnapshot(ctx, out)
	return err
}

func shutdown(app stopper, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Stop(ctx); err != nil {
		logger.Error("shutdown finished with errors", zap.Error(err))
	}
}
