// Command ledgerlens recomputes wallet P&L results from the indexer mirror and
// emits them as JSON lines.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/coachpo/ledgerlens/internal/infra/cache"
	"github.com/coachpo/ledgerlens/internal/infra/config"
	"github.com/coachpo/ledgerlens/internal/infra/persistence/postgres"
	"github.com/coachpo/ledgerlens/internal/service"
	"github.com/coachpo/ledgerlens/internal/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	flags := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	if err := run(ctx, flags); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerlens: %v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath  string
	wallets     string
	walletsFile string
}

func parseFlags() cliFlags {
	var flags cliFlags
	flag.StringVar(&flags.configPath, "config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.StringVar(&flags.wallets, "wallets", "", "Comma-separated wallet addresses to compute")
	flag.StringVar(&flags.walletsFile, "wallets-file", "", "File with one wallet address per line")
	flag.Parse()
	return flags
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func run(ctx context.Context, flags cliFlags) error {
	configPath := flags.configPath
	if configPath == "" {
		configPath = filepath.Clean(defaultConfigPath)
	}
	appCfg, err := config.Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(appCfg.Logging.Level)
	if err != nil {
		return err
	}

	wallets, err := collectWallets(flags)
	if err != nil {
		return err
	}
	if len(wallets) == 0 {
		return fmt.Errorf("no wallets given: use -wallets or -wallets-file")
	}

	telemetryProvider, err := initTelemetry(ctx, appCfg)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shutdownCancel()
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	pool, err := newDatabasePool(ctx, appCfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	eventStore := postgres.NewEventStore(pool)
	marketStore := postgres.NewMarketStore(pool)

	opts := []service.Option{
		service.WithMetrics(telemetry.NewEngineMetrics()),
	}
	if appCfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: appCfg.Redis.Addr, DB: appCfg.Redis.DB})
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn().Err(err).Msg("redis close failed")
			}
		}()
		opts = append(opts, service.WithCache(cache.NewResultCache(client, appCfg.Redis.TTL)))
		logger.Info().Str("addr", appCfg.Redis.Addr).Dur("ttl", appCfg.Redis.TTL).Msg("result cache enabled")
	}

	svc := service.New(
		service.Sources{Events: eventStore, Tokens: marketStore, Resolutions: marketStore, Marks: marketStore},
		service.Config{
			Workers:         appCfg.Engine.WorkerCount(),
			AmountScale:     appCfg.Engine.AmountScale,
			FetchTimeout:    appCfg.Engine.FetchTimeout,
			FetchRate:       appCfg.Engine.FetchRate,
			FetchBurst:      appCfg.Engine.FetchBurst,
			RetryMaxElapsed: appCfg.Engine.RetryMaxElapsed,
		},
		logger,
		opts...,
	)

	logger.Info().
		Str("environment", string(appCfg.Environment)).
		Int("wallets", len(wallets)).
		Int("workers", appCfg.Engine.WorkerCount()).
		Msg("reconciliation run starting")

	items := svc.ComputeBatch(ctx, wallets)
	if err := emitResults(os.Stdout, items); err != nil {
		return err
	}

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d wallets failed", failed, len(wallets))
	}
	return nil
}

func newLogger(level string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse log level: %w", err)
	}
	return zerolog.New(os.Stderr).Level(parsed).With().Timestamp().Logger(), nil
}

func initTelemetry(ctx context.Context, appCfg config.AppConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Enabled = appCfg.Telemetry.Enabled
	if appCfg.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = appCfg.Telemetry.OTLPEndpoint
	}
	if appCfg.Telemetry.ServiceName != "" {
		telemetryCfg.ServiceName = appCfg.Telemetry.ServiceName
	}
	telemetryCfg.OTLPInsecure = appCfg.Telemetry.OTLPInsecure
	telemetryCfg.Environment = string(appCfg.Environment)
	return telemetry.NewProvider(ctx, telemetryCfg)
}

func newDatabasePool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

func collectWallets(flags cliFlags) ([]string, error) {
	seen := make(map[string]struct{})
	var wallets []string
	add := func(raw string) {
		wallet := strings.ToLower(strings.TrimSpace(raw))
		if wallet == "" {
			return
		}
		if _, ok := seen[wallet]; ok {
			return
		}
		seen[wallet] = struct{}{}
		wallets = append(wallets, wallet)
	}

	for _, wallet := range strings.Split(flags.wallets, ",") {
		add(wallet)
	}
	if flags.walletsFile != "" {
		file, err := os.Open(flags.walletsFile) // #nosec G304 -- path is operator controlled.
		if err != nil {
			return nil, fmt.Errorf("open wallets file: %w", err)
		}
		defer func() { _ = file.Close() }()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			add(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read wallets file: %w", err)
		}
	}
	return wallets, nil
}

// batchError is the JSON shape emitted for a wallet whose computation failed.
type batchError struct {
	Wallet string `json:"wallet"`
	Error  string `json:"error"`
}

func emitResults(out *os.File, items []service.BatchItem) error {
	writer := bufio.NewWriter(out)
	encoder := json.NewEncoder(writer)
	for _, item := range items {
		var payload any
		if item.Err != nil {
			payload = batchError{Wallet: item.Wallet, Error: item.Err.Error()}
		} else {
			payload = item.Result
		}
		if err := encoder.Encode(payload); err != nil {
			return fmt.Errorf("encode result for %s: %w", item.Wallet, err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}
	return nil
}
