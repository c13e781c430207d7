// Package main is the backtest worker binary. It serves both roles of
// the two-tier model: the user-facing entry point (--backtest) that may
// fan out to workers, and the spawned worker itself (--simulate) that
// runs one simulation and prints its result JSON to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/config"
	"github.com/meridianquant/backtester/internal/orchestrator"
	"github.com/meridianquant/backtester/internal/portfolio"
	"github.com/meridianquant/backtester/internal/progress"
	"github.com/meridianquant/backtester/internal/spawn"
	"github.com/meridianquant/backtester/internal/store"
	"github.com/meridianquant/backtester/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	simulate := flag.Bool("simulate", false, "Run one backtest from a JSON config file")
	backtest := flag.Bool("backtest", false, "Run a backtest from command line flags")
	testDB := flag.Bool("test-db", false, "Probe the price store and print a summary")
	status := flag.Bool("status", false, "Print portfolio status for a fresh book")

	configPath := flag.String("config", "", "Path to the JSON request file (with --simulate)")
	symbols := flag.String("symbol", "", "Comma-separated symbol list")
	start := flag.String("start", "", "Start date (YYYY-MM-DD)")
	end := flag.String("end", "", "End date (YYYY-MM-DD)")
	capital := flag.Float64("capital", 10000, "Starting capital")
	strategyName := flag.String("strategy", "ma_crossover", "Strategy (ma_crossover, rsi)")
	shortMA := flag.Int("short-ma", 20, "Short moving average period")
	longMA := flag.Int("long-ma", 50, "Long moving average period")
	rsiPeriod := flag.Int("rsi-period", 14, "RSI period")
	rsiOversold := flag.Float64("rsi-oversold", 30, "RSI oversold threshold")
	rsiOverbought := flag.Float64("rsi-overbought", 70, "RSI overbought threshold")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *simulate:
		return runSimulate(ctx, logger, *configPath)
	case *backtest:
		cfg := &types.TradingConfig{
			Symbols:         splitSymbols(*symbols),
			StartDate:       *start,
			EndDate:         *end,
			StartingCapital: decimal.NewFromFloat(*capital),
			StrategyName:    *strategyName,
			StrategyParams: map[string]any{
				"short_ma":       *shortMA,
				"long_ma":        *longMA,
				"rsi_period":     *rsiPeriod,
				"rsi_oversold":   *rsiOversold,
				"rsi_overbought": *rsiOverbought,
			},
		}
		return runBacktest(ctx, logger, cfg)
	case *testDB:
		return runTestDB(ctx, logger, splitSymbols(*symbols))
	case *status:
		return runStatus(logger)
	default:
		flag.Usage()
		return 1
	}
}

// runSimulate is the spawned-worker path: result JSON on stdout,
// progress and diagnostics on stderr.
func runSimulate(ctx context.Context, logger *zap.Logger, configPath string) int {
	if configPath == "" {
		return fail(logger, apperr.New(apperr.CodeConfigInvalid, "--simulate requires --config <path>"))
	}
	req, err := config.LoadRequest(configPath)
	if err != nil {
		return fail(logger, err)
	}
	if req.Cleanup {
		defer os.Remove(configPath)
	}

	ps, err := openStore(ctx, logger)
	if err != nil {
		return fail(logger, err)
	}

	orch := orchestrator.New(logger, ps, nil, types.DefaultAllocationConfig())
	orch.AttachProgress(progress.NewJSONSink(os.Stderr))

	result, err := orch.RunSimulation(ctx, req.Config)
	if err != nil {
		return fail(logger, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(types.NewResultDocument(result)); err != nil {
		return fail(logger, apperr.Wrap(apperr.CodeIOFailed, "cannot write result", err))
	}
	return 0
}

// runBacktest is the interactive path: the planner may fan the request
// out to worker processes running this same binary.
func runBacktest(ctx context.Context, logger *zap.Logger, cfg *types.TradingConfig) int {
	ps, err := openStore(ctx, logger)
	if err != nil {
		return fail(logger, err)
	}

	orch := orchestrator.New(logger, ps, selfSpawner(logger), types.DefaultAllocationConfig())
	orch.AttachProgress(progress.NewBarSink("backtest"))

	report, err := orch.Run(ctx, cfg)
	if err != nil {
		return fail(logger, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fail(logger, apperr.Wrap(apperr.CodeIOFailed, "cannot write report", err))
	}
	if !report.AllSuccessful {
		return 1
	}
	return 0
}

// runTestDB probes the store. An unreachable database is reported, not
// treated as a crash.
func runTestDB(ctx context.Context, logger *zap.Logger, symbols []string) int {
	probe := map[string]any{"status": "ok"}

	pgConfig := store.PostgresConfigFromEnv()
	if !pgConfig.Available() {
		probe["status"] = "unavailable"
		probe["error"] = string(apperr.CodeConnectionFailed)
		printJSON(probe)
		return 0
	}

	ps, err := store.NewPostgresStore(ctx, logger, pgConfig)
	if err != nil {
		probe["status"] = "unavailable"
		probe["error"] = err.Error()
		printJSON(probe)
		return 0
	}
	defer ps.Close()

	checks := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		exists, err := ps.CheckSymbolExists(ctx, symbol)
		if err != nil {
			logger.Warn("symbol probe failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		checks[symbol] = exists
	}
	if len(checks) > 0 {
		probe["symbols"] = checks
	}
	printJSON(probe)
	return 0
}

func runStatus(logger *zap.Logger) int {
	book := portfolio.New(decimal.NewFromInt(10_000))
	printJSON(map[string]any{
		"cash":            book.Cash(),
		"initial_capital": book.InitialCapital(),
		"positions":       book.Symbols(),
		"realized_pnl":    book.RealizedPnL(),
	})
	return 0
}

// openStore connects to Postgres using the DB_* environment variables.
func openStore(ctx context.Context, logger *zap.Logger) (store.PriceStore, error) {
	pgConfig := store.PostgresConfigFromEnv()
	if !pgConfig.Available() {
		return nil, apperr.New(apperr.CodeConnectionFailed, "price store not configured, set DB_HOST")
	}
	return store.NewPostgresStore(ctx, logger, pgConfig)
}

// selfSpawner builds a spawner that launches this same binary.
func selfSpawner(logger *zap.Logger) *spawn.Spawner {
	binary, err := os.Executable()
	if err != nil {
		logger.Warn("cannot resolve own binary, parallel plans run in-process", zap.Error(err))
		return nil
	}
	return spawn.NewSpawner(logger, binary, runtime.NumCPU())
}

// fail writes a single error document to stderr and maps to exit 1.
func fail(logger *zap.Logger, err error) int {
	logger.Error("request failed", zap.Error(err))
	doc := map[string]any{
		"error": map[string]any{
			"code":    string(apperr.CodeOf(err)),
			"message": err.Error(),
		},
	}
	raw, _ := json.Marshal(doc)
	fmt.Fprintln(os.Stderr, string(raw))
	return 1
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func splitSymbols(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(zapLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
		},
		// Stdout carries only result documents.
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
