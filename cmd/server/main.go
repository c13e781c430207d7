// Package main is the API server binary. It exposes the backtest
// orchestrator over HTTP and WebSocket and serves Prometheus metrics.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridianquant/backtester/internal/api"
	"github.com/meridianquant/backtester/internal/orchestrator"
	"github.com/meridianquant/backtester/internal/spawn"
	"github.com/meridianquant/backtester/internal/store"
	"github.com/meridianquant/backtester/pkg/types"
)

func main() {
	host := flag.String("host", "localhost", "Server host")
	port := flag.Int("port", 8080, "Server port")
	workerBinary := flag.String("worker", "", "Path to the worker binary (empty disables fan-out)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgConfig := store.PostgresConfigFromEnv()
	if !pgConfig.Available() {
		logger.Fatal("price store not configured, set DB_HOST")
	}
	ps, err := store.NewPostgresStore(ctx, logger, pgConfig)
	if err != nil {
		logger.Fatal("cannot connect to price store", zap.Error(err))
	}
	defer ps.Close()

	var spawner *spawn.Spawner
	if *workerBinary != "" {
		spawner = spawn.NewSpawner(logger, *workerBinary, runtime.NumCPU())
	}

	orch := orchestrator.New(logger, ps, spawner, types.DefaultAllocationConfig())

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = *host
	serverConfig.Port = *port
	server := api.NewServer(logger, serverConfig, orch)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
			sigChan <- syscall.SIGTERM
		}
	}()

	logger.Info("server started",
		zap.String("host", *host),
		zap.Int("port", *port),
		zap.Bool("worker_fanout", spawner != nil))

	<-sigChan
	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
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
			CallerKey:      "caller",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
