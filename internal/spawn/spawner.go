// Package spawn launches worker processes, one symbol group each, and
// collects their output. Workers share nothing; coordination is by
// config file, pipes and exit code.
package spawn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/config"
	"github.com/meridianquant/backtester/pkg/types"
)

// DefaultTimeout is the per-worker wall clock limit.
const DefaultTimeout = 300 * time.Second

// shellNotFoundCode is the shell's exit code when the binary cannot be
// launched.
const shellNotFoundCode = 127

// Spawner launches and supervises worker processes.
type Spawner struct {
	logger     *zap.Logger
	binary     string
	timeout    time.Duration
	maxWorkers int
	tempDir    string
}

// NewSpawner creates a spawner for the given worker binary.
func NewSpawner(logger *zap.Logger, binary string, maxWorkers int) *Spawner {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Spawner{
		logger:     logger,
		binary:     binary,
		timeout:    DefaultTimeout,
		maxWorkers: maxWorkers,
		tempDir:    os.TempDir(),
	}
}

// SetTimeout overrides the per-worker timeout. Non-positive values are
// ignored.
func (s *Spawner) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Spawn runs one worker to completion and reports its outcome. The
// returned result always carries the symbol group, even on failure.
func (s *Spawner) Spawn(ctx context.Context, cfg *types.TradingConfig) *types.WorkerResult {
	result := &types.WorkerResult{
		Symbols: append([]string(nil), cfg.Symbols...),
	}

	path, err := s.writeConfigFile(cfg)
	if err != nil {
		result.ReturnCode = -1
		result.Stderr = err.Error()
		return result
	}
	// The worker deletes the file itself (cleanup=true); deleting here
	// too would race with it.

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c",
		fmt.Sprintf("%s --simulate --config %s", s.binary, path))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	result.ExecutionTimeMs = time.Since(started).Milliseconds()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ReturnCode = -1
		s.logger.Warn("worker timed out",
			zap.Strings("symbols", result.Symbols),
			zap.Duration("timeout", s.timeout))
	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
		} else {
			result.ReturnCode = -1
			result.Stderr += "\n" + runErr.Error()
		}
		if result.ReturnCode == shellNotFoundCode {
			s.logger.Error("worker binary could not be launched",
				zap.String("binary", s.binary))
		}
	default:
		result.ReturnCode = 0
	}

	if result.ReturnCode == 0 {
		var doc types.ResultDocument
		if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
			s.logger.Warn("worker stdout is not a result document",
				zap.Strings("symbols", result.Symbols),
				zap.Error(err))
		} else {
			result.Result = &doc
		}
	}

	s.logger.Info("worker finished",
		zap.Strings("symbols", result.Symbols),
		zap.Int("return_code", result.ReturnCode),
		zap.Int64("elapsed_ms", result.ExecutionTimeMs))
	return result
}

// SpawnParallel runs the configs with at most maxWorkers in flight.
// Results are returned in input order.
func (s *Spawner) SpawnParallel(ctx context.Context, configs []*types.TradingConfig) []*types.WorkerResult {
	results := make([]*types.WorkerResult, len(configs))
	sem := make(chan struct{}, s.maxWorkers)
	var wg sync.WaitGroup

	for i, cfg := range configs {
		if err := ctx.Err(); err != nil {
			results[i] = &types.WorkerResult{
				Symbols:    append([]string(nil), cfg.Symbols...),
				ReturnCode: -1,
				Stderr:     err.Error(),
			}
			continue
		}
		wg.Add(1)
		go func(i int, cfg *types.TradingConfig) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.Spawn(ctx, cfg)
		}(i, cfg)
	}
	wg.Wait()
	return results
}

// writeConfigFile serialises the worker request to a UUID-suffixed
// temporary path with cleanup enabled.
func (s *Spawner) writeConfigFile(cfg *types.TradingConfig) (string, error) {
	doc, err := config.MarshalRequest(cfg, true)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeParsingFailed, "cannot serialise worker config", err)
	}
	path := filepath.Join(s.tempDir, fmt.Sprintf("backtest_config_%s.json", uuid.NewString()))
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		return "", apperr.Wrap(apperr.CodeSpawnFailed, "cannot write worker config", err)
	}
	return path, nil
}
