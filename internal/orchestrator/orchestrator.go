// Package orchestrator is the request-level entry point: it validates a
// trading config, plans the execution, and either drives one simulation
// in-process or fans out to worker processes and merges their results.
package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/config"
	"github.com/meridianquant/backtester/internal/planner"
	"github.com/meridianquant/backtester/internal/progress"
	"github.com/meridianquant/backtester/internal/simulation"
	"github.com/meridianquant/backtester/internal/spawn"
	"github.com/meridianquant/backtester/internal/store"
	"github.com/meridianquant/backtester/pkg/types"
)

// Aggregate merges the per-group outcomes of a parallel run. Each group
// simulates with the full starting capital on its symbol subset, so the
// aggregate capital is the sum over groups.
type Aggregate struct {
	StartingCapital decimal.Decimal `json:"starting_capital"`
	EndingValue     decimal.Decimal `json:"ending_value"`
	TotalReturnPct  float64         `json:"total_return_pct"`
	TotalTrades     int             `json:"total_trades"`
	WorkersUsed     int             `json:"workers_used"`
}

// RunReport is the orchestrator's answer to one request.
type RunReport struct {
	Mode          types.ExecutionMode   `json:"mode"`
	Plan          *types.ExecutionPlan  `json:"plan"`
	Result        *types.BacktestResult `json:"result,omitempty"`
	Workers       []*types.WorkerResult `json:"workers,omitempty"`
	Aggregate     *Aggregate            `json:"aggregate,omitempty"`
	AllSuccessful bool                  `json:"all_successful"`
	ElapsedMs     int64                 `json:"elapsed_ms"`
}

// Orchestrator coordinates planning, simulation and worker dispatch.
type Orchestrator struct {
	logger       *zap.Logger
	store        store.PriceStore
	planner      *planner.Planner
	spawner      *spawn.Spawner
	allocConfig  types.AllocationConfig
	progressSink progress.Sink
}

// New creates an orchestrator. The spawner may be nil, in which case
// parallelisable requests are executed sequentially in-process.
func New(logger *zap.Logger, ps store.PriceStore, spawner *spawn.Spawner, allocConfig types.AllocationConfig) *Orchestrator {
	return &Orchestrator{
		logger:      logger,
		store:       ps,
		planner:     planner.New(logger),
		spawner:     spawner,
		allocConfig: allocConfig,
	}
}

// AttachProgress routes simulation progress through the given sink.
func (o *Orchestrator) AttachProgress(sink progress.Sink) { o.progressSink = sink }

// Run executes one request end to end. The first fatal error aborts the
// request; partial results are never returned.
func (o *Orchestrator) Run(ctx context.Context, cfg *types.TradingConfig) (*RunReport, error) {
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	plan, err := o.planner.CreatePlan(cfg)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	var report *RunReport
	if plan.Mode == types.ModeParallel && o.spawner != nil {
		report, err = o.runParallel(ctx, plan)
	} else {
		report, err = o.runSequential(ctx, cfg, plan)
	}
	if err != nil {
		return nil, err
	}
	report.ElapsedMs = time.Since(started).Milliseconds()
	return report, nil
}

// RunSimulation drives one simulation loop in-process. This is the path
// the worker binary takes for --simulate.
func (o *Orchestrator) RunSimulation(ctx context.Context, cfg *types.TradingConfig) (*types.BacktestResult, error) {
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	loop := simulation.New(o.logger, o.store, o.allocConfig)
	if o.progressSink != nil {
		loop.Progress().Attach(o.progressSink)
	}
	return loop.Run(ctx, cfg)
}

func (o *Orchestrator) runSequential(ctx context.Context, cfg *types.TradingConfig, plan *types.ExecutionPlan) (*RunReport, error) {
	loop := simulation.New(o.logger, o.store, o.allocConfig)
	if o.progressSink != nil {
		loop.Progress().Attach(o.progressSink)
	}
	result, err := loop.Run(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RunReport{
		Mode:          types.ModeSequential,
		Plan:          plan,
		Result:        result,
		AllSuccessful: true,
	}, nil
}

func (o *Orchestrator) runParallel(ctx context.Context, plan *types.ExecutionPlan) (*RunReport, error) {
	o.logger.Info("dispatching workers",
		zap.Int("workers", len(plan.WorkerConfigs)),
		zap.Float64("estimated_speedup", plan.ParallelSpeedup))

	workers := o.spawner.SpawnParallel(ctx, plan.WorkerConfigs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &RunReport{
		Mode:          types.ModeParallel,
		Plan:          plan,
		Workers:       workers,
		AllSuccessful: true,
	}

	agg := &Aggregate{WorkersUsed: len(workers)}
	for _, w := range workers {
		if w.ReturnCode != 0 {
			report.AllSuccessful = false
			o.logger.Error("worker failed",
				zap.Strings("symbols", w.Symbols),
				zap.Int("return_code", w.ReturnCode),
				zap.Bool("timed_out", w.TimedOut))
			continue
		}
		if w.Result == nil {
			report.AllSuccessful = false
			continue
		}
		agg.StartingCapital = agg.StartingCapital.Add(decimal.NewFromFloat(w.Result.StartingCapital))
		agg.EndingValue = agg.EndingValue.Add(decimal.NewFromFloat(w.Result.EndingValue))
		agg.TotalTrades += w.Result.Trades
	}
	if agg.StartingCapital.Sign() > 0 {
		agg.TotalReturnPct = agg.EndingValue.Sub(agg.StartingCapital).
			Div(agg.StartingCapital).InexactFloat64() * 100
	}
	report.Aggregate = agg

	if !report.AllSuccessful && agg.StartingCapital.Sign() == 0 {
		return nil, apperr.New(apperr.CodeWorkerFailed, "every worker failed")
	}
	return report, nil
}
