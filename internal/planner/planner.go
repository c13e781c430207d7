// Package planner decides whether a request runs in one process or is
// split across parallel workers, and how the symbols are grouped.
package planner

import (
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/pkg/types"
)

// Complexity bucket boundaries in total complexity units.
const (
	lowCeiling    = 5_000
	mediumCeiling = 25_000
	highCeiling   = 100_000
)

// amdahlParallelFraction is the share of the workload assumed to
// parallelise across workers.
const amdahlParallelFraction = 0.8

// complexityPerSecond converts complexity units to an estimated wall
// second.
const complexityPerSecond = 1000.0

// strategyMultipliers weight the per-bar cost of each strategy.
var strategyMultipliers = map[string]float64{
	"ma_crossover":    1.0,
	"rsi":             1.2,
	"bollinger_bands": 1.5,
}

// Planner produces execution plans.
type Planner struct {
	logger *zap.Logger
}

// New creates a planner.
func New(logger *zap.Logger) *Planner {
	return &Planner{logger: logger}
}

// AnalyzeComplexity scores a request and recommends a worker count.
func (p *Planner) AnalyzeComplexity(config *types.TradingConfig) (*types.ComplexityAnalysis, error) {
	start, err := types.ParseDate(config.StartDate)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidDateRange, "bad start date", err)
	}
	end, err := types.ParseDate(config.EndDate)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidDateRange, "bad end date", err)
	}
	if end.Before(start) {
		return nil, apperr.Newf(apperr.CodeInvalidDateRange, "end date %s before start date %s", config.EndDate, config.StartDate)
	}

	days := int(end.Sub(start).Hours() / 24)
	base := float64(len(config.Symbols) * days)

	stratMult, ok := strategyMultipliers[config.StrategyName]
	if !ok {
		stratMult = 1.0
	}
	marketMult := 1.0
	if days > 365 {
		marketMult = 1.2
	}

	analysis := &types.ComplexityAnalysis{
		SymbolsCount:       len(config.Symbols),
		DateRangeDays:      days,
		BaseComplexity:     base,
		StrategyMultiplier: stratMult,
		MarketMultiplier:   marketMult,
		TotalComplexity:    base * stratMult * marketMult,
	}

	switch {
	case analysis.TotalComplexity < lowCeiling:
		analysis.Category = types.ComplexityLow
		analysis.RecommendedWorkers = 1
	case analysis.TotalComplexity < mediumCeiling:
		analysis.Category = types.ComplexityMedium
		analysis.RecommendedWorkers = 2
	case analysis.TotalComplexity < highCeiling:
		analysis.Category = types.ComplexityHigh
		analysis.RecommendedWorkers = 4
	default:
		analysis.Category = types.ComplexityExtreme
		analysis.RecommendedWorkers = 8
	}
	analysis.ShouldUseParallel = analysis.Category != types.ComplexityLow && analysis.SymbolsCount >= 2

	return analysis, nil
}

// CreatePlan decomposes a request into worker configurations.
func (p *Planner) CreatePlan(config *types.TradingConfig) (*types.ExecutionPlan, error) {
	analysis, err := p.AnalyzeComplexity(config)
	if err != nil {
		return nil, err
	}

	baseTime := analysis.TotalComplexity / complexityPerSecond

	if !analysis.ShouldUseParallel {
		p.logger.Info("sequential plan",
			zap.String("category", string(analysis.Category)),
			zap.Int("symbols", analysis.SymbolsCount))
		return &types.ExecutionPlan{
			Mode:            types.ModeSequential,
			Complexity:      *analysis,
			WorkerConfigs:   []*types.TradingConfig{config.Clone()},
			EstimatedTimeS:  baseTime,
			ParallelSpeedup: 1.0,
		}, nil
	}

	groups := groupSymbols(config.Symbols, analysis.RecommendedWorkers)
	configs := make([]*types.TradingConfig, 0, len(groups))
	for _, group := range groups {
		wc := config.Clone()
		wc.Symbols = group
		configs = append(configs, wc)
	}

	n := float64(len(configs))
	speedup := 1.0 / ((1.0 - amdahlParallelFraction) + amdahlParallelFraction/n)

	p.logger.Info("parallel plan",
		zap.String("category", string(analysis.Category)),
		zap.Int("workers", len(configs)),
		zap.Float64("estimated_speedup", speedup))

	return &types.ExecutionPlan{
		Mode:            types.ModeParallel,
		Complexity:      *analysis,
		WorkerConfigs:   configs,
		EstimatedTimeS:  baseTime / speedup,
		ParallelSpeedup: speedup,
	}, nil
}

// groupSymbols distributes symbols round-robin into at most n balanced
// groups, preserving request order; empty groups are pruned.
func groupSymbols(symbols []string, n int) [][]string {
	groups := make([][]string, n)
	for i, symbol := range symbols {
		groups[i%n] = append(groups[i%n], symbol)
	}
	out := groups[:0]
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}
