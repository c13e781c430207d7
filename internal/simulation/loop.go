// Package simulation drives a single backtest over a unified multi
// symbol timeline. The loop owns the portfolio and every service it
// touches; no synchronisation is needed inside one run.
package simulation

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/allocation"
	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/data"
	"github.com/meridianquant/backtester/internal/execution"
	"github.com/meridianquant/backtester/internal/portfolio"
	"github.com/meridianquant/backtester/internal/progress"
	"github.com/meridianquant/backtester/internal/results"
	"github.com/meridianquant/backtester/internal/store"
	"github.com/meridianquant/backtester/internal/strategy"
	"github.com/meridianquant/backtester/pkg/types"
)

// rebalanceCheckStride is how often (in timeline days) the loop asks the
// allocator whether a rebalance is due.
const rebalanceCheckStride = 50

// delistedFloorPrice clears a forced sale when no market price is known.
var delistedFloorPrice = decimal.NewFromFloat(0.01)

// Loop wires the service set for one simulation run.
type Loop struct {
	logger     *zap.Logger
	store      store.PriceStore
	processor  *data.Processor
	strategies *strategy.Manager
	allocator  *allocation.Allocator
	execution  *execution.Service
	progress   *progress.Reporter
	calculator *results.Calculator
}

// New assembles a simulation loop around a price store. The allocator
// is fresh per loop because it accumulates per-run price history.
func New(logger *zap.Logger, ps store.PriceStore, allocConfig types.AllocationConfig) *Loop {
	return &Loop{
		logger:     logger,
		store:      ps,
		processor:  data.NewProcessor(logger),
		strategies: strategy.NewManager(logger),
		allocator:  allocation.New(logger, allocConfig),
		execution:  execution.NewService(logger),
		progress:   progress.NewReporter(logger),
		calculator: results.NewCalculator(logger),
	}
}

// Progress exposes the reporter so callers can attach a sink.
func (l *Loop) Progress() *progress.Reporter { return l.progress }

// Run executes the full simulation. Cancellation is observed at day
// boundaries; a cancelled run returns the context error together with
// the partial result built so far.
func (l *Loop) Run(ctx context.Context, config *types.TradingConfig) (*types.BacktestResult, error) {
	strat, err := l.strategies.Create(config.StrategyName, config.StrategyParams)
	if err != nil {
		return nil, err
	}

	bars, err := l.processor.LoadMultiSymbol(ctx, config.Symbols, config.StartDate, config.EndDate, l.store)
	if err != nil {
		return nil, err
	}
	l.processor.ValidateConsistency(bars)

	timeline := l.processor.UnifiedTimeline(bars)
	if len(timeline) == 0 {
		return nil, apperr.New(apperr.CodeNoDataAvailable, "unified timeline is empty")
	}
	indices := l.processor.DateIndices(bars)

	book := portfolio.New(config.StartingCapital)
	l.allocator.SetInitialCapital(config.StartingCapital)

	result := &types.BacktestResult{
		Symbols:           sortedKeys(bars),
		StartingCapital:   config.StartingCapital,
		StartDate:         config.StartDate,
		EndDate:           config.EndDate,
		StrategyName:      strat.Name(),
		SymbolPerformance: make(map[string]*types.SymbolPerformance),
		EquityCurve: []types.EquityPoint{
			{Date: config.StartDate, Value: config.StartingCapital},
		},
	}
	for _, symbol := range result.Symbols {
		result.SymbolPerformance[symbol] = &types.SymbolPerformance{}
	}

	l.initialAllocation(bars, book, config, timeline[0])

	windows := make(map[string][]types.PriceBar, len(bars))
	prices := make(map[string]decimal.Decimal, len(bars))

	for day, date := range timeline {
		if err := ctx.Err(); err != nil {
			// The equity curve built so far travels with the abort.
			return result, err
		}

		l.processor.UpdateWindows(bars, date, indices, windows, prices)
		if !anyPositive(prices) {
			continue
		}
		l.allocator.RecordPrices(prices)

		l.reportProgress(day, len(timeline), date, result.Symbols, prices, book)

		daily := l.collectSignals(ctx, strat, windows, prices, book, result, date)

		portfolioValue := book.TotalValue(prices)
		for _, sig := range daily {
			l.processSignal(sig, book, portfolioValue, result)
		}

		if (day+1)%rebalanceCheckStride == 0 && l.allocator.ShouldRebalance(book, prices, date) {
			l.recordRebalance(book, prices, date, config)
		}

		result.EquityCurve = append(result.EquityCurve, types.EquityPoint{
			Date:  date,
			Value: book.TotalValue(prices),
		})
	}

	l.calculator.Finalize(result, book, prices)
	return result, nil
}

// initialAllocation establishes target weights from first-bar closes.
// Allocation failure degrades to an equal-weight target with a warning.
func (l *Loop) initialAllocation(bars map[string][]types.PriceBar, book *portfolio.Portfolio, config *types.TradingConfig, startDate string) {
	available := make([]string, 0, len(bars))
	initialPrices := make(map[string]decimal.Decimal, len(bars))
	for symbol, series := range bars {
		if len(series) == 0 {
			continue
		}
		available = append(available, symbol)
		initialPrices[symbol] = series[0].Close
	}
	sort.Strings(available)

	alloc, err := l.allocator.CalculateAllocation(available, config.StartingCapital, book, initialPrices, startDate)
	if err != nil {
		l.logger.Warn("initial allocation failed, using equal weight",
			zap.Error(err),
			zap.Strings("symbols", available))
		alloc = l.allocator.FallbackEqualWeight(available, config.StartingCapital, initialPrices, startDate)
	}
	l.logger.Info("initial allocation",
		zap.String("reason", alloc.AllocationReason),
		zap.Int("symbols", len(alloc.TargetWeights)),
		zap.String("cash_reserved", alloc.CashReserved.String()))
}

// collectSignals evaluates every symbol in ascending order, handling
// delisting force-sells before strategy evaluation.
func (l *Loop) collectSignals(
	ctx context.Context,
	strat strategy.Strategy,
	windows map[string][]types.PriceBar,
	prices map[string]decimal.Decimal,
	book *portfolio.Portfolio,
	result *types.BacktestResult,
	date string,
) []types.TradingSignal {
	symbols := sortedKeys(windows)
	var daily []types.TradingSignal

	for _, symbol := range symbols {
		if len(windows[symbol]) == 0 {
			continue
		}

		tradeable, err := l.store.IsStockTradeable(ctx, symbol, date)
		if err != nil {
			l.logger.Warn("tradeability check failed",
				zap.String("symbol", symbol), zap.Error(err))
			tradeable = true
		}
		if !tradeable {
			l.forceSell(symbol, book, prices, result, date)
			continue
		}

		sig, err := strat.Evaluate(windows[symbol], book, symbol)
		if err != nil {
			l.logger.Warn("strategy evaluation failed",
				zap.String("symbol", symbol),
				zap.String("date", date),
				zap.Error(err))
			continue
		}
		if sig.Kind != types.SignalHold {
			daily = append(daily, sig)
		}
	}
	return daily
}

// forceSell clears the whole position of a symbol that is no longer
// tradeable, at the last known price or the delisting floor.
func (l *Loop) forceSell(symbol string, book *portfolio.Portfolio, prices map[string]decimal.Decimal, result *types.BacktestResult, date string) {
	pos := book.Position(symbol)
	if pos == nil {
		return
	}
	price, ok := prices[symbol]
	if !ok || price.Sign() <= 0 {
		price = delistedFloorPrice
	}
	sig := types.TradingSignal{
		Kind:       types.SignalSell,
		Symbol:     symbol,
		Price:      price,
		Date:       date,
		Reason:     "symbol no longer tradeable, clearing position",
		Confidence: 1.0,
	}
	if _, err := l.execution.Execute(book, sig, pos.Shares); err != nil {
		l.logger.Error("forced liquidation failed",
			zap.String("symbol", symbol), zap.Error(err))
		return
	}
	l.recordTrade(sig, result)
	l.logger.Info("position force-sold",
		zap.String("symbol", symbol),
		zap.String("date", date),
		zap.String("price", price.String()))
}

// processSignal sizes and executes one collected signal.
func (l *Loop) processSignal(sig types.TradingSignal, book *portfolio.Portfolio, portfolioValue decimal.Decimal, result *types.BacktestResult) {
	shares := l.allocator.PositionSize(sig.Symbol, book, sig.Price, portfolioValue, sig.Kind)
	if shares <= 0 {
		return
	}
	if _, err := l.execution.Execute(book, sig, shares); err != nil {
		l.logger.Debug("signal not executed",
			zap.String("symbol", sig.Symbol),
			zap.String("side", string(sig.Kind)),
			zap.Error(err))
		return
	}
	l.recordTrade(sig, result)
}

func (l *Loop) recordTrade(sig types.TradingSignal, result *types.BacktestResult) {
	result.SignalsGenerated = append(result.SignalsGenerated, sig)
	result.TotalTrades++
	perf := result.SymbolPerformance[sig.Symbol]
	if perf == nil {
		perf = &types.SymbolPerformance{}
		result.SymbolPerformance[sig.Symbol] = perf
	}
	perf.TradesCount++
	perf.Signals = append(perf.Signals, sig)
}

// recordRebalance computes and logs the rebalance target. Applying it
// is left to a later extension; the record keeps drift visible.
func (l *Loop) recordRebalance(book *portfolio.Portfolio, prices map[string]decimal.Decimal, date string, config *types.TradingConfig) {
	alloc, err := l.allocator.CalculateAllocation(book.Symbols(), book.TotalValue(prices), book, prices, date)
	if err != nil {
		l.logger.Warn("rebalance allocation failed", zap.Error(err), zap.String("date", date))
		return
	}
	l.logger.Info("rebalance due",
		zap.String("date", date),
		zap.String("reason", alloc.AllocationReason),
		zap.Int("symbols", len(alloc.TargetWeights)))
}

func (l *Loop) reportProgress(day, total int, date string, symbols []string, prices map[string]decimal.Decimal, book *portfolio.Portfolio) {
	if len(symbols) == 0 {
		return
	}
	lead := symbols[0]
	l.progress.Report(day, total, date, lead, prices[lead], book.TotalValue(prices))
}

func anyPositive(prices map[string]decimal.Decimal) bool {
	for _, p := range prices {
		if p.Sign() > 0 {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
