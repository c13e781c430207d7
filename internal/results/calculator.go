// Package results derives the performance metrics of a finished
// simulation from its equity curve, signal log and final book.
package results

import (
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/portfolio"
	"github.com/meridianquant/backtester/pkg/types"
)

const (
	tradingDaysPerYear = 252
	riskFreeRate       = 0.02
)

// Calculator finalises a BacktestResult in place.
type Calculator struct {
	logger *zap.Logger
}

// NewCalculator creates a result calculator.
func NewCalculator(logger *zap.Logger) *Calculator {
	return &Calculator{logger: logger}
}

// Finalize fills every derived metric on the result. The result must
// already carry the signal log and equity curve produced by the loop.
func (c *Calculator) Finalize(result *types.BacktestResult, book *portfolio.Portfolio, finalPrices map[string]decimal.Decimal) {
	c.classifyTrades(result)

	if n := len(result.EquityCurve); n > 0 {
		result.EndingValue = result.EquityCurve[n-1].Value
	}
	if result.StartingCapital.Sign() > 0 {
		result.TotalReturnPct = result.EndingValue.Sub(result.StartingCapital).
			Div(result.StartingCapital).InexactFloat64() * 100
	}

	returns := dailyReturns(result.EquityCurve)
	result.SharpeRatio = sharpeRatio(returns)
	result.MaxDrawdownPct = maxDrawdown(result.EquityCurve) * 100
	result.AnnualizedReturnPct = annualizedReturn(result.StartingCapital, result.EndingValue, len(result.EquityCurve)) * 100
	result.VolatilityPct = stdev(returns) * math.Sqrt(tradingDaysPerYear) * 100
	result.ProfitFactor, result.AverageWin, result.AverageLoss = profitProfile(returns)

	if result.TotalTrades > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades) * 100
	}

	c.symbolPerformance(result, book, finalPrices)
	result.DiversificationRatio = diversificationRatio(book, finalPrices)

	c.logger.Info("results finalized",
		zap.String("ending_value", result.EndingValue.String()),
		zap.Float64("total_return_pct", result.TotalReturnPct),
		zap.Int("total_trades", result.TotalTrades),
		zap.Float64("sharpe", result.SharpeRatio))
}

// classifyTrades walks the signal log with a per-symbol LIFO of buy
// prices; each sell pops the most recent buy and classifies the pair by
// price comparison.
func (c *Calculator) classifyTrades(result *types.BacktestResult) {
	buyStacks := make(map[string][]decimal.Decimal)
	var wins, losses int

	perSymbolWins := make(map[string]int)
	perSymbolLosses := make(map[string]int)

	for _, sig := range result.SignalsGenerated {
		switch sig.Kind {
		case types.SignalBuy:
			buyStacks[sig.Symbol] = append(buyStacks[sig.Symbol], sig.Price)
		case types.SignalSell:
			stack := buyStacks[sig.Symbol]
			if len(stack) == 0 {
				continue
			}
			entry := stack[len(stack)-1]
			buyStacks[sig.Symbol] = stack[:len(stack)-1]
			if sig.Price.GreaterThan(entry) {
				wins++
				perSymbolWins[sig.Symbol]++
			} else {
				losses++
				perSymbolLosses[sig.Symbol]++
			}
		}
	}

	result.WinningTrades = wins
	result.LosingTrades = losses

	for symbol, perf := range result.SymbolPerformance {
		perf.WinningTrades = perSymbolWins[symbol]
		perf.LosingTrades = perSymbolLosses[symbol]
		closed := perf.WinningTrades + perf.LosingTrades
		if closed > 0 {
			perf.WinRate = float64(perf.WinningTrades) / float64(closed) * 100
		}
	}
}

func (c *Calculator) symbolPerformance(result *types.BacktestResult, book *portfolio.Portfolio, prices map[string]decimal.Decimal) {
	if result.EndingValue.Sign() <= 0 {
		return
	}
	for symbol, perf := range result.SymbolPerformance {
		pos := book.Position(symbol)
		if pos == nil {
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		perf.FinalPositionValue = pos.Value(price)
		perf.AllocationPct = perf.FinalPositionValue.Div(result.EndingValue).InexactFloat64() * 100
	}
}

func dailyReturns(curve []types.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value
		if prev.Sign() <= 0 {
			continue
		}
		returns = append(returns, curve[i].Value.Sub(prev).Div(prev).InexactFloat64())
	}
	return returns
}

func sharpeRatio(returns []float64) float64 {
	sd := stdev(returns)
	if sd == 0 {
		return 0
	}
	return (mean(returns)*tradingDaysPerYear - riskFreeRate) / (sd * math.Sqrt(tradingDaysPerYear))
}

func maxDrawdown(curve []types.EquityPoint) float64 {
	var peak decimal.Decimal
	var maxDD float64
	for _, point := range curve {
		if point.Value.GreaterThan(peak) {
			peak = point.Value
		}
		if peak.Sign() <= 0 {
			continue
		}
		dd := peak.Sub(point.Value).Div(peak).InexactFloat64()
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func annualizedReturn(starting, ending decimal.Decimal, days int) float64 {
	if days == 0 || starting.Sign() <= 0 || ending.Sign() <= 0 {
		return 0
	}
	ratio := ending.Div(starting).InexactFloat64()
	return math.Pow(ratio, tradingDaysPerYear/float64(days)) - 1
}

// profitProfile aggregates positive and negative daily returns.
func profitProfile(returns []float64) (profitFactor, avgWin, avgLoss float64) {
	var grossWin, grossLoss float64
	var winDays, lossDays int
	for _, r := range returns {
		if r > 0 {
			grossWin += r
			winDays++
		} else if r < 0 {
			grossLoss += -r
			lossDays++
		}
	}
	if winDays > 0 {
		avgWin = grossWin / float64(winDays)
	}
	if lossDays > 0 {
		avgLoss = grossLoss / float64(lossDays)
	}
	if grossLoss > 0 {
		profitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		// No losing day. Report the gross win so the value stays finite
		// and JSON-encodable.
		profitFactor = grossWin
	}
	return profitFactor, avgWin, avgLoss
}

// diversificationRatio compares the Herfindahl index of position
// weights against the equal-weight ideal 1/N. Equal weights score 0,
// concentration goes negative, single-symbol books score 0 outright.
func diversificationRatio(book *portfolio.Portfolio, prices map[string]decimal.Decimal) float64 {
	symbols := book.Symbols()
	n := len(symbols)
	if n < 2 {
		return 0
	}
	total := book.PositionsValue(prices)
	if total.Sign() <= 0 {
		return 0
	}
	totalF := total.InexactFloat64()
	var herfindahl float64
	for _, symbol := range symbols {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		w := book.Position(symbol).Value(price).InexactFloat64() / totalF
		herfindahl += w * w
	}
	ideal := 1.0 / float64(n)
	return (ideal - herfindahl) / ideal
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}
