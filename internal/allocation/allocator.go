// Package allocation computes target portfolio weights and sizes
// individual trades. Trade sizes anchor to the request's initial
// capital, never the compounding portfolio value, so position sizes stay
// stable across long simulations.
package allocation

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/portfolio"
	"github.com/meridianquant/backtester/pkg/types"
)

// Sizing constants, all relative to the initial book.
const (
	maxPositionPct = 0.06  // per-symbol cap
	tradePct       = 0.008 // per-trade slice
	minTradeAmount = 100.0 // dollar floor per buy
	sellFraction   = 0.30  // max share of a position sold at once
	dustThreshold  = 50.0  // sells below this are suppressed
)

// weightSumTolerance is the post-constraint drift that forces a
// renormalisation pass.
const weightSumTolerance = 0.01

// defaultVolatility stands in when a symbol has no usable history.
const defaultVolatility = 0.15

// Allocator is a per-request value; it accumulates the price history it
// needs for volatility and momentum weighting as the loop feeds it.
type Allocator struct {
	logger *zap.Logger
	config types.AllocationConfig

	initialCapital decimal.Decimal

	priceHistory map[string][]float64

	lastRebalanceDate    string
	lastRebalanceWeights map[string]float64
}

// New creates an allocator with the given configuration.
func New(logger *zap.Logger, config types.AllocationConfig) *Allocator {
	return &Allocator{
		logger:       logger,
		config:       config,
		priceHistory: make(map[string][]float64),
	}
}

// SetInitialCapital records the capital all trade sizing anchors to.
func (a *Allocator) SetInitialCapital(capital decimal.Decimal) {
	a.initialCapital = capital
}

// Config returns the allocator's configuration.
func (a *Allocator) Config() types.AllocationConfig { return a.config }

// RecordPrices appends one day of closes to the stored history.
func (a *Allocator) RecordPrices(prices map[string]decimal.Decimal) {
	for symbol, price := range prices {
		a.priceHistory[symbol] = append(a.priceHistory[symbol], price.InexactFloat64())
	}
}

// CalculateAllocation computes target weights, values and share counts
// over the requested symbols.
func (a *Allocator) CalculateAllocation(
	symbols []string,
	totalCapital decimal.Decimal,
	book *portfolio.Portfolio,
	prices map[string]decimal.Decimal,
	currentDate string,
) (*types.AllocationResult, error) {
	if len(symbols) == 0 {
		return nil, apperr.New(apperr.CodeInvalidSymbol, "allocation over empty symbol list")
	}
	if totalCapital.Sign() <= 0 {
		return nil, apperr.Newf(apperr.CodeInvalidCapital, "allocation with non-positive capital %s", totalCapital)
	}

	included, excluded := a.filterSymbols(symbols, prices)
	if len(included) == 0 {
		return nil, apperr.New(apperr.CodeAllocationFailed, "all symbols excluded by risk filters").
			WithDetail("excluded", excluded)
	}

	weights, reason := a.rawWeights(included)
	weights = a.enforceConstraints(weights)

	reserve := totalCapital.Mul(decimal.NewFromFloat(a.config.CashReservePct))
	allocated := totalCapital.Sub(reserve)

	result := &types.AllocationResult{
		TargetWeights:         weights,
		TargetValues:          make(map[string]decimal.Decimal, len(weights)),
		TargetShares:          make(map[string]int64, len(weights)),
		TotalAllocatedCapital: allocated,
		CashReserved:          reserve,
		ExcludedSymbols:       excluded,
		AllocationReason:      reason,
	}
	for symbol, w := range weights {
		value := allocated.Mul(decimal.NewFromFloat(w))
		result.TargetValues[symbol] = value
		price := prices[symbol]
		if price.Sign() > 0 {
			result.TargetShares[symbol] = value.Div(price).IntPart()
		}
	}

	result.RebalancingNeeded = a.ShouldRebalance(book, prices, currentDate)

	a.lastRebalanceDate = currentDate
	a.lastRebalanceWeights = weights

	return result, nil
}

// filterSymbols drops symbols without a positive quoted price.
func (a *Allocator) filterSymbols(symbols []string, prices map[string]decimal.Decimal) (included, excluded []string) {
	for _, symbol := range symbols {
		price, ok := prices[symbol]
		if !ok || price.Sign() <= 0 {
			excluded = append(excluded, symbol)
			continue
		}
		included = append(included, symbol)
	}
	sort.Strings(included)
	return included, excluded
}

// rawWeights dispatches on the configured weighting strategy.
func (a *Allocator) rawWeights(symbols []string) (map[string]float64, string) {
	switch a.config.Strategy {
	case types.AllocVolatilityAdjusted:
		return a.inverseVolatilityWeights(symbols), "inverse volatility"
	case types.AllocRiskParity:
		// Approximated by inverse volatility over the stored history.
		return a.inverseVolatilityWeights(symbols), "risk parity (inverse volatility)"
	case types.AllocMomentumBased:
		return a.momentumWeights(symbols), "momentum score"
	case types.AllocCustom:
		if len(a.config.CustomWeights) > 0 {
			return a.customWeights(symbols), "custom weights"
		}
		a.logger.Warn("custom allocation without custom_weights, using equal weight")
		return equalWeights(symbols), "equal weight (custom weights missing)"
	default:
		return equalWeights(symbols), "equal weight"
	}
}

func equalWeights(symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	w := 1.0 / float64(len(symbols))
	for _, s := range symbols {
		out[s] = w
	}
	return out
}

func (a *Allocator) inverseVolatilityWeights(symbols []string) map[string]float64 {
	inverse := make(map[string]float64, len(symbols))
	var total float64
	for _, s := range symbols {
		vol := a.annualizedVolatility(s)
		inverse[s] = 1.0 / vol
		total += inverse[s]
	}
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = inverse[s] / total
	}
	return out
}

func (a *Allocator) momentumWeights(symbols []string) map[string]float64 {
	scores := make(map[string]float64, len(symbols))
	var total float64
	for _, s := range symbols {
		scores[s] = a.momentumScore(s)
		total += scores[s]
	}
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = scores[s] / total
	}
	return out
}

func (a *Allocator) customWeights(symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	var total float64
	for _, s := range symbols {
		w := a.config.CustomWeights[s]
		out[s] = w
		total += w
	}
	if total <= 0 {
		return equalWeights(symbols)
	}
	// Weights for excluded symbols are redistributed proportionally.
	for s := range out {
		out[s] /= total
	}
	return out
}

// annualizedVolatility derives sigma from the stored daily closes.
// Symbols without history fall back to the default; the floor keeps the
// inverse finite.
func (a *Allocator) annualizedVolatility(symbol string) float64 {
	history := a.priceHistory[symbol]
	if len(history) < 2 {
		return defaultVolatility
	}
	returns := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		if history[i-1] == 0 {
			continue
		}
		returns = append(returns, (history[i]-history[i-1])/history[i-1])
	}
	if len(returns) < 2 {
		return defaultVolatility
	}
	vol := stdev(returns) * math.Sqrt(252)
	if vol < 0.01 {
		return 0.01
	}
	return vol
}

func (a *Allocator) momentumScore(symbol string) float64 {
	history := a.priceHistory[symbol]
	if len(history) < 2 || history[0] == 0 {
		return 0.1
	}
	score := (history[len(history)-1] - history[0]) / history[0]
	if score < 0.1 {
		return 0.1
	}
	return score
}

// enforceConstraints clamps weights to the configured band (only raising
// non-zero weights to the minimum) and renormalises when the sum drifts.
func (a *Allocator) enforceConstraints(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	var sum float64
	for symbol, w := range weights {
		if w > a.config.MaxPositionWeight {
			w = a.config.MaxPositionWeight
		}
		if w > 0 && w < a.config.MinPositionWeight {
			w = a.config.MinPositionWeight
		}
		out[symbol] = w
		sum += w
	}
	if sum > 0 && math.Abs(sum-1.0) > weightSumTolerance {
		for symbol := range out {
			out[symbol] /= sum
		}
	}
	return out
}

// PositionSize returns the share count for one trade. Buys are capped at
// 6% of initial capital per symbol and sliced at 0.8% of initial capital
// (floor $100); sells release at most 30% of the position and suppress
// dust below $50.
func (a *Allocator) PositionSize(
	symbol string,
	book *portfolio.Portfolio,
	price decimal.Decimal,
	portfolioValue decimal.Decimal,
	kind types.SignalKind,
) int64 {
	if price.Sign() <= 0 {
		return 0
	}
	switch kind {
	case types.SignalBuy:
		return a.buySize(symbol, book, price)
	case types.SignalSell:
		return a.sellSize(symbol, book, price, portfolioValue)
	default:
		return 0
	}
}

func (a *Allocator) buySize(symbol string, book *portfolio.Portfolio, price decimal.Decimal) int64 {
	var positionValue decimal.Decimal
	if pos := book.Position(symbol); pos != nil {
		positionValue = pos.Value(price)
	}
	maxPositionValue := a.initialCapital.Mul(decimal.NewFromFloat(maxPositionPct))
	if positionValue.GreaterThanOrEqual(maxPositionValue) {
		return 0
	}

	amount := a.initialCapital.Mul(decimal.NewFromFloat(tradePct))
	if amount.LessThan(decimal.NewFromFloat(minTradeAmount)) {
		amount = decimal.NewFromFloat(minTradeAmount)
	}
	if headroom := maxPositionValue.Sub(positionValue); amount.GreaterThan(headroom) {
		amount = headroom
	}
	if cash := book.Cash(); amount.GreaterThan(cash) {
		amount = cash
	}
	if amount.Sign() <= 0 {
		return 0
	}
	return amount.Div(price).IntPart()
}

func (a *Allocator) sellSize(symbol string, book *portfolio.Portfolio, price, portfolioValue decimal.Decimal) int64 {
	pos := book.Position(symbol)
	if pos == nil {
		return 0
	}
	amount := portfolioValue.Mul(decimal.NewFromFloat(tradePct))
	if amount.LessThan(decimal.NewFromFloat(minTradeAmount)) {
		amount = decimal.NewFromFloat(minTradeAmount)
	}
	shares := amount.Div(price).IntPart()
	maxShares := decimal.NewFromInt(pos.Shares).Mul(decimal.NewFromFloat(sellFraction)).IntPart()
	if shares > maxShares {
		shares = maxShares
	}
	if decimal.NewFromInt(shares).Mul(price).LessThan(decimal.NewFromFloat(dustThreshold)) {
		return 0
	}
	return shares
}

// ShouldRebalance reports whether the frequency window has elapsed or
// current weights have drifted past the threshold since the last
// recorded allocation.
func (a *Allocator) ShouldRebalance(book *portfolio.Portfolio, prices map[string]decimal.Decimal, currentDate string) bool {
	if !a.config.EnableRebalancing || len(a.lastRebalanceWeights) == 0 {
		return false
	}

	if a.config.RebalancingFreqDays > 0 && a.lastRebalanceDate != "" {
		last, errLast := types.ParseDate(a.lastRebalanceDate)
		now, errNow := types.ParseDate(currentDate)
		if errLast == nil && errNow == nil {
			elapsed := int(now.Sub(last).Hours() / 24)
			if elapsed >= a.config.RebalancingFreqDays {
				return true
			}
		}
	}

	return a.Drift(book, prices) > a.config.RebalancingThreshold
}

// Drift returns the largest absolute difference between a symbol's
// current weight and its weight at the last allocation.
func (a *Allocator) Drift(book *portfolio.Portfolio, prices map[string]decimal.Decimal) float64 {
	total := book.TotalValue(prices)
	if total.Sign() <= 0 {
		return 0
	}
	totalF := total.InexactFloat64()

	current := make(map[string]float64)
	for _, symbol := range book.Symbols() {
		pos := book.Position(symbol)
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		current[symbol] = pos.Value(price).InexactFloat64() / totalF
	}

	var maxDrift float64
	seen := make(map[string]struct{})
	for symbol, target := range a.lastRebalanceWeights {
		seen[symbol] = struct{}{}
		if d := math.Abs(current[symbol] - target); d > maxDrift {
			maxDrift = d
		}
	}
	for symbol, w := range current {
		if _, ok := seen[symbol]; ok {
			continue
		}
		if d := math.Abs(w); d > maxDrift {
			maxDrift = d
		}
	}
	return maxDrift
}

// FallbackEqualWeight builds the equal-weight target used when a real
// allocation fails; it still records state so sizing and rebalancing
// work.
func (a *Allocator) FallbackEqualWeight(symbols []string, totalCapital decimal.Decimal, prices map[string]decimal.Decimal, currentDate string) *types.AllocationResult {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	weights := equalWeights(sorted)

	reserve := totalCapital.Mul(decimal.NewFromFloat(a.config.CashReservePct))
	allocated := totalCapital.Sub(reserve)
	result := &types.AllocationResult{
		TargetWeights:         weights,
		TargetValues:          make(map[string]decimal.Decimal, len(weights)),
		TargetShares:          make(map[string]int64, len(weights)),
		TotalAllocatedCapital: allocated,
		CashReserved:          reserve,
		AllocationReason:      fmt.Sprintf("fallback equal weight over %d symbols", len(sorted)),
	}
	for symbol, w := range weights {
		value := allocated.Mul(decimal.NewFromFloat(w))
		result.TargetValues[symbol] = value
		if price, ok := prices[symbol]; ok && price.Sign() > 0 {
			result.TargetShares[symbol] = value.Div(price).IntPart()
		}
	}
	a.lastRebalanceDate = currentDate
	a.lastRebalanceWeights = weights
	return result
}

func stdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}
