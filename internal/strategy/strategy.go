// Package strategy provides trading strategy implementations and the
// factory that builds them from request parameters.
package strategy

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/portfolio"
	"github.com/meridianquant/backtester/pkg/types"
)

// Strategy evaluates one symbol's sliding window against the book and
// recommends an action for the final bar.
type Strategy interface {
	Name() string
	// Evaluate returns Hold when the window is too short to decide.
	// Sell recommendations are only emitted for symbols the book holds.
	Evaluate(window []types.PriceBar, book *portfolio.Portfolio, symbol string) (types.TradingSignal, error)
	// MinBars is the shortest window Evaluate can act on.
	MinBars() int
}

// MaxPositionSize caps the fallback sizing at this fraction of cash.
const MaxPositionSize = 0.20

// FallbackShares sizes a buy when no allocator is wired: whole shares
// bought with min(cash, cash*MaxPositionSize).
func FallbackShares(cash, price decimal.Decimal) int64 {
	if price.Sign() <= 0 || cash.Sign() <= 0 {
		return 0
	}
	budget := cash.Mul(decimal.NewFromFloat(MaxPositionSize))
	if cash.LessThan(budget) {
		budget = cash
	}
	return budget.Div(price).IntPart()
}

// holdShort is the hold emitted while the window is shorter than the
// strategy needs. Safe on an empty window.
func holdShort(symbol string, window []types.PriceBar) types.TradingSignal {
	sig := types.TradingSignal{
		Kind:   types.SignalHold,
		Symbol: symbol,
		Reason: "insufficient history",
	}
	if len(window) > 0 {
		last := window[len(window)-1]
		sig.Price = last.Close
		sig.Date = last.Date
	}
	return sig
}

func hold(symbol, date string, price decimal.Decimal, reason string) types.TradingSignal {
	return types.TradingSignal{
		Kind:   types.SignalHold,
		Symbol: symbol,
		Price:  price,
		Date:   date,
		Reason: reason,
	}
}

// Manager is the factory over the known strategy variants.
type Manager struct {
	logger *zap.Logger
}

// NewManager creates a strategy manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Names lists the strategies the manager can build.
func (m *Manager) Names() []string {
	return []string{"ma_crossover", "rsi"}
}

// Create builds a strategy from its wire name and parameter map.
// Numeric parameters accept JSON numbers or numeric strings.
func (m *Manager) Create(name string, params map[string]any) (Strategy, error) {
	switch name {
	case "ma_crossover":
		short := intParam(params, "short_ma", 20)
		long := intParam(params, "long_ma", 50)
		return NewMACrossover(short, long)
	case "rsi":
		period := intParam(params, "rsi_period", 14)
		oversold := floatParam(params, "rsi_oversold", 30)
		overbought := floatParam(params, "rsi_overbought", 70)
		return NewRSIThreshold(period, oversold, overbought)
	default:
		return nil, apperr.Newf(apperr.CodeInvalidParameter, "unknown strategy %q", name)
	}
}

func intParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}

func floatParam(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if parsed, err := strconv.ParseFloat(n, 64); err == nil {
			return parsed
		}
	}
	return def
}

// describe renders a compact parameter suffix for signal reasons.
func describe(pairs ...any) string {
	out := ""
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%v=%v", pairs[i], pairs[i+1])
	}
	return out
}
