package strategy

import (
	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/indicators"
	"github.com/meridianquant/backtester/internal/portfolio"
	"github.com/meridianquant/backtester/pkg/types"
)

// MACrossover buys when the short moving average crosses above the long
// one and sells on the inverse crossover. The relation between the two
// averages is tracked per symbol across evaluations; the first evaluable
// bar compares against a neutral state, so a series that opens with the
// short average already above the long one emits exactly one buy.
type MACrossover struct {
	shortPeriod int
	longPeriod  int
	calc        *indicators.Calculator

	// last observed short-vs-long relation per symbol: +1 above, -1
	// below, 0 unknown or equal.
	relation map[string]int
}

// NewMACrossover validates the periods and builds the strategy.
func NewMACrossover(shortPeriod, longPeriod int) (*MACrossover, error) {
	if shortPeriod <= 0 || longPeriod <= 0 {
		return nil, apperr.Newf(apperr.CodeInvalidParameter,
			"ma_crossover: periods must be positive, got short=%d long=%d", shortPeriod, longPeriod)
	}
	if shortPeriod >= longPeriod {
		return nil, apperr.Newf(apperr.CodeInvalidParameter,
			"ma_crossover: short period %d must be below long period %d", shortPeriod, longPeriod)
	}
	return &MACrossover{
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		calc:        indicators.NewCalculator(),
		relation:    make(map[string]int),
	}, nil
}

func (s *MACrossover) Name() string { return "ma_crossover" }

// MinBars needs one bar past the long period so a crossover has a
// previous sample to compare against.
func (s *MACrossover) MinBars() int { return s.longPeriod + 1 }

func (s *MACrossover) Evaluate(window []types.PriceBar, book *portfolio.Portfolio, symbol string) (types.TradingSignal, error) {
	if len(window) < s.MinBars() {
		return holdShort(symbol, window), nil
	}
	last := window[len(window)-1]

	s.calc.SetWindow(window)
	short, err := s.calc.SMA(s.shortPeriod)
	if err != nil {
		return types.TradingSignal{}, err
	}
	long, err := s.calc.SMA(s.longPeriod)
	if err != nil {
		return types.TradingSignal{}, err
	}

	cur := indicators.Relation(short[len(short)-1], long[len(long)-1])
	prev := s.relation[symbol]
	s.relation[symbol] = cur

	params := describe("short", s.shortPeriod, "long", s.longPeriod)
	switch {
	case cur > 0 && prev <= 0:
		return types.TradingSignal{
			Kind:       types.SignalBuy,
			Symbol:     symbol,
			Price:      last.Close,
			Date:       last.Date,
			Reason:     "golden cross (" + params + ")",
			Confidence: 0.7,
		}, nil
	case cur < 0 && prev >= 0:
		if book.Position(symbol) == nil {
			// No shorting: a bearish cross without a position is a no-op.
			return hold(symbol, last.Date, last.Close, "bearish cross, nothing held"), nil
		}
		return types.TradingSignal{
			Kind:       types.SignalSell,
			Symbol:     symbol,
			Price:      last.Close,
			Date:       last.Date,
			Reason:     "death cross (" + params + ")",
			Confidence: 0.7,
		}, nil
	}
	return hold(symbol, last.Date, last.Close, "no crossover"), nil
}
