package strategy

import (
	"fmt"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/indicators"
	"github.com/meridianquant/backtester/internal/portfolio"
	"github.com/meridianquant/backtester/pkg/types"
)

// RSIThreshold buys when RSI recovers up through the oversold line and
// sells when it rolls over down through the overbought line.
type RSIThreshold struct {
	period     int
	oversold   float64
	overbought float64
	calc       *indicators.Calculator
}

// NewRSIThreshold validates the thresholds and builds the strategy.
func NewRSIThreshold(period int, oversold, overbought float64) (*RSIThreshold, error) {
	if period <= 0 {
		return nil, apperr.Newf(apperr.CodeInvalidParameter, "rsi: period must be positive, got %d", period)
	}
	if oversold <= 0 || oversold >= overbought || overbought >= 100 {
		return nil, apperr.Newf(apperr.CodeInvalidParameter,
			"rsi: thresholds must satisfy 0 < oversold < overbought < 100, got %.1f/%.1f", oversold, overbought)
	}
	return &RSIThreshold{
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		calc:       indicators.NewCalculator(),
	}, nil
}

func (s *RSIThreshold) Name() string { return "rsi" }

// MinBars needs two RSI samples so a threshold crossing is observable.
func (s *RSIThreshold) MinBars() int { return s.period + 2 }

func (s *RSIThreshold) Evaluate(window []types.PriceBar, book *portfolio.Portfolio, symbol string) (types.TradingSignal, error) {
	if len(window) < s.MinBars() {
		return holdShort(symbol, window), nil
	}
	last := window[len(window)-1]

	s.calc.SetWindow(window)
	rsi, err := s.calc.RSI(s.period)
	if err != nil {
		return types.TradingSignal{}, err
	}
	current := rsi[len(rsi)-1]

	switch {
	case indicators.RSIRecovery(rsi, s.oversold):
		return types.TradingSignal{
			Kind:       types.SignalBuy,
			Symbol:     symbol,
			Price:      last.Close,
			Date:       last.Date,
			Reason:     fmt.Sprintf("RSI %.1f recovered through oversold %.1f", current, s.oversold),
			Confidence: confidenceFromDistance(s.oversold - current),
		}, nil
	case indicators.RSIRollover(rsi, s.overbought):
		if book.Position(symbol) == nil {
			return hold(symbol, last.Date, last.Close, "overbought rollover, nothing held"), nil
		}
		return types.TradingSignal{
			Kind:       types.SignalSell,
			Symbol:     symbol,
			Price:      last.Close,
			Date:       last.Date,
			Reason:     fmt.Sprintf("RSI %.1f rolled over through overbought %.1f", current, s.overbought),
			Confidence: confidenceFromDistance(current - s.overbought),
		}, nil
	}
	return hold(symbol, last.Date, last.Close, "RSI in neutral band"), nil
}

// confidenceFromDistance maps how far past the threshold the crossing
// landed into [0.6, 0.9].
func confidenceFromDistance(overshoot float64) float64 {
	c := 0.6 + overshoot/100
	if c < 0.6 {
		return 0.6
	}
	if c > 0.9 {
		return 0.9
	}
	return c
}
