// Package indicators provides technical indicator math over a price
// window. All functions are pure; the Calculator adds per-window
// memoisation keyed on (indicator, period).
package indicators

import (
	"math"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/pkg/types"
)

// SMA returns the simple moving averages of closes. Requires
// len(closes) >= period and yields len(closes)-period+1 values.
func SMA(closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, apperr.Newf(apperr.CodeInvalidPeriod, "sma: period must be positive, got %d", period)
	}
	if len(closes) < period {
		return nil, apperr.Newf(apperr.CodeInsufficientData, "sma: need %d closes, have %d", period, len(closes))
	}
	out := make([]float64, 0, len(closes)-period+1)
	var sum float64
	for i, c := range closes {
		sum += c
		if i >= period {
			sum -= closes[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out, nil
}

// EMA returns exponential moving averages seeded with the first close,
// multiplier 2/(period+1), one value per bar.
func EMA(closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, apperr.Newf(apperr.CodeInvalidPeriod, "ema: period must be positive, got %d", period)
	}
	if len(closes) == 0 {
		return nil, apperr.New(apperr.CodeInsufficientData, "ema: empty window")
	}
	mult := 2.0 / float64(period+1)
	out := make([]float64, len(closes))
	out[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		out[i] = (closes[i]-out[i-1])*mult + out[i-1]
	}
	return out, nil
}

// RSI returns the relative strength index using Wilder smoothing after
// an initial period-sample average. When the average loss is zero the
// value is 100. Yields len(closes)-period values.
func RSI(closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, apperr.Newf(apperr.CodeInvalidPeriod, "rsi: period must be positive, got %d", period)
	}
	if len(closes) <= period {
		return nil, apperr.Newf(apperr.CodeInsufficientData, "rsi: need more than %d closes, have %d", period, len(closes))
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, len(closes)-period)
	out = append(out, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Band is one Bollinger sample.
type Band struct {
	Middle float64
	Upper  float64
	Lower  float64
}

// Bollinger returns period-SMA bands at k standard deviations. Yields
// len(closes)-period+1 samples.
func Bollinger(closes []float64, period int, k float64) ([]Band, error) {
	middles, err := SMA(closes, period)
	if err != nil {
		return nil, err
	}
	out := make([]Band, len(middles))
	for i, m := range middles {
		window := closes[i : i+period]
		var sumSq float64
		for _, c := range window {
			d := c - m
			sumSq += d * d
		}
		sd := math.Sqrt(sumSq / float64(period))
		out[i] = Band{Middle: m, Upper: m + k*sd, Lower: m - k*sd}
	}
	return out, nil
}

// Closes extracts close prices from a bar window.
func Closes(bars []types.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}

type cacheKey struct {
	indicator string
	period    int
}

// Calculator memoises indicator series for one sliding window. Replacing
// the window clears the cache, so results are always consistent with the
// current bars. Per-request by design; never shared across requests.
type Calculator struct {
	closes []float64
	cache  map[cacheKey][]float64
}

// NewCalculator returns an empty calculator.
func NewCalculator() *Calculator {
	return &Calculator{cache: make(map[cacheKey][]float64)}
}

// SetWindow replaces the window and invalidates all memoised series.
func (c *Calculator) SetWindow(bars []types.PriceBar) {
	c.closes = Closes(bars)
	c.cache = make(map[cacheKey][]float64)
}

// Len returns the current window length.
func (c *Calculator) Len() int { return len(c.closes) }

// SMA returns the memoised simple moving average series for the window.
// Repeated calls with the same period return the identical slice.
func (c *Calculator) SMA(period int) ([]float64, error) {
	return c.memo("sma", period, func() ([]float64, error) { return SMA(c.closes, period) })
}

// EMA returns the memoised exponential moving average series.
func (c *Calculator) EMA(period int) ([]float64, error) {
	return c.memo("ema", period, func() ([]float64, error) { return EMA(c.closes, period) })
}

// RSI returns the memoised RSI series.
func (c *Calculator) RSI(period int) ([]float64, error) {
	return c.memo("rsi", period, func() ([]float64, error) { return RSI(c.closes, period) })
}

func (c *Calculator) memo(name string, period int, compute func() ([]float64, error)) ([]float64, error) {
	key := cacheKey{indicator: name, period: period}
	if cached, ok := c.cache[key]; ok {
		return cached, nil
	}
	out, err := compute()
	if err != nil {
		return nil, err
	}
	c.cache[key] = out
	return out, nil
}
