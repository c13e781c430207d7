// Package data converts raw store rows to typed price bars and merges
// per-symbol series into a unified trading-day timeline.
package data

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/store"
	"github.com/meridianquant/backtester/pkg/types"
)

// Processor owns the request's price bars and timeline bookkeeping.
type Processor struct {
	logger *zap.Logger
}

// NewProcessor creates a data processor.
func NewProcessor(logger *zap.Logger) *Processor {
	return &Processor{logger: logger}
}

// LoadMultiSymbol fetches and converts bars for every symbol. A symbol
// that fails to fetch or yields no rows is dropped with a warning; only
// when every symbol comes back empty does the whole load fail.
func (p *Processor) LoadMultiSymbol(ctx context.Context, symbols []string, start, end string, ps store.PriceStore) (map[string][]types.PriceBar, error) {
	out := make(map[string][]types.PriceBar, len(symbols))
	var dropped []string

	for _, symbol := range symbols {
		rows, err := ps.GetStockPrices(ctx, symbol, start, end)
		if err != nil {
			p.logger.Warn("dropping symbol, fetch failed",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
			dropped = append(dropped, symbol)
			continue
		}
		bars, err := p.ConvertRows(rows)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			p.logger.Warn("dropping symbol, no data in range",
				zap.String("symbol", symbol),
				zap.String("start", start),
				zap.String("end", end),
			)
			dropped = append(dropped, symbol)
			continue
		}
		out[symbol] = bars
	}

	if len(out) == 0 {
		return nil, apperr.Newf(apperr.CodeNoDataAvailable,
			"no price data for any of %d symbols in %s..%s", len(symbols), start, end).
			WithDetail("symbols", symbols)
	}
	if len(dropped) > 0 {
		p.logger.Warn("some symbols dropped from simulation", zap.Strings("symbols", dropped))
	}
	return out, nil
}

// UnifiedTimeline returns the sorted union of all per-symbol dates.
func (p *Processor) UnifiedTimeline(data map[string][]types.PriceBar) []string {
	seen := make(map[string]struct{})
	for _, bars := range data {
		for _, b := range bars {
			seen[b.Date] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// DateIndices maps each symbol's dates to bar indices for O(1) per-day
// lookup.
func (p *Processor) DateIndices(data map[string][]types.PriceBar) map[string]map[string]int {
	out := make(map[string]map[string]int, len(data))
	for symbol, bars := range data {
		idx := make(map[string]int, len(bars))
		for i, b := range bars {
			idx[b.Date] = i
		}
		out[symbol] = idx
	}
	return out
}

// UpdateWindows advances the sliding windows to currentDate. Symbols
// with a bar today get it appended and their price set to the close;
// symbols without one keep their previous price (forward-fill).
func (p *Processor) UpdateWindows(
	data map[string][]types.PriceBar,
	currentDate string,
	indices map[string]map[string]int,
	windows map[string][]types.PriceBar,
	prices map[string]decimal.Decimal,
) {
	for symbol, idx := range indices {
		i, ok := idx[currentDate]
		if !ok {
			continue
		}
		bar := data[symbol][i]
		windows[symbol] = append(windows[symbol], bar)
		prices[symbol] = bar.Close
	}
}

// ValidateConsistency warns when symbols carry noticeably uneven amounts
// of data. Non-fatal: gaps are handled by forward-fill.
func (p *Processor) ValidateConsistency(data map[string][]types.PriceBar) {
	if len(data) < 2 {
		return
	}
	min, max := -1, 0
	for _, bars := range data {
		n := len(bars)
		if min < 0 || n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	if float64(max) > 1.1*float64(min) {
		p.logger.Warn("uneven data coverage across symbols",
			zap.Int("min_data_points", min),
			zap.Int("max_data_points", max),
		)
	}
}
