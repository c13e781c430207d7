// Package store provides read-only access to historical OHLCV rows and
// per-symbol temporal metadata.
package store

import (
	"context"
	"sort"

	"github.com/meridianquant/backtester/pkg/types"
)

// RawRow is one price row as fetched from the backing store. Field names
// loosely follow the wire contract (time/date, open/open_price, ...);
// the data processor performs tolerant conversion.
type RawRow map[string]any

// PriceStore is the read-only interface over historical prices. It may
// be shared across requests; implementations must be safe for
// concurrent reads.
type PriceStore interface {
	// GetStockPrices returns raw rows for [start, end], ascending by time.
	GetStockPrices(ctx context.Context, symbol, start, end string) ([]RawRow, error)
	// CheckSymbolExists reports whether the store knows the symbol.
	CheckSymbolExists(ctx context.Context, symbol string) (bool, error)
	// IsStockTradeable reports whether the symbol was between its
	// IPO/listing and any delisting on the given date.
	IsStockTradeable(ctx context.Context, symbol, date string) (bool, error)
	// GetStockTemporalInfo returns the symbol's listing window.
	GetStockTemporalInfo(ctx context.Context, symbol string) (*types.TemporalInfo, error)
}

// Tradeable applies the listing-window predicate to a temporal record.
// Unknown bounds do not restrict: a symbol with no recorded delisting is
// tradeable indefinitely.
func Tradeable(info *types.TemporalInfo, date string) bool {
	if info == nil {
		return true
	}
	start := info.IPODate
	if start == "" {
		start = info.ListingDate
	}
	if start == "" {
		start = info.FirstTradingDate
	}
	if start != "" && date < start {
		return false
	}
	if info.DelistingDate != "" && date > info.DelistingDate {
		return false
	}
	if info.LastTradingDate != "" && date > info.LastTradingDate {
		return false
	}
	return true
}

// MemoryStore is an in-memory PriceStore used by tests and the --status
// probe. Bars are stored per symbol in ascending date order.
type MemoryStore struct {
	bars     map[string][]types.PriceBar
	temporal map[string]*types.TemporalInfo
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bars:     make(map[string][]types.PriceBar),
		temporal: make(map[string]*types.TemporalInfo),
	}
}

// AddBars appends bars for a symbol, keeping date order.
func (m *MemoryStore) AddBars(symbol string, bars []types.PriceBar) {
	m.bars[symbol] = append(m.bars[symbol], bars...)
	sort.Slice(m.bars[symbol], func(i, j int) bool {
		return m.bars[symbol][i].Date < m.bars[symbol][j].Date
	})
}

// SetTemporalInfo records the listing window for a symbol.
func (m *MemoryStore) SetTemporalInfo(symbol string, info *types.TemporalInfo) {
	m.temporal[symbol] = info
}

func (m *MemoryStore) GetStockPrices(_ context.Context, symbol, start, end string) ([]RawRow, error) {
	var out []RawRow
	for _, b := range m.bars[symbol] {
		if b.Date < start || b.Date > end {
			continue
		}
		out = append(out, RawRow{
			"time":   b.Date,
			"symbol": symbol,
			"open":   b.Open,
			"high":   b.High,
			"low":    b.Low,
			"close":  b.Close,
			"volume": b.Volume,
		})
	}
	return out, nil
}

func (m *MemoryStore) CheckSymbolExists(_ context.Context, symbol string) (bool, error) {
	_, ok := m.bars[symbol]
	return ok, nil
}

func (m *MemoryStore) IsStockTradeable(_ context.Context, symbol, date string) (bool, error) {
	return Tradeable(m.temporal[symbol], date), nil
}

func (m *MemoryStore) GetStockTemporalInfo(_ context.Context, symbol string) (*types.TemporalInfo, error) {
	if info, ok := m.temporal[symbol]; ok {
		return info, nil
	}
	return &types.TemporalInfo{}, nil
}
