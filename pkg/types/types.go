// Package types provides shared type definitions for the backtesting kernel.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for trading dates. Dates are kept as
// strings at package boundaries; lexicographic order equals
// chronological order.
const DateLayout = "2006-01-02"

// ParseDate parses a wire-format trading date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// SignalKind is a strategy's recommendation for a symbol on a given day.
type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
	SignalHold SignalKind = "HOLD"
)

// PriceBar is a single daily OHLCV bar. Immutable after construction.
type PriceBar struct {
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// TradingSignal is an actionable strategy output. Symbol is always set so
// per-symbol metrics stay well-defined.
type TradingSignal struct {
	Kind       SignalKind      `json:"signal"`
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Date       string          `json:"date"`
	Reason     string          `json:"reason"`
	Confidence float64         `json:"confidence"`
}

// EquityPoint is one sample of the portfolio's total value.
type EquityPoint struct {
	Date  string          `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// SymbolPerformance aggregates per-symbol trade outcomes.
type SymbolPerformance struct {
	TradesCount        int             `json:"trades_count"`
	WinningTrades      int             `json:"winning_trades"`
	LosingTrades       int             `json:"losing_trades"`
	WinRate            float64         `json:"win_rate"`
	TotalReturnPct     float64         `json:"total_return_pct"`
	FinalPositionValue decimal.Decimal `json:"final_position_value"`
	AllocationPct      float64         `json:"symbol_allocation_pct"`
	Signals            []TradingSignal `json:"symbol_signals"`
}

// Trade is a filled order recorded by the execution service.
// RealizedPnL is set on sells only.
type Trade struct {
	Symbol      string          `json:"symbol"`
	Kind        SignalKind      `json:"side"`
	Shares      int64           `json:"shares"`
	Price       decimal.Decimal `json:"price"`
	Date        string          `json:"date"`
	Value       decimal.Decimal `json:"value"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// TemporalInfo describes a symbol's listing window. Fields are empty when
// the store has no record.
type TemporalInfo struct {
	IPODate          string `json:"ipo_date,omitempty"`
	ListingDate      string `json:"listing_date,omitempty"`
	DelistingDate    string `json:"delisting_date,omitempty"`
	FirstTradingDate string `json:"first_trading_date,omitempty"`
	LastTradingDate  string `json:"last_trading_date,omitempty"`
}

// BacktestResult is the full outcome of one simulation run.
type BacktestResult struct {
	Symbols              []string                      `json:"symbols"`
	StartingCapital      decimal.Decimal               `json:"starting_capital"`
	EndingValue          decimal.Decimal               `json:"ending_value"`
	TotalReturnPct       float64                       `json:"total_return_pct"`
	TotalTrades          int                           `json:"total_trades"`
	WinningTrades        int                           `json:"winning_trades"`
	LosingTrades         int                           `json:"losing_trades"`
	WinRate              float64                       `json:"win_rate"`
	MaxDrawdownPct       float64                       `json:"max_drawdown"`
	SharpeRatio          float64                       `json:"sharpe_ratio"`
	AnnualizedReturnPct  float64                       `json:"annualized_return"`
	VolatilityPct        float64                       `json:"volatility"`
	ProfitFactor         float64                       `json:"profit_factor"`
	AverageWin           float64                       `json:"average_win"`
	AverageLoss          float64                       `json:"average_loss"`
	DiversificationRatio float64                       `json:"portfolio_diversification_ratio"`
	SignalsGenerated     []TradingSignal               `json:"signals_generated"`
	EquityCurve          []EquityPoint                 `json:"equity_curve"`
	SymbolPerformance    map[string]*SymbolPerformance `json:"symbol_performance"`
	StartDate            string                        `json:"start_date"`
	EndDate              string                        `json:"end_date"`
	StrategyName         string                        `json:"strategy_name"`
}

// WorkerResult captures one spawned worker process.
type WorkerResult struct {
	Symbols         []string        `json:"symbols"`
	ReturnCode      int             `json:"return_code"`
	Stdout          string          `json:"stdout"`
	Stderr          string          `json:"stderr"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	Result          *ResultDocument `json:"result,omitempty"`
	TimedOut        bool            `json:"timed_out,omitempty"`
}
