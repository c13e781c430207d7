package types

// ResultDocument is the JSON representation a worker prints to stdout.
// Scalars are plain numbers; the performance_metrics block repeats them
// grouped for consumers that only want the summary.
type ResultDocument struct {
	StartingCapital  float64             `json:"starting_capital"`
	EndingValue      float64             `json:"ending_value"`
	TotalReturnPct   float64             `json:"total_return_pct"`
	Trades           int                 `json:"trades"`
	WinningTrades    int                 `json:"winning_trades"`
	LosingTrades     int                 `json:"losing_trades"`
	WinRate          float64             `json:"win_rate"`
	MaxDrawdown      float64             `json:"max_drawdown"`
	SharpeRatio      float64             `json:"sharpe_ratio"`
	Volatility       float64             `json:"volatility"`
	AnnualizedReturn float64             `json:"annualized_return"`
	ProfitFactor     float64             `json:"profit_factor"`
	AverageWin       float64             `json:"average_win"`
	AverageLoss      float64             `json:"average_loss"`
	StartDate        string              `json:"start_date"`
	EndDate          string              `json:"end_date"`
	Metrics          PerformanceDocument `json:"performance_metrics"`
	Signals          []SignalDocument    `json:"signals"`
	EquityCurve      []EquityDocument    `json:"equity_curve"`
}

// PerformanceDocument groups the scalar metrics of a ResultDocument.
type PerformanceDocument struct {
	TotalReturnPct   float64 `json:"total_return_pct"`
	WinRate          float64 `json:"win_rate"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	Volatility       float64 `json:"volatility"`
	AnnualizedReturn float64 `json:"annualized_return"`
	ProfitFactor     float64 `json:"profit_factor"`
	AverageWin       float64 `json:"average_win"`
	AverageLoss      float64 `json:"average_loss"`
	Diversification  float64 `json:"portfolio_diversification_ratio"`
}

// SignalDocument is a TradingSignal on the wire.
type SignalDocument struct {
	Signal     string  `json:"signal"`
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Date       string  `json:"date"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// EquityDocument is an EquityPoint on the wire.
type EquityDocument struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// NewResultDocument flattens a BacktestResult into its wire form.
func NewResultDocument(r *BacktestResult) *ResultDocument {
	doc := &ResultDocument{
		StartingCapital:  r.StartingCapital.InexactFloat64(),
		EndingValue:      r.EndingValue.InexactFloat64(),
		TotalReturnPct:   r.TotalReturnPct,
		Trades:           r.TotalTrades,
		WinningTrades:    r.WinningTrades,
		LosingTrades:     r.LosingTrades,
		WinRate:          r.WinRate,
		MaxDrawdown:      r.MaxDrawdownPct,
		SharpeRatio:      r.SharpeRatio,
		Volatility:       r.VolatilityPct,
		AnnualizedReturn: r.AnnualizedReturnPct,
		ProfitFactor:     r.ProfitFactor,
		AverageWin:       r.AverageWin,
		AverageLoss:      r.AverageLoss,
		StartDate:        r.StartDate,
		EndDate:          r.EndDate,
		Metrics: PerformanceDocument{
			TotalReturnPct:   r.TotalReturnPct,
			WinRate:          r.WinRate,
			MaxDrawdown:      r.MaxDrawdownPct,
			SharpeRatio:      r.SharpeRatio,
			Volatility:       r.VolatilityPct,
			AnnualizedReturn: r.AnnualizedReturnPct,
			ProfitFactor:     r.ProfitFactor,
			AverageWin:       r.AverageWin,
			AverageLoss:      r.AverageLoss,
			Diversification:  r.DiversificationRatio,
		},
		Signals:     make([]SignalDocument, 0, len(r.SignalsGenerated)),
		EquityCurve: make([]EquityDocument, 0, len(r.EquityCurve)),
	}
	for _, s := range r.SignalsGenerated {
		doc.Signals = append(doc.Signals, SignalDocument{
			Signal:     string(s.Kind),
			Symbol:     s.Symbol,
			Price:      s.Price.InexactFloat64(),
			Date:       s.Date,
			Reason:     s.Reason,
			Confidence: s.Confidence,
		})
	}
	for _, p := range r.EquityCurve {
		doc.EquityCurve = append(doc.EquityCurve, EquityDocument{
			Date:  p.Date,
			Value: p.Value.InexactFloat64(),
		})
	}
	return doc
}
