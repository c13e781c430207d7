// Package execution turns sized signals into portfolio mutations and
// keeps audit counters over the run.
package execution

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/portfolio"
	"github.com/meridianquant/backtester/pkg/types"
)

// Service validates and executes trades against a portfolio. Not safe
// for concurrent use; each simulation owns its own service.
type Service struct {
	logger *zap.Logger

	executed int
	rejected int
	trades   []types.Trade
}

// NewService creates an execution service.
func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger}
}

// Execute applies a sized signal to the book. A zero share count is not
// an error; it means sizing suppressed the trade and nothing is
// recorded. Validation failures count as rejections.
func (s *Service) Execute(book *portfolio.Portfolio, signal types.TradingSignal, shares int64) (*types.Trade, error) {
	if err := validateSignal(signal); err != nil {
		s.rejected++
		return nil, err
	}
	if shares == 0 {
		return nil, nil
	}
	if shares < 0 {
		s.rejected++
		return nil, apperr.Newf(apperr.CodeOrderFailed, "negative share count %d for %s", shares, signal.Symbol)
	}

	if signal.Kind == types.SignalBuy {
		return s.executeBuy(book, signal, shares)
	}
	return s.executeSell(book, signal, shares)
}

// validateSignal checks the executable-signal contract: a symbol, an
// actionable kind, a positive price and a date.
func validateSignal(signal types.TradingSignal) error {
	if signal.Symbol == "" {
		return apperr.New(apperr.CodeInvalidSymbol, "signal carries no symbol")
	}
	switch signal.Kind {
	case types.SignalBuy, types.SignalSell:
	case types.SignalHold:
		return apperr.Newf(apperr.CodeHoldSignal, "hold signal for %s is not executable", signal.Symbol)
	default:
		return apperr.Newf(apperr.CodeInvalidSignalType, "unknown signal kind %q for %s", signal.Kind, signal.Symbol)
	}
	if signal.Price.Sign() <= 0 {
		return apperr.Newf(apperr.CodeInvalidPrice, "non-positive price for %s", signal.Symbol)
	}
	if signal.Date == "" {
		return apperr.Newf(apperr.CodeInvalidDate, "signal for %s carries no date", signal.Symbol)
	}
	return nil
}

func (s *Service) executeBuy(book *portfolio.Portfolio, signal types.TradingSignal, shares int64) (*types.Trade, error) {
	if err := book.Buy(signal.Symbol, shares, signal.Price); err != nil {
		s.rejected++
		s.logger.Debug("buy rejected",
			zap.String("symbol", signal.Symbol),
			zap.Int64("shares", shares),
			zap.Error(err))
		return nil, err
	}
	trade := types.Trade{
		Symbol: signal.Symbol,
		Kind:   types.SignalBuy,
		Shares: shares,
		Price:  signal.Price,
		Date:   signal.Date,
		Value:  signal.Price.Mul(decimal.NewFromInt(shares)),
	}
	s.record(trade)
	return &trade, nil
}

func (s *Service) executeSell(book *portfolio.Portfolio, signal types.TradingSignal, shares int64) (*types.Trade, error) {
	pnl, err := book.Sell(signal.Symbol, shares, signal.Price)
	if err != nil {
		s.rejected++
		s.logger.Debug("sell rejected",
			zap.String("symbol", signal.Symbol),
			zap.Int64("shares", shares),
			zap.Error(err))
		return nil, err
	}
	trade := types.Trade{
		Symbol:      signal.Symbol,
		Kind:        types.SignalSell,
		Shares:      shares,
		Price:       signal.Price,
		Date:        signal.Date,
		Value:       signal.Price.Mul(decimal.NewFromInt(shares)),
		RealizedPnL: pnl,
	}
	s.record(trade)
	return &trade, nil
}

func (s *Service) record(trade types.Trade) {
	s.executed++
	s.trades = append(s.trades, trade)
	s.logger.Debug("trade executed",
		zap.String("symbol", trade.Symbol),
		zap.String("side", string(trade.Kind)),
		zap.Int64("shares", trade.Shares),
		zap.String("price", trade.Price.String()))
}

// Executed returns the count of filled trades.
func (s *Service) Executed() int { return s.executed }

// Rejected returns the count of trades refused by validation.
func (s *Service) Rejected() int { return s.rejected }

// Trades returns the fill log in execution order.
func (s *Service) Trades() []types.Trade { return s.trades }
