// Package portfolio provides the simulated cash-and-positions book.
package portfolio

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/meridianquant/backtester/internal/apperr"
)

// Position is a holding in one symbol. Shares are whole units; the
// average price covers the open shares only and survives partial sells.
type Position struct {
	Symbol       string          `json:"symbol"`
	Shares       int64           `json:"shares"`
	AveragePrice decimal.Decimal `json:"average_price"`
}

// IsEmpty reports whether the position holds no shares.
func (p *Position) IsEmpty() bool { return p.Shares == 0 }

// Value returns the position's worth at the given price.
func (p *Position) Value(price decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(p.Shares).Mul(price)
}

// Portfolio is the cash + positions book for one simulation request.
// It is exclusively owned by the driving loop; no internal locking.
type Portfolio struct {
	cash           decimal.Decimal
	initialCapital decimal.Decimal
	positions      map[string]*Position
	realizedPnL    decimal.Decimal
}

// New creates a portfolio funded with the given starting capital.
func New(startingCapital decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:           startingCapital,
		initialCapital: startingCapital,
		positions:      make(map[string]*Position),
	}
}

// Cash returns available cash.
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// InitialCapital returns the capital the book started with.
func (p *Portfolio) InitialCapital() decimal.Decimal { return p.initialCapital }

// RealizedPnL returns the cumulative realized profit and loss.
func (p *Portfolio) RealizedPnL() decimal.Decimal { return p.realizedPnL }

// Position returns the open position for a symbol, or nil.
func (p *Portfolio) Position(symbol string) *Position {
	pos, ok := p.positions[symbol]
	if !ok || pos.IsEmpty() {
		return nil
	}
	return pos
}

// Symbols returns the symbols with open positions, sorted ascending.
func (p *Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.positions))
	for sym, pos := range p.positions {
		if !pos.IsEmpty() {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Buy debits cash and updates the position atomically. It succeeds iff
// cash covers the full cost, shares is positive and price is
// non-negative.
func (p *Portfolio) Buy(symbol string, shares int64, price decimal.Decimal) error {
	if shares <= 0 {
		return apperr.Newf(apperr.CodeOrderFailed, "buy %s: share count must be positive, got %d", symbol, shares)
	}
	if price.IsNegative() {
		return apperr.Newf(apperr.CodeInvalidPrice, "buy %s: negative price %s", symbol, price)
	}
	cost := decimal.NewFromInt(shares).Mul(price)
	if p.cash.LessThan(cost) {
		return apperr.Newf(apperr.CodeInsufficientFunds, "buy %s: cost %s exceeds cash %s", symbol, cost, p.cash).
			WithDetail("shares", shares).
			WithDetail("price", price.String())
	}
	p.cash = p.cash.Sub(cost)

	pos, ok := p.positions[symbol]
	if !ok || pos.IsEmpty() {
		p.positions[symbol] = &Position{Symbol: symbol, Shares: shares, AveragePrice: price}
		return nil
	}
	totalShares := pos.Shares + shares
	totalCost := decimal.NewFromInt(pos.Shares).Mul(pos.AveragePrice).Add(cost)
	pos.AveragePrice = totalCost.Div(decimal.NewFromInt(totalShares))
	pos.Shares = totalShares
	return nil
}

// Sell credits cash and reduces the position. The average price is
// preserved for the remaining shares. Returns the realized PnL.
func (p *Portfolio) Sell(symbol string, shares int64, price decimal.Decimal) (decimal.Decimal, error) {
	if shares <= 0 {
		return decimal.Zero, apperr.Newf(apperr.CodeOrderFailed, "sell %s: share count must be positive, got %d", symbol, shares)
	}
	pos, ok := p.positions[symbol]
	if !ok || pos.IsEmpty() {
		return decimal.Zero, apperr.Newf(apperr.CodeNoPosition, "sell %s: no open position", symbol)
	}
	if pos.Shares < shares {
		return decimal.Zero, apperr.Newf(apperr.CodeOrderFailed, "sell %s: %d shares requested, %d held", symbol, shares, pos.Shares).
			WithDetail("held", pos.Shares)
	}

	proceeds := decimal.NewFromInt(shares).Mul(price)
	costBasis := decimal.NewFromInt(shares).Mul(pos.AveragePrice)
	pnl := proceeds.Sub(costBasis)

	p.cash = p.cash.Add(proceeds)
	p.realizedPnL = p.realizedPnL.Add(pnl)
	pos.Shares -= shares
	if pos.Shares == 0 {
		delete(p.positions, symbol)
	}
	return pnl, nil
}

// TotalValue values the book against the given close prices. Positions
// without a quoted price contribute nothing; callers forward-fill prices
// so that only never-quoted symbols are skipped.
func (p *Portfolio) TotalValue(prices map[string]decimal.Decimal) decimal.Decimal {
	total := p.cash
	for sym, pos := range p.positions {
		price, ok := prices[sym]
		if !ok {
			continue
		}
		total = total.Add(pos.Value(price))
	}
	return total
}

// PositionsValue returns the market value of all open positions.
func (p *Portfolio) PositionsValue(prices map[string]decimal.Decimal) decimal.Decimal {
	return p.TotalValue(prices).Sub(p.cash)
}
