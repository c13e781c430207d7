package execution_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/execution"
	"github.com/meridianquant/backtester/internal/portfolio"
	"github.com/meridianquant/backtester/pkg/types"
)

func buySignal(symbol string, price float64) types.TradingSignal {
	return types.TradingSignal{
		Kind:   types.SignalBuy,
		Symbol: symbol,
		Price:  decimal.NewFromFloat(price),
		Date:   "2024-03-04",
	}
}

func TestExecuteBuyAndSell(t *testing.T) {
	svc := execution.NewService(zap.NewNop())
	book := portfolio.New(decimal.NewFromInt(10000))

	trade, err := svc.Execute(book, buySignal("AAPL", 100), 10)
	if err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	if trade == nil || trade.Shares != 10 {
		t.Fatalf("Unexpected trade %+v", trade)
	}
	if !trade.Value.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Trade value = %s", trade.Value)
	}

	sell := buySignal("AAPL", 120)
	sell.Kind = types.SignalSell
	trade, err = svc.Execute(book, sell, 10)
	if err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	if !trade.RealizedPnL.Equal(decimal.NewFromInt(200)) {
		t.Errorf("Realized pnl = %s, want 200", trade.RealizedPnL)
	}

	if svc.Executed() != 2 || svc.Rejected() != 0 {
		t.Errorf("Counters = %d executed, %d rejected", svc.Executed(), svc.Rejected())
	}
	if len(svc.Trades()) != 2 {
		t.Errorf("Trade log has %d entries", len(svc.Trades()))
	}
}

func TestExecuteZeroSharesIsNoop(t *testing.T) {
	svc := execution.NewService(zap.NewNop())
	book := portfolio.New(decimal.NewFromInt(10000))

	trade, err := svc.Execute(book, buySignal("AAPL", 100), 0)
	if err != nil || trade != nil {
		t.Errorf("Zero-share execute should be a silent no-op, got %v / %v", trade, err)
	}
	if svc.Executed() != 0 || svc.Rejected() != 0 {
		t.Error("Counters moved on a no-op")
	}
}

func TestExecuteCountsRejections(t *testing.T) {
	svc := execution.NewService(zap.NewNop())
	book := portfolio.New(decimal.NewFromInt(100))

	if _, err := svc.Execute(book, buySignal("AAPL", 100), 10); err == nil {
		t.Error("Underfunded buy was accepted")
	}
	sell := buySignal("MSFT", 50)
	sell.Kind = types.SignalSell
	if _, err := svc.Execute(book, sell, 5); err == nil {
		t.Error("Sell without position was accepted")
	}

	if svc.Rejected() != 2 {
		t.Errorf("Rejected = %d, want 2", svc.Rejected())
	}
	if svc.Executed() != 0 {
		t.Errorf("Executed = %d, want 0", svc.Executed())
	}
}

func TestValidationLadder(t *testing.T) {
	svc := execution.NewService(zap.NewNop())
	book := portfolio.New(decimal.NewFromInt(10000))

	noSymbol := buySignal("", 100)
	if _, err := svc.Execute(book, noSymbol, 5); !apperr.HasCode(err, apperr.CodeInvalidSymbol) {
		t.Errorf("Missing symbol: got %v", err)
	}

	hold := buySignal("AAPL", 100)
	hold.Kind = types.SignalHold
	if _, err := svc.Execute(book, hold, 5); !apperr.HasCode(err, apperr.CodeHoldSignal) {
		t.Errorf("Hold signal: got %v", err)
	}

	unknown := buySignal("AAPL", 100)
	unknown.Kind = types.SignalKind("SHORT")
	if _, err := svc.Execute(book, unknown, 5); !apperr.HasCode(err, apperr.CodeInvalidSignalType) {
		t.Errorf("Unknown kind: got %v", err)
	}

	free := buySignal("AAPL", 0)
	if _, err := svc.Execute(book, free, 5); !apperr.HasCode(err, apperr.CodeInvalidPrice) {
		t.Errorf("Non-positive price: got %v", err)
	}

	undated := buySignal("AAPL", 100)
	undated.Date = ""
	if _, err := svc.Execute(book, undated, 5); !apperr.HasCode(err, apperr.CodeInvalidDate) {
		t.Errorf("Missing date: got %v", err)
	}

	if svc.Executed() != 0 {
		t.Errorf("Executed = %d, want 0", svc.Executed())
	}
	if svc.Rejected() != 5 {
		t.Errorf("Rejected = %d, want 5", svc.Rejected())
	}
}
