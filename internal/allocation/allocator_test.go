package allocation_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/allocation"
	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/portfolio"
	"github.com/meridianquant/backtester/pkg/types"
)

func newAllocator(cfg types.AllocationConfig) *allocation.Allocator {
	return allocation.New(zap.NewNop(), cfg)
}

func prices(pairs map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(pairs))
	for s, p := range pairs {
		out[s] = decimal.NewFromFloat(p)
	}
	return out
}

func TestEqualWeightAllocation(t *testing.T) {
	alloc := newAllocator(types.DefaultAllocationConfig())
	book := portfolio.New(decimal.NewFromInt(100000))

	result, err := alloc.CalculateAllocation(
		[]string{"AAPL", "MSFT", "GOOG", "AMZN"},
		decimal.NewFromInt(100000),
		book,
		prices(map[string]float64{"AAPL": 150, "MSFT": 300, "GOOG": 2000, "AMZN": 120}),
		"2024-01-02",
	)
	if err != nil {
		t.Fatalf("CalculateAllocation failed: %v", err)
	}

	var sum float64
	for symbol, w := range result.TargetWeights {
		if w != 0.25 {
			t.Errorf("Weight for %s = %f, want 0.25", symbol, w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 0.01 {
		t.Errorf("Weights sum to %f", sum)
	}

	// 5% cash reserve on the default config.
	if !result.CashReserved.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("CashReserved = %s, want 5000", result.CashReserved)
	}
	if !result.TotalAllocatedCapital.Equal(decimal.NewFromInt(95000)) {
		t.Errorf("TotalAllocatedCapital = %s", result.TotalAllocatedCapital)
	}

	// target_values = allocated * weight; shares floored.
	if !result.TargetValues["AAPL"].Equal(decimal.NewFromFloat(23750)) {
		t.Errorf("TargetValues[AAPL] = %s", result.TargetValues["AAPL"])
	}
	if result.TargetShares["AAPL"] != 158 {
		t.Errorf("TargetShares[AAPL] = %d, want floor(23750/150)=158", result.TargetShares["AAPL"])
	}
}

func TestAllocationRejectsBadInput(t *testing.T) {
	alloc := newAllocator(types.DefaultAllocationConfig())
	book := portfolio.New(decimal.NewFromInt(1000))

	if _, err := alloc.CalculateAllocation(nil, decimal.NewFromInt(1000), book, nil, "2024-01-02"); !apperr.HasCode(err, apperr.CodeInvalidSymbol) {
		t.Errorf("Expected invalid_symbol for empty list, got %v", err)
	}
	if _, err := alloc.CalculateAllocation([]string{"AAPL"}, decimal.Zero, book, nil, "2024-01-02"); !apperr.HasCode(err, apperr.CodeInvalidCapital) {
		t.Errorf("Expected invalid_capital, got %v", err)
	}
	if _, err := alloc.CalculateAllocation([]string{"AAPL"}, decimal.NewFromInt(1000), book,
		prices(map[string]float64{"AAPL": -1}), "2024-01-02"); !apperr.HasCode(err, apperr.CodeAllocationFailed) {
		t.Errorf("Expected allocation_failed when every symbol is filtered, got %v", err)
	}
}

func TestRiskFilterExcludesUnpricedSymbols(t *testing.T) {
	alloc := newAllocator(types.DefaultAllocationConfig())
	book := portfolio.New(decimal.NewFromInt(10000))

	result, err := alloc.CalculateAllocation(
		[]string{"AAPL", "GHOST"},
		decimal.NewFromInt(10000),
		book,
		prices(map[string]float64{"AAPL": 150}),
		"2024-01-02",
	)
	if err != nil {
		t.Fatalf("CalculateAllocation failed: %v", err)
	}
	if len(result.ExcludedSymbols) != 1 || result.ExcludedSymbols[0] != "GHOST" {
		t.Errorf("ExcludedSymbols = %v", result.ExcludedSymbols)
	}
	if _, ok := result.TargetWeights["GHOST"]; ok {
		t.Error("Excluded symbol received a weight")
	}
}

// Constraint enforcement clamps to the configured band and renormalises.
func TestConstraintClampAndRenormalize(t *testing.T) {
	cfg := types.DefaultAllocationConfig()
	cfg.Strategy = types.AllocCustom
	cfg.CustomWeights = map[string]float64{"AAPL": 0.8, "MSFT": 0.1, "GOOG": 0.1}
	alloc := newAllocator(cfg)
	book := portfolio.New(decimal.NewFromInt(10000))

	result, err := alloc.CalculateAllocation(
		[]string{"AAPL", "MSFT", "GOOG"},
		decimal.NewFromInt(10000),
		book,
		prices(map[string]float64{"AAPL": 100, "MSFT": 100, "GOOG": 100}),
		"2024-01-02",
	)
	if err != nil {
		t.Fatalf("CalculateAllocation failed: %v", err)
	}

	var sum float64
	for symbol, w := range result.TargetWeights {
		sum += w
		// Post-renormalisation weights may exceed the raw cap, but no
		// raw weight above max may survive unclamped relative to peers.
		if w < 0 {
			t.Errorf("Negative weight for %s", symbol)
		}
	}
	if math.Abs(sum-1.0) > 0.01 {
		t.Errorf("Weights sum to %f after renormalisation", sum)
	}
	if result.TargetWeights["AAPL"] <= result.TargetWeights["MSFT"] {
		t.Error("Clamping erased the custom ordering")
	}
}

func TestVolatilityAdjustedPrefersCalmSymbol(t *testing.T) {
	cfg := types.DefaultAllocationConfig()
	cfg.Strategy = types.AllocVolatilityAdjusted
	alloc := newAllocator(cfg)
	book := portfolio.New(decimal.NewFromInt(10000))

	// CALM drifts slowly, WILD swings hard.
	calm, wild := 100.0, 100.0
	for i := 0; i < 30; i++ {
		calm *= 1.001
		if i%2 == 0 {
			wild *= 1.08
		} else {
			wild *= 0.92
		}
		alloc.RecordPrices(prices(map[string]float64{"CALM": calm, "WILD": wild}))
	}

	result, err := alloc.CalculateAllocation(
		[]string{"CALM", "WILD"},
		decimal.NewFromInt(10000),
		book,
		prices(map[string]float64{"CALM": calm, "WILD": wild}),
		"2024-02-15",
	)
	if err != nil {
		t.Fatalf("CalculateAllocation failed: %v", err)
	}
	if result.TargetWeights["CALM"] <= result.TargetWeights["WILD"] {
		t.Errorf("Inverse volatility should favour CALM: %v", result.TargetWeights)
	}
}

// Buy sizing anchors to initial capital: 6% position cap, 0.8% trade
// slice with a $100 floor.
func TestBuySizeAnchorsToInitialCapital(t *testing.T) {
	alloc := newAllocator(types.DefaultAllocationConfig())
	alloc.SetInitialCapital(decimal.NewFromInt(100000))
	book := portfolio.New(decimal.NewFromInt(100000))
	price := decimal.NewFromInt(100)

	// trade_amount = max(100000*0.008, 100) = 800 -> 8 shares.
	shares := alloc.PositionSize("AAPL", book, price, book.TotalValue(nil), types.SignalBuy)
	if shares != 8 {
		t.Fatalf("Expected 8 shares, got %d", shares)
	}

	// Build toward the 6% cap (6000 = 60 shares) and verify the cap
	// is never exceeded.
	maxValue := decimal.NewFromInt(6000)
	for i := 0; i < 20; i++ {
		n := alloc.PositionSize("AAPL", book, price, book.TotalValue(nil), types.SignalBuy)
		if n == 0 {
			break
		}
		if err := book.Buy("AAPL", n, price); err != nil {
			t.Fatalf("Buy failed: %v", err)
		}
		value := book.Position("AAPL").Value(price)
		if value.GreaterThan(maxValue) {
			t.Fatalf("Position value %s exceeded the 6%% cap", value)
		}
	}
	if book.Position("AAPL") == nil || book.Position("AAPL").Shares != 60 {
		t.Errorf("Expected the cap to land exactly at 60 shares, got %+v", book.Position("AAPL"))
	}
	if alloc.PositionSize("AAPL", book, price, book.TotalValue(nil), types.SignalBuy) != 0 {
		t.Error("Sizing at the cap must return 0")
	}
}

func TestBuySizeFloorsAtMinimumTrade(t *testing.T) {
	alloc := newAllocator(types.DefaultAllocationConfig())
	alloc.SetInitialCapital(decimal.NewFromInt(5000))
	book := portfolio.New(decimal.NewFromInt(5000))

	// 0.8% of 5000 is 40, below the $100 floor -> 100/25 = 4 shares.
	shares := alloc.PositionSize("AAPL", book, decimal.NewFromInt(25), book.TotalValue(nil), types.SignalBuy)
	if shares != 4 {
		t.Errorf("Expected 4 shares from the $100 floor, got %d", shares)
	}
}

func TestSellSizeRespectsFractionAndDust(t *testing.T) {
	alloc := newAllocator(types.DefaultAllocationConfig())
	alloc.SetInitialCapital(decimal.NewFromInt(100000))
	book := portfolio.New(decimal.NewFromInt(100000))
	price := decimal.NewFromInt(10)
	if err := book.Buy("AAPL", 100, price); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	// sell_amount = max(0.8% * 100000, 100) = 800 -> 80 shares, but at
	// most 30% of 100 held = 30 shares.
	shares := alloc.PositionSize("AAPL", book, price, book.TotalValue(map[string]decimal.Decimal{"AAPL": price}), types.SignalSell)
	if shares != 30 {
		t.Errorf("Expected 30 shares (30%% cap), got %d", shares)
	}

	// A tiny position sells below the $50 dust threshold -> 0.
	small := portfolio.New(decimal.NewFromInt(1000))
	if err := small.Buy("PENNY", 10, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	dust := alloc.PositionSize("PENNY", small, decimal.NewFromInt(1), small.TotalValue(nil), types.SignalSell)
	if dust != 0 {
		t.Errorf("Dust sell should be suppressed, got %d shares", dust)
	}

	if alloc.PositionSize("MSFT", book, price, book.TotalValue(nil), types.SignalSell) != 0 {
		t.Error("Selling without a position must size to 0")
	}
}

func TestShouldRebalanceFrequency(t *testing.T) {
	cfg := types.DefaultAllocationConfig()
	cfg.RebalancingFreqDays = 30
	alloc := newAllocator(cfg)
	quote := prices(map[string]float64{"AAPL": 100, "MSFT": 100})

	// A 50/50 book matching the recorded targets, so drift stays zero
	// and only the frequency clause can trigger.
	book := portfolio.New(decimal.NewFromInt(10000))
	if err := book.Buy("AAPL", 50, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	if err := book.Buy("MSFT", 50, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	if _, err := alloc.CalculateAllocation([]string{"AAPL", "MSFT"}, decimal.NewFromInt(10000), book, quote, "2024-01-02"); err != nil {
		t.Fatalf("CalculateAllocation failed: %v", err)
	}

	if alloc.ShouldRebalance(book, quote, "2024-01-15") {
		t.Error("Rebalance triggered before the frequency window elapsed")
	}
	if !alloc.ShouldRebalance(book, quote, "2024-02-15") {
		t.Error("Rebalance not triggered after the frequency window")
	}
}

func TestShouldRebalanceDrift(t *testing.T) {
	cfg := types.DefaultAllocationConfig()
	cfg.RebalancingFreqDays = 3650
	cfg.RebalancingThreshold = 0.05
	alloc := newAllocator(cfg)
	book := portfolio.New(decimal.NewFromInt(10000))
	quote := prices(map[string]float64{"AAPL": 100, "MSFT": 100})

	if _, err := alloc.CalculateAllocation([]string{"AAPL", "MSFT"}, decimal.NewFromInt(10000), book, quote, "2024-01-02"); err != nil {
		t.Fatalf("CalculateAllocation failed: %v", err)
	}

	// An empty book against 50/50 targets drifts by the full weight.
	if !alloc.ShouldRebalance(book, quote, "2024-01-03") {
		t.Error("Full drift against the recorded targets did not trigger")
	}
}

func TestRebalanceDisabled(t *testing.T) {
	cfg := types.DefaultAllocationConfig()
	cfg.EnableRebalancing = false
	alloc := newAllocator(cfg)
	book := portfolio.New(decimal.NewFromInt(10000))
	quote := prices(map[string]float64{"AAPL": 100})

	if _, err := alloc.CalculateAllocation([]string{"AAPL"}, decimal.NewFromInt(10000), book, quote, "2024-01-02"); err != nil {
		t.Fatalf("CalculateAllocation failed: %v", err)
	}
	if alloc.ShouldRebalance(book, quote, "2030-01-01") {
		t.Error("Rebalance triggered while disabled")
	}
}
