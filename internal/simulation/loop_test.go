package simulation_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/simulation"
	"github.com/meridianquant/backtester/internal/store"
	"github.com/meridianquant/backtester/pkg/types"
)

// january returns sequential January 2024 trading dates.
func january(day int) string {
	return fmt.Sprintf("2024-01-%02d", day)
}

func seedSeries(ms *store.MemoryStore, symbol string, closes []float64) {
	bars := make([]types.PriceBar, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		bars[i] = types.PriceBar{
			Date: january(i + 2), Open: price, High: price, Low: price, Close: price, Volume: 10000,
		}
	}
	ms.AddBars(symbol, bars)
}

func crossingSeries() []float64 {
	// Declines, then rallies hard enough to cross a 2-bar average over
	// a 4-bar one, then fades again to produce the inverse cross.
	return []float64{110, 100, 90, 80, 80, 120, 125, 130, 120, 100, 80, 70}
}

func testConfig(symbols ...string) *types.TradingConfig {
	return &types.TradingConfig{
		Symbols:         symbols,
		StartDate:       january(2),
		EndDate:         january(31),
		StartingCapital: decimal.NewFromInt(100000),
		StrategyName:    "ma_crossover",
		StrategyParams:  map[string]any{"short_ma": 2, "long_ma": 4},
	}
}

func TestRunEquityCurveShape(t *testing.T) {
	ms := store.NewMemoryStore()
	seedSeries(ms, "AAPL", crossingSeries())

	loop := simulation.New(zap.NewNop(), ms, types.DefaultAllocationConfig())
	result, err := loop.Run(context.Background(), testConfig("AAPL"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.EquityCurve[0].Value.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("equity_curve[0] = %s, want the starting capital", result.EquityCurve[0].Value)
	}
	// One point per processed day plus the starting prefix.
	if len(result.EquityCurve) != 1+len(crossingSeries()) {
		t.Errorf("equity curve has %d points, want %d", len(result.EquityCurve), 1+len(crossingSeries()))
	}
	if result.StrategyName != "ma_crossover" {
		t.Errorf("StrategyName = %s", result.StrategyName)
	}
	if result.TotalTrades == 0 {
		t.Error("Expected the crossing series to generate trades")
	}
	for _, sig := range result.SignalsGenerated {
		if sig.Symbol == "" {
			t.Error("Signal without a symbol")
		}
	}
}

func TestRunNoData(t *testing.T) {
	ms := store.NewMemoryStore()
	loop := simulation.New(zap.NewNop(), ms, types.DefaultAllocationConfig())

	_, err := loop.Run(context.Background(), testConfig("GHOST"))
	if !apperr.HasCode(err, apperr.CodeNoDataAvailable) {
		t.Errorf("Expected no_data_available, got %v", err)
	}
}

func TestRunDeterministic(t *testing.T) {
	run := func() []byte {
		ms := store.NewMemoryStore()
		seedSeries(ms, "AAPL", crossingSeries())
		seedSeries(ms, "MSFT", []float64{300, 310, 290, 280, 285, 320, 330, 340, 320, 300, 280, 270})

		loop := simulation.New(zap.NewNop(), ms, types.DefaultAllocationConfig())
		result, err := loop.Run(context.Background(), testConfig("AAPL", "MSFT"))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		raw, err := json.Marshal(types.NewResultDocument(result))
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		return raw
	}

	first := run()
	second := run()
	if !bytes.Equal(first, second) {
		t.Error("Two runs over identical inputs produced different result documents")
	}
}

func TestRunCancellation(t *testing.T) {
	ms := store.NewMemoryStore()
	seedSeries(ms, "AAPL", crossingSeries())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := simulation.New(zap.NewNop(), ms, types.DefaultAllocationConfig())
	result, err := loop.Run(ctx, testConfig("AAPL"))
	if err == nil {
		t.Fatal("Cancelled context did not abort the run")
	}
	// The curve built before the abort stays with the result.
	if result == nil || len(result.EquityCurve) == 0 {
		t.Fatal("Aborted run lost its partial equity curve")
	}
	if !result.EquityCurve[0].Value.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("equity_curve[0] = %s", result.EquityCurve[0].Value)
	}
}

// A symbol delisted mid-simulation is force-sold in full.
func TestRunForceSellOnDelisting(t *testing.T) {
	ms := store.NewMemoryStore()
	seedSeries(ms, "DEAD", crossingSeries())
	ms.SetTemporalInfo("DEAD", &types.TemporalInfo{DelistingDate: january(8)})

	loop := simulation.New(zap.NewNop(), ms, types.DefaultAllocationConfig())
	result, err := loop.Run(context.Background(), testConfig("DEAD"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var forcedSell bool
	var buys int
	for _, sig := range result.SignalsGenerated {
		if sig.Kind == types.SignalBuy {
			buys++
		}
		if sig.Kind == types.SignalSell && sig.Symbol == "DEAD" {
			forcedSell = true
		}
	}
	if buys == 0 {
		t.Fatal("Series should buy before the delisting date")
	}
	if !forcedSell {
		t.Error("Delisted holding was not cleared")
	}
}

func TestRunUnknownStrategy(t *testing.T) {
	ms := store.NewMemoryStore()
	seedSeries(ms, "AAPL", crossingSeries())

	cfg := testConfig("AAPL")
	cfg.StrategyName = "astrology"
	loop := simulation.New(zap.NewNop(), ms, types.DefaultAllocationConfig())
	if _, err := loop.Run(context.Background(), cfg); !apperr.HasCode(err, apperr.CodeInvalidParameter) {
		t.Errorf("Expected invalid_parameter, got %v", err)
	}
}
