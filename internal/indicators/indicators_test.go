package indicators_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/internal/indicators"
	"github.com/meridianquant/backtester/pkg/types"
)

func barsFromCloses(closes ...float64) []types.PriceBar {
	bars := make([]types.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = types.PriceBar{
			Date:  "2024-01-01",
			Close: decimal.NewFromFloat(c),
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	values, err := indicators.SMA([]float64{1, 2, 3, 4, 5}, 3)
	if err != nil {
		t.Fatalf("SMA failed: %v", err)
	}
	want := []float64{2, 3, 4}
	if len(values) != len(want) {
		t.Fatalf("Expected %d values, got %d", len(want), len(values))
	}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("SMA[%d] = %f, want %f", i, values[i], want[i])
		}
	}
}

func TestSMAErrors(t *testing.T) {
	if _, err := indicators.SMA([]float64{1, 2, 3}, 0); !apperr.HasCode(err, apperr.CodeInvalidPeriod) {
		t.Errorf("Expected invalid_period, got %v", err)
	}
	if _, err := indicators.SMA([]float64{1, 2}, 3); !apperr.HasCode(err, apperr.CodeInsufficientData) {
		t.Errorf("Expected insufficient_data, got %v", err)
	}
}

func TestEMASeedsWithFirstClose(t *testing.T) {
	values, err := indicators.EMA([]float64{10, 20, 30}, 2)
	if err != nil {
		t.Fatalf("EMA failed: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("Expected one value per bar, got %d", len(values))
	}
	if values[0] != 10 {
		t.Errorf("EMA seed = %f, want first close 10", values[0])
	}
	// multiplier 2/(2+1); ema1 = 20*2/3 + 10*1/3
	want := 20*2.0/3.0 + 10/3.0
	if diff := values[1] - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("EMA[1] = %f, want %f", values[1], want)
	}
}

func TestRSIBounds(t *testing.T) {
	closes := []float64{44, 47, 45, 50, 48, 52, 49, 55, 53, 58, 56, 60, 57, 62, 59, 64}
	values, err := indicators.RSI(closes, 14)
	if err != nil {
		t.Fatalf("RSI failed: %v", err)
	}
	if len(values) != len(closes)-14 {
		t.Fatalf("Expected %d values, got %d", len(closes)-14, len(values))
	}
	for i, v := range values {
		if v < 0 || v > 100 {
			t.Errorf("RSI[%d] = %f out of [0,100]", i, v)
		}
	}
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	values, err := indicators.RSI(closes, 14)
	if err != nil {
		t.Fatalf("RSI failed: %v", err)
	}
	for i, v := range values {
		if v != 100 {
			t.Errorf("RSI[%d] = %f, want 100 for monotone gains", i, v)
		}
	}
}

// Memoisation contract: the same window must yield the same slice, and
// replacing the window must invalidate it.
func TestCalculatorMemoization(t *testing.T) {
	calc := indicators.NewCalculator()
	calc.SetWindow(barsFromCloses(1, 2, 3, 4, 5, 6))

	first, err := calc.SMA(3)
	if err != nil {
		t.Fatalf("SMA failed: %v", err)
	}
	second, err := calc.SMA(3)
	if err != nil {
		t.Fatalf("SMA failed: %v", err)
	}
	if &first[0] != &second[0] {
		t.Error("Repeated SMA call did not return the cached slice")
	}

	calc.SetWindow(barsFromCloses(6, 5, 4, 3, 2, 1))
	third, err := calc.SMA(3)
	if err != nil {
		t.Fatalf("SMA failed: %v", err)
	}
	if &first[0] == &third[0] {
		t.Error("Cache survived a window replacement")
	}
}

func TestBollinger(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 10}
	bands, err := indicators.Bollinger(closes, 5, 2)
	if err != nil {
		t.Fatalf("Bollinger failed: %v", err)
	}
	if len(bands) != 1 {
		t.Fatalf("Expected 1 band, got %d", len(bands))
	}
	b := bands[0]
	if b.Middle != 10 || b.Upper != 10 || b.Lower != 10 {
		t.Errorf("Flat series should collapse the bands, got %+v", b)
	}
}
